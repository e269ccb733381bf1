// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package civ

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestCapture_WriteRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewCaptureWriter(&buf)

	start := time.Unix(1700000000, 123456789)
	frames := [][]byte{
		ReadFrequencyCommand(0xA4),
		FrequencyReply(0xA4, 7074000),
		ModeReply(0xA4, ModeUSB, 1),
	}
	dirs := []Direction{DirectionTx, DirectionRx, DirectionRx}

	for i, f := range frames {
		if err := w.Write(start.Add(time.Duration(i)*time.Millisecond), dirs[i], f); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if w.Count() != len(frames) {
		t.Errorf("Expected count %d, got %d", len(frames), w.Count())
	}

	records, err := NewCaptureReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != len(frames) {
		t.Fatalf("Expected %d records, got %d", len(frames), len(records))
	}
	for i, rec := range records {
		if !bytes.Equal(rec.Frame, frames[i]) {
			t.Errorf("Record %d frame mismatch: % X", i, rec.Frame)
		}
		if rec.Direction != dirs[i] {
			t.Errorf("Record %d direction mismatch: %v", i, rec.Direction)
		}
		if want := start.Add(time.Duration(i) * time.Millisecond); !rec.Time().Equal(want) {
			t.Errorf("Record %d time mismatch: %v != %v", i, rec.Time(), want)
		}
	}
}

func TestCapture_EmptyStream(t *testing.T) {
	r := NewCaptureReader(bytes.NewReader(nil))
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestCapture_Corrupt(t *testing.T) {
	r := NewCaptureReader(bytes.NewReader([]byte{0xFF, 0x00, 0x13}))
	if _, err := r.Next(); err == nil || err == io.EOF {
		t.Errorf("Expected decode error, got %v", err)
	}
}
