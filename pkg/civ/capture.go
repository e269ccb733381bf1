// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package civ

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured frame relative to the controller
type Direction uint8

// Direction values
const (
	DirectionRx Direction = 0
	DirectionTx Direction = 1
)

func (d Direction) String() string {
	if d == DirectionTx {
		return "TX"
	}
	return "RX"
}

// CaptureRecord is one frame in a capture file. Capture files are a CBOR
// sequence of records (RFC 8742), one per frame.
type CaptureRecord struct {
	Timestamp int64     `cbor:"0,keyasint"` // Unix nanoseconds
	Direction Direction `cbor:"1,keyasint"`
	Frame     []byte    `cbor:"2,keyasint"`
}

// Time returns the record timestamp
func (r CaptureRecord) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

// CaptureWriter appends frames to a capture stream
type CaptureWriter struct {
	enc   *cbor.Encoder
	count int
}

// NewCaptureWriter creates a capture writer on w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: cbor.NewEncoder(w)}
}

// Write records a frame
func (c *CaptureWriter) Write(ts time.Time, dir Direction, frame []byte) error {
	rec := CaptureRecord{Timestamp: ts.UnixNano(), Direction: dir, Frame: frame}
	if err := c.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode capture record: %w", err)
	}
	c.count++
	return nil
}

// Count returns the number of records written
func (c *CaptureWriter) Count() int {
	return c.count
}

// CaptureReader reads frames back from a capture stream
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a capture reader on r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (c *CaptureReader) Next() (CaptureRecord, error) {
	var rec CaptureRecord
	if err := c.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return CaptureRecord{}, io.EOF
		}
		return CaptureRecord{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	return rec, nil
}

// ReadAll reads every remaining record
func (c *CaptureReader) ReadAll() ([]CaptureRecord, error) {
	var records []CaptureRecord
	for {
		rec, err := c.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
