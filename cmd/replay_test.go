// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/civbridge/internal/logging"
	"github.com/Thermoquad/civbridge/pkg/civ"
	"github.com/Thermoquad/civbridge/pkg/status"
)

func captureRecords() []civ.CaptureRecord {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC).UnixNano()
	return []civ.CaptureRecord{
		{Timestamp: ts, Direction: civ.DirectionTx, Frame: civ.ReadFrequencyCommand(0xA4)},
		{Timestamp: ts + 1e6, Direction: civ.DirectionRx, Frame: civ.FrequencyReply(0xA4, 7050000)},
		{Timestamp: ts + 2e6, Direction: civ.DirectionRx, Frame: civ.ModeReply(0xA4, 0x01, 1)},
		// Unchanged value
		{Timestamp: ts + 3e6, Direction: civ.DirectionRx, Frame: civ.ModeReply(0xA4, 0x01, 1)},
	}
}

func TestReplayRecords(t *testing.T) {
	var out bytes.Buffer
	events := replayRecords(&out, captureRecords(), false)

	assert.Equal(t, []status.Event{
		status.NameEvent("IC-705"),
		status.FrequencyEvent(7050000),
		status.ModeEvent("USB"),
	}, events)
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("EVENT")))
	assert.NotContains(t, out.String(), "TX [")
}

func TestReplayRecords_Frames(t *testing.T) {
	var out bytes.Buffer
	replayRecords(&out, captureRecords(), true)

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("TX [")))
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("RX [")))
}

func TestPublishEvents(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	want := []status.Event{
		status.NameEvent("IC-705"),
		status.FrequencyEvent(7050000),
		status.ModeEvent("USB"),
	}

	received := make(chan []status.Event, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := status.NewReassembler()
		var got []status.Event
		buf := make([]byte, 64)
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for len(got) < len(want) {
			n, err := conn.Read(buf)
			if err != nil {
				break
			}
			for _, seg := range r.Feed(buf[:n]) {
				if e, err := status.Decode(seg); err == nil {
					got = append(got, e)
				}
			}
		}
		received <- got
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, publishEvents(ctx, logging.Discard(), ln.Addr().String(), want))

	select {
	case got := <-received:
		assert.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatal("aggregator did not receive the events")
	}
}

func TestPublishEvents_Interrupted(t *testing.T) {
	// Reserve an address with nothing listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = publishEvents(ctx, logging.Discard(), addr, []status.Event{status.NotFoundEvent()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 events unsent")
}
