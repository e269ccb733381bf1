// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transceiver

import (
	"time"

	"github.com/Thermoquad/civbridge/pkg/civ"
	"github.com/Thermoquad/civbridge/pkg/status"
)

// ReplayedEvent is a status event derived from a captured frame
type ReplayedEvent struct {
	Time  time.Time
	Event status.Event
}

// Replayer derives the status events a session would have emitted from
// captured frames. Transmitted frames are ignored. The transceiver name is
// taken from the sender address of the first received frame of a known
// model.
type Replayer struct {
	tracker Tracker
	name    string
}

// Feed processes one captured record
func (r *Replayer) Feed(rec civ.CaptureRecord) []ReplayedEvent {
	if rec.Direction != civ.DirectionRx {
		return nil
	}

	ts := rec.Time()
	var out []ReplayedEvent

	if addr, ok := civ.Sender(rec.Frame); ok {
		if p, ok := civ.ProfileByAddress(addr); ok && p.Name != r.name {
			r.name = p.Name
			r.tracker.Reset()
			out = append(out, ReplayedEvent{Time: ts, Event: status.NameEvent(p.Name)})
		}
	}

	if u, ok := civ.DecodeFrame(rec.Frame); ok {
		if e, changed := r.tracker.Apply(u); changed {
			out = append(out, ReplayedEvent{Time: ts, Event: e})
		}
	}
	return out
}

// ReplayAll derives the events of a whole capture
func ReplayAll(records []civ.CaptureRecord) []ReplayedEvent {
	var r Replayer
	var out []ReplayedEvent
	for _, rec := range records {
		out = append(out, r.Feed(rec)...)
	}
	return out
}
