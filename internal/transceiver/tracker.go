// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transceiver

import (
	"github.com/Thermoquad/civbridge/pkg/civ"
	"github.com/Thermoquad/civbridge/pkg/status"
)

// Tracker holds the last known frequency and mode and turns decoded updates
// into events. A value is only overwritten, and an event only produced,
// when it differs from the held value.
type Tracker struct {
	frequency    int64
	hasFrequency bool
	mode         string
	hasMode      bool
}

// Apply folds an update into the tracker
func (t *Tracker) Apply(u civ.Update) (status.Event, bool) {
	switch u.Field {
	case civ.FieldFrequency:
		if t.hasFrequency && t.frequency == u.Frequency {
			return status.Event{}, false
		}
		t.frequency, t.hasFrequency = u.Frequency, true
		return status.FrequencyEvent(u.Frequency), true

	case civ.FieldMode:
		if t.hasMode && t.mode == u.Mode {
			return status.Event{}, false
		}
		t.mode, t.hasMode = u.Mode, true
		return status.ModeEvent(u.Mode), true
	}
	return status.Event{}, false
}

// Frequency returns the held frequency
func (t *Tracker) Frequency() (int64, bool) {
	return t.frequency, t.hasFrequency
}

// Mode returns the held mode
func (t *Tracker) Mode() (string, bool) {
	return t.mode, t.hasMode
}

// Reset forgets both values
func (t *Tracker) Reset() {
	*t = Tracker{}
}
