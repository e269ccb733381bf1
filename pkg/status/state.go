// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"encoding/json"
	"fmt"
)

// DeviceState is the aggregator's view of the transceiver
type DeviceState struct {
	Name      string `json:"transceiver"`
	Frequency int64  `json:"frequency"`
	Mode      string `json:"mode"`
}

// Merge applies the recognized fields of one segment (name, mode,
// frequency) to the state. Unrecognized fields are ignored. It returns the
// names of the fields that were present. On error the state is unchanged.
func (d *DeviceState) Merge(segment []byte) ([]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(segment, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse segment: %w", err)
	}

	next := *d
	var applied []string

	if raw, ok := fields[FieldName]; ok {
		if err := json.Unmarshal(raw, &next.Name); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", FieldName, err)
		}
		applied = append(applied, FieldName)
	}
	if raw, ok := fields[FieldMode]; ok {
		if err := json.Unmarshal(raw, &next.Mode); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", FieldMode, err)
		}
		applied = append(applied, FieldMode)
	}
	if raw, ok := fields[FieldFrequency]; ok {
		hz, err := decodeFrequency(raw)
		if err != nil {
			return nil, err
		}
		next.Frequency = hz
		applied = append(applied, FieldFrequency)
	}

	*d = next
	return applied, nil
}

// Apply folds a decoded event into the state
func (d *DeviceState) Apply(e Event) {
	switch e.Kind {
	case KindName:
		d.Name = e.Name
	case KindFrequency:
		d.Frequency = e.Frequency
	case KindMode:
		d.Mode = e.Mode
	}
}
