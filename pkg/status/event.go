// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package status defines the transceiver state-change events streamed from
// the bridge to the status aggregator, and their wire format.
//
// Each event is a flat JSON object followed by the 0xFD delimiter:
//
//	{"frequency":7074000}<FD>{"mode":"USB"}<FD>
//
// The receiving side reassembles segments with the same delimiter and
// overflow rules as CI-V frame extraction.
package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Thermoquad/civbridge/pkg/civ"
)

// Delimiter terminates every event on the wire
const Delimiter = civ.TerminatorByte

// Wire field names
const (
	FieldName        = "name"
	FieldFrequency   = "frequency"
	FieldMode        = "mode"
	FieldTransceiver = "transceiver"
)

// NotFoundValue is the only value carried by the transceiver field
const NotFoundValue = "not found"

// Kind identifies what changed
type Kind string

// Event kinds
const (
	KindName      Kind = "name"
	KindFrequency Kind = "frequency"
	KindMode      Kind = "mode"
	KindNotFound  Kind = "not-found"
)

// ErrUnknownEvent is returned when a segment carries none of the event fields
var ErrUnknownEvent = errors.New("unrecognized event")

// Event is a single transceiver state change. Only the field matching Kind
// is meaningful.
type Event struct {
	Kind      Kind
	Name      string
	Frequency int64
	Mode      string
}

// NameEvent reports the connected transceiver model
func NameEvent(name string) Event {
	return Event{Kind: KindName, Name: name}
}

// FrequencyEvent reports a new operating frequency in Hz
func FrequencyEvent(hz int64) Event {
	return Event{Kind: KindFrequency, Frequency: hz}
}

// ModeEvent reports a new operating mode
func ModeEvent(mode string) Event {
	return Event{Kind: KindMode, Mode: mode}
}

// NotFoundEvent reports that no transceiver was discovered
func NotFoundEvent() Event {
	return Event{Kind: KindNotFound}
}

func (e Event) String() string {
	switch e.Kind {
	case KindName:
		return fmt.Sprintf("name=%s", e.Name)
	case KindFrequency:
		return fmt.Sprintf("frequency=%d", e.Frequency)
	case KindMode:
		return fmt.Sprintf("mode=%s", e.Mode)
	case KindNotFound:
		return "transceiver=not found"
	default:
		return string(e.Kind)
	}
}

// MarshalJSON encodes the event as a single-field object
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindName:
		return json.Marshal(map[string]string{FieldName: e.Name})
	case KindFrequency:
		return json.Marshal(map[string]int64{FieldFrequency: e.Frequency})
	case KindMode:
		return json.Marshal(map[string]string{FieldMode: e.Mode})
	case KindNotFound:
		return json.Marshal(map[string]string{FieldTransceiver: NotFoundValue})
	default:
		return nil, fmt.Errorf("cannot encode event kind %q", e.Kind)
	}
}

// UnmarshalJSON decodes a single-field object. The first recognized field
// in name, frequency, mode, transceiver order determines the kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if raw, ok := fields[FieldName]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return fmt.Errorf("invalid %s: %w", FieldName, err)
		}
		*e = NameEvent(name)
		return nil
	}
	if raw, ok := fields[FieldFrequency]; ok {
		hz, err := decodeFrequency(raw)
		if err != nil {
			return err
		}
		*e = FrequencyEvent(hz)
		return nil
	}
	if raw, ok := fields[FieldMode]; ok {
		var mode string
		if err := json.Unmarshal(raw, &mode); err != nil {
			return fmt.Errorf("invalid %s: %w", FieldMode, err)
		}
		*e = ModeEvent(mode)
		return nil
	}
	if _, ok := fields[FieldTransceiver]; ok {
		*e = NotFoundEvent()
		return nil
	}
	return ErrUnknownEvent
}

// decodeFrequency accepts integral JSON numbers, including ones written
// with a fractional part of zero
func decodeFrequency(raw json.RawMessage) (int64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", FieldFrequency, err)
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("invalid %s: %v is not an integer", FieldFrequency, f)
	}
	return int64(f), nil
}

// Encode returns the wire form of an event: JSON followed by the delimiter
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return append(data, Delimiter), nil
}

// Decode parses one segment, with or without its trailing delimiter
func Decode(segment []byte) (Event, error) {
	segment = bytes.TrimSuffix(segment, []byte{Delimiter})
	var e Event
	if err := json.Unmarshal(segment, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return e, nil
}
