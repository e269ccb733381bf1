// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package civ implements the Icom CI-V serial control protocol.
//
// A CI-V frame starts with the two byte preamble FE FE, carries the
// destination and source bus addresses and a command byte, and ends with
// the terminator FD:
//
//	FE FE <to> <from> <cmd> [<sub>] [<data>...] FD
//
// This package provides frame extraction from a byte stream, decoding of
// the frequency and mode commands, command builders for polling a
// transceiver, a human-readable formatter and a capture file format.
package civ

// Protocol framing bytes
const (
	PreambleByte   = 0xFE
	TerminatorByte = 0xFD
)

// Bus addresses
const (
	// ControllerAddress is the default address of a PC controller on the bus.
	ControllerAddress = 0xE0
	// BroadcastAddress is used by transceivers for transceive (unsolicited) frames.
	BroadcastAddress = 0x00
)

// Frame layout
const (
	// MaxFrameSize bounds a frame. A buffer growing past it without a
	// terminator is treated as a desynchronized stream and discarded.
	MaxFrameSize = 1024

	offsetTo      = 2
	offsetFrom    = 3
	offsetCommand = 4
	offsetData    = 5

	// minFrameSize is preamble + to + from + cmd + terminator
	minFrameSize = 6
)

// Command identifiers
const (
	CmdFrequencyChanged = 0x00 // Transceive: operating frequency changed
	CmdModeChanged      = 0x01 // Transceive: operating mode changed
	CmdReadFrequency    = 0x03 // Read operating frequency (also the reply)
	CmdReadMode         = 0x04 // Read operating mode (also the reply)
	CmdOK               = 0xFB
	CmdNG               = 0xFA
)

// frequencyDigitBytes is the number of packed BCD bytes carrying a frequency
const frequencyDigitBytes = 5

// Profile describes a supported transceiver model.
type Profile struct {
	Name    string
	Address byte
}

// Profiles is the table of supported transceivers in match priority order.
var Profiles = []Profile{
	{Name: "IC-705", Address: 0xA4},
	{Name: "IC-7300", Address: 0x94},
	{Name: "IC-9700", Address: 0xA2},
}

// LookupProfile returns the profile with the given model name.
func LookupProfile(name string) (Profile, bool) {
	for _, p := range Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// ProfileByAddress returns the profile whose CI-V address is addr.
func ProfileByAddress(addr byte) (Profile, bool) {
	for _, p := range Profiles {
		if p.Address == addr {
			return p, true
		}
	}
	return Profile{}, false
}

// Operating mode codes
const (
	ModeLSB   = 0x00
	ModeUSB   = 0x01
	ModeAM    = 0x02
	ModeCW    = 0x03
	ModeRTTY  = 0x04
	ModeFM    = 0x05
	ModeWFM   = 0x06
	ModeCWR   = 0x07
	ModeRTTYR = 0x08
	ModeSAM   = 0x11
	ModePSK   = 0x12
	ModeP25   = 0x16
	ModeDV    = 0x17
)

var modeNames = map[byte]string{
	ModeLSB:   "LSB",
	ModeUSB:   "USB",
	ModeAM:    "AM",
	ModeCW:    "CW",
	ModeRTTY:  "RTTY",
	ModeFM:    "FM",
	ModeWFM:   "WFM",
	ModeCWR:   "CW-R",
	ModeRTTYR: "RTTY-R",
	ModeSAM:   "SAM",
	ModePSK:   "PSK",
	ModeP25:   "P25",
	ModeDV:    "DV",
}
