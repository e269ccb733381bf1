// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package civ

import (
	"strconv"
	"strings"
)

// Field identifies which transceiver property a frame updates
type Field int

// Field values
const (
	FieldNone Field = iota
	FieldFrequency
	FieldMode
)

func (f Field) String() string {
	switch f {
	case FieldFrequency:
		return "frequency"
	case FieldMode:
		return "mode"
	default:
		return "none"
	}
}

// Update is the semantic content extracted from a frame
type Update struct {
	Field     Field
	Command   byte
	Frequency int64  // Hz, valid when Field == FieldFrequency
	Mode      string // valid when Field == FieldMode
	Filter    byte   // filter setting that follows the mode byte, 0 if absent
}

// Command returns the command byte of a frame, or false when the frame is
// too short or lacks the preamble.
func Command(frame []byte) (byte, bool) {
	if len(frame) <= offsetCommand || !HasPreamble(frame) {
		return 0, false
	}
	return frame[offsetCommand], true
}

// Sender returns the source address of a frame
func Sender(frame []byte) (byte, bool) {
	if len(frame) <= offsetFrom || !HasPreamble(frame) {
		return 0, false
	}
	return frame[offsetFrom], true
}

// DecodeFrame extracts a frequency or mode update from a complete frame.
// Frames without the preamble, frames too short to carry their payload and
// commands other than frequency/mode yield false.
func DecodeFrame(frame []byte) (Update, bool) {
	cmd, ok := Command(frame)
	if !ok {
		return Update{}, false
	}

	switch cmd {
	case CmdFrequencyChanged, CmdReadFrequency:
		freq, ok := DecodeFrequency(frame)
		if !ok {
			return Update{}, false
		}
		return Update{Field: FieldFrequency, Command: cmd, Frequency: freq}, true

	case CmdModeChanged, CmdReadMode:
		if len(frame) < offsetData+2 {
			return Update{}, false
		}
		u := Update{Field: FieldMode, Command: cmd, Mode: ModeName(frame[offsetData])}
		if len(frame) > offsetData+2 {
			u.Filter = frame[offsetData+1]
		}
		return u, true
	}

	return Update{}, false
}

// DecodeFrequency decodes the packed BCD frequency carried by a frequency
// frame. The five bytes following the command hold two decimal digits each,
// least significant pair first. The pairs are reversed, concatenated as hex
// digits, stripped of leading zeros and parsed as a decimal number of Hz.
//
//	FE FE E0 A4 03 89 67 45 23 01 FD -> "0123456789" -> 123456789
func DecodeFrequency(frame []byte) (int64, bool) {
	if len(frame) < offsetData+frequencyDigitBytes+1 {
		return 0, false
	}

	const hexDigits = "0123456789abcdef"
	var sb strings.Builder
	sb.Grow(frequencyDigitBytes * 2)
	for i := offsetData + frequencyDigitBytes - 1; i >= offsetData; i-- {
		b := frame[i]
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0F])
	}

	digits := strings.TrimLeft(sb.String(), "0")
	if digits == "" {
		return 0, false
	}
	freq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return freq, true
}

// EncodeFrequency packs a frequency in Hz into the five byte BCD form used
// by frequency frames. Digits above the tenth are dropped.
func EncodeFrequency(hz int64) []byte {
	out := make([]byte, frequencyDigitBytes)
	if hz < 0 {
		hz = 0
	}
	for i := 0; i < frequencyDigitBytes; i++ {
		lo := byte(hz % 10)
		hz /= 10
		hi := byte(hz % 10)
		hz /= 10
		out[i] = hi<<4 | lo
	}
	return out
}

// ModeName returns the display name of a mode code; unknown codes are
// rendered as their decimal value.
func ModeName(code byte) string {
	if name, ok := modeNames[code]; ok {
		return name
	}
	return strconv.Itoa(int(code))
}

// ModeCode returns the code for a mode name
func ModeCode(name string) (byte, bool) {
	for code, n := range modeNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}
