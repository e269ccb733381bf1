// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package civ

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a frame received at ts into a human-readable string
func FormatFrame(ts time.Time, frame []byte) string {
	timestamp := ts.Format("15:04:05.000")

	cmd, ok := Command(frame)
	if !ok {
		return fmt.Sprintf("[%s] INVALID len=%d\n%s", timestamp, len(frame), FormatHex(frame))
	}

	result := fmt.Sprintf("[%s] %s (0x%02X) to=%s from=%s len=%d\n",
		timestamp, FormatCommand(cmd), cmd,
		FormatAddress(frame[offsetTo]), FormatAddress(frame[offsetFrom]), len(frame))

	if u, ok := DecodeFrame(frame); ok {
		switch u.Field {
		case FieldFrequency:
			result += fmt.Sprintf("  Frequency: %s\n", FormatFrequency(u.Frequency))
		case FieldMode:
			result += fmt.Sprintf("  Mode: %s, Filter: %d\n", u.Mode, u.Filter)
		}
		return result
	}

	return result + FormatHex(frame)
}

// FormatCommand returns the human-readable name for a command byte
func FormatCommand(cmd byte) string {
	switch cmd {
	case CmdFrequencyChanged:
		return "FREQUENCY_CHANGED"
	case CmdModeChanged:
		return "MODE_CHANGED"
	case CmdReadFrequency:
		return "READ_FREQUENCY"
	case CmdReadMode:
		return "READ_MODE"
	case CmdOK:
		return "OK"
	case CmdNG:
		return "NG"
	default:
		return "UNKNOWN"
	}
}

// FormatAddress renders a bus address, naming known transceivers
func FormatAddress(addr byte) string {
	switch addr {
	case ControllerAddress:
		return "controller"
	case BroadcastAddress:
		return "broadcast"
	}
	for _, p := range Profiles {
		if p.Address == addr {
			return p.Name
		}
	}
	return fmt.Sprintf("0x%02X", addr)
}

// FormatFrequency renders a frequency in Hz as MHz with kHz grouping,
// e.g. 7050000 -> "7.050.000 MHz"
func FormatFrequency(hz int64) string {
	mhz := hz / 1_000_000
	khz := (hz / 1000) % 1000
	rem := hz % 1000
	return fmt.Sprintf("%d.%03d.%03d MHz", mhz, khz, rem)
}

// FormatHex renders bytes as a space separated hex dump, 16 per line
func FormatHex(data []byte) string {
	var sb strings.Builder
	sb.WriteString("  Bytes: ")
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n         ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}
