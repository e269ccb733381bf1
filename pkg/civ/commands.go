// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package civ

// Command builders produce complete wire frames ready to be written to the
// serial port. The controller address is always ControllerAddress.

// BuildFrame wraps a command and optional data into a frame addressed from
// the controller to the given transceiver address.
func BuildFrame(to byte, cmd byte, data ...byte) []byte {
	frame := make([]byte, 0, minFrameSize+len(data))
	frame = append(frame, PreambleByte, PreambleByte, to, ControllerAddress, cmd)
	frame = append(frame, data...)
	return append(frame, TerminatorByte)
}

// ReadFrequencyCommand builds the "read operating frequency" request:
// FE FE <addr> E0 03 FD
func ReadFrequencyCommand(addr byte) []byte {
	return BuildFrame(addr, CmdReadFrequency)
}

// ReadModeCommand builds the "read operating mode" request:
// FE FE <addr> E0 04 FD
func ReadModeCommand(addr byte) []byte {
	return BuildFrame(addr, CmdReadMode)
}

// FrequencyReply builds the frame a transceiver at addr sends in reply to a
// frequency read. Used by tests and the capture tooling.
func FrequencyReply(addr byte, hz int64) []byte {
	frame := make([]byte, 0, minFrameSize+frequencyDigitBytes)
	frame = append(frame, PreambleByte, PreambleByte, ControllerAddress, addr, CmdReadFrequency)
	frame = append(frame, EncodeFrequency(hz)...)
	return append(frame, TerminatorByte)
}

// ModeReply builds the frame a transceiver at addr sends in reply to a mode read
func ModeReply(addr byte, mode, filter byte) []byte {
	return []byte{PreambleByte, PreambleByte, ControllerAddress, addr, CmdReadMode, mode, filter, TerminatorByte}
}
