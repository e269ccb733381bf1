// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transceiver

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is an open transceiver link. Read must return within a bounded time;
// a read that times out returns 0 bytes and a nil error.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens the named port
type Opener func(name string) (Port, error)

// SerialPort wraps a serial port
type SerialPort struct {
	port serial.Port
}

func (s *SerialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}

// OpenSerialPort opens a serial port at baudRate, 8N1, with reads bounded by
// readTimeout
func OpenSerialPort(name string, baudRate int, readTimeout time.Duration) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	return &SerialPort{port: port}, nil
}

// SerialOpener returns an Opener for serial ports with fixed settings
func SerialOpener(baudRate int, readTimeout time.Duration) Opener {
	return func(name string) (Port, error) {
		return OpenSerialPort(name, baudRate, readTimeout)
	}
}
