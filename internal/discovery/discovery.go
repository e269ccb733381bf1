// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package discovery finds a supported transceiver among the serial ports of
// the host.
package discovery

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/Thermoquad/civbridge/pkg/civ"
)

// ErrNotFound is returned when no port matches a supported transceiver
var ErrNotFound = errors.New("no supported transceiver found")

// PortDescriptor is one entry of a serial port enumeration
type PortDescriptor struct {
	Name        string // device path, e.g. /dev/ttyUSB0 or COM3
	Description string
	HWID        string
}

// Target is a port matched to a transceiver profile
type Target struct {
	Port    PortDescriptor
	Profile civ.Profile
}

// Enumerator lists the serial ports currently present
type Enumerator interface {
	Ports() ([]PortDescriptor, error)
}

// EnumeratorFunc adapts a function to the Enumerator interface
type EnumeratorFunc func() ([]PortDescriptor, error)

// Ports calls f
func (f EnumeratorFunc) Ports() ([]PortDescriptor, error) {
	return f()
}

// candidateMarker returns the description substring that marks a CI-V
// capable port on the given OS. Windows drivers expose "CI-V" in the
// description; elsewhere the USB product string carries the model name.
func candidateMarker(goos string) string {
	if goos == "windows" {
		return "CI-V"
	}
	return "IC-"
}

// IsCandidate reports whether the port description looks like a transceiver
func IsCandidate(p PortDescriptor, goos string) bool {
	return strings.Contains(p.Description, candidateMarker(goos))
}

// MatchProfile returns the first profile, in table order, whose name occurs
// in the port description
func MatchProfile(p PortDescriptor) (civ.Profile, bool) {
	for _, profile := range civ.Profiles {
		if strings.Contains(p.Description, profile.Name) {
			return profile, true
		}
	}
	return civ.Profile{}, false
}

// Match selects the first qualifying port. Ports are considered in name
// order so the result does not depend on enumeration order.
func Match(ports []PortDescriptor, goos string) (Target, bool) {
	sorted := make([]PortDescriptor, len(ports))
	copy(sorted, ports)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	for _, p := range sorted {
		if !IsCandidate(p, goos) {
			continue
		}
		if profile, ok := MatchProfile(p); ok {
			return Target{Port: p, Profile: profile}, true
		}
	}
	return Target{}, false
}

// Discover enumerates ports once and returns the matching transceiver
func Discover(e Enumerator) (Target, error) {
	ports, err := e.Ports()
	if err != nil {
		return Target{}, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	target, ok := Match(ports, runtime.GOOS)
	if !ok {
		return Target{}, ErrNotFound
	}
	return target, nil
}

// Fixed returns an Enumerator reporting a single port with the given
// model, used when the port is forced by configuration
func Fixed(port string, profile civ.Profile) Enumerator {
	return EnumeratorFunc(func() ([]PortDescriptor, error) {
		return []PortDescriptor{{
			Name:        port,
			Description: candidateMarker(runtime.GOOS) + " " + profile.Name,
		}}, nil
	})
}
