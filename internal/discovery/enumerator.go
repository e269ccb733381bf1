// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// SerialEnumerator enumerates the host's serial ports
type SerialEnumerator struct{}

// Ports lists serial ports with their USB product string and hardware id
func (SerialEnumerator) Ports() ([]PortDescriptor, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortDescriptor, 0, len(details))
	for _, d := range details {
		ports = append(ports, describe(d))
	}
	return ports, nil
}

func describe(d *enumerator.PortDetails) PortDescriptor {
	p := PortDescriptor{Name: d.Name, Description: "n/a", HWID: "n/a"}
	if !d.IsUSB {
		return p
	}

	if d.Product != "" {
		p.Description = d.Product
	}

	hwid := fmt.Sprintf("USB VID:PID=%s:%s", strings.ToUpper(d.VID), strings.ToUpper(d.PID))
	if d.SerialNumber != "" {
		hwid += " SER=" + d.SerialNumber
	}
	p.HWID = hwid
	return p
}
