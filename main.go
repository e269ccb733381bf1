// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// civbridge - Icom CI-V transceiver status bridge
//
// Streams the frequency and operating mode of an Icom transceiver to an
// aggregator that serves the device status and records the receive audio.

package main

import (
	"os"

	"github.com/Thermoquad/civbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
