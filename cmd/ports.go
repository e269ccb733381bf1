// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/civbridge/internal/config"
	"github.com/Thermoquad/civbridge/internal/discovery"
	"github.com/Thermoquad/civbridge/internal/transceiver"
	"github.com/Thermoquad/civbridge/pkg/civ"
)

var (
	portsQuery   bool
	portsTimeout int
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and the transceiver discovery would select",
	Long: `List the serial ports of the host with their description and hardware id,
and mark the port the bridge would open.

With --query the selected port is opened and the transceiver is asked for its
frequency to confirm the CI-V link works.

Exit codes:
  0 - Transceiver found (and answered, with --query)
  1 - No transceiver found or no answer
  2 - Port error`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsQuery, "query", false, "Query the selected transceiver")
	portsCmd.Flags().IntVar(&portsTimeout, "timeout", 2, "Query timeout in seconds")
}

func runPorts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ports, err := discovery.SerialEnumerator{}.Ports()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list ports: %v\n", err)
		os.Exit(2)
	}

	target, found, err := selectTarget(cfg, ports, runtime.GOOS)
	if err != nil {
		return err
	}

	fmt.Printf("civbridge - Serial Ports\n\n")
	printPorts(os.Stdout, ports, target, found)

	if !found {
		fmt.Printf("No supported transceiver found (supported: %s)\n", supportedModels())
		os.Exit(1)
	}

	if !portsQuery {
		return nil
	}

	cfg.Serial.Port = target.Port.Name
	cfg.Serial.Model = target.Profile.Name
	hz, err := queryFrequency(cfg, serialOpener(cfg), time.Duration(portsTimeout)*time.Second)
	if err != nil {
		fmt.Printf("Query failed: %v\n", err)
		if errors.Is(err, errNoAnswer) {
			os.Exit(1)
		}
		os.Exit(2)
	}
	fmt.Printf("Query OK: %s\n", civ.FormatFrequency(hz))
	return nil
}

// selectTarget returns the port the bridge would open: the forced port when
// one is configured, the discovery match among ports otherwise
func selectTarget(cfg *config.Config, ports []discovery.PortDescriptor, goos string) (discovery.Target, bool, error) {
	if cfg.Serial.Port == "" {
		target, found := discovery.Match(ports, goos)
		return target, found, nil
	}

	enum, _, err := resolveEnumerator(cfg)
	if err != nil {
		return discovery.Target{}, false, err
	}
	target, err := discovery.Discover(enum)
	if err != nil {
		return discovery.Target{}, false, nil
	}
	return target, true, nil
}

// printPorts lists ports, marking the selected one with '*'
func printPorts(w io.Writer, ports []discovery.PortDescriptor, target discovery.Target, found bool) {
	if len(ports) == 0 {
		fmt.Fprintf(w, "  (no serial ports)\n")
	}
	for _, p := range ports {
		marker := " "
		if found && p.Name == target.Port.Name {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-20s %-30s %s\n", marker, p.Name, p.Description, p.HWID)
	}
	fmt.Fprintln(w)

	if found {
		fmt.Fprintf(w, "Selected: %s on %s (CI-V address 0x%02X)\n",
			target.Profile.Name, target.Port.Name, target.Profile.Address)
	}
}

var errNoAnswer = errors.New("no answer from transceiver")

// queryFrequency sends one read-frequency command and waits for the reply
func queryFrequency(cfg *config.Config, open transceiver.Opener, timeout time.Duration) (int64, error) {
	port, target, err := openTransceiver(cfg, open)
	if err != nil {
		return 0, err
	}
	defer port.Close()

	if _, err := port.Write(civ.ReadFrequencyCommand(target.Profile.Address)); err != nil {
		return 0, fmt.Errorf("failed to send command: %w", err)
	}

	splitter := civ.NewSplitter()
	buf := make([]byte, cfg.Serial.ReadSize)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("read failed: %w", err)
		}
		for _, frame := range splitter.Feed(buf[:n]) {
			if u, ok := civ.DecodeFrame(frame); ok && u.Field == civ.FieldFrequency {
				return u.Frequency, nil
			}
		}
	}
	return 0, errNoAnswer
}
