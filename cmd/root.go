// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/civbridge/internal/config"
	"github.com/Thermoquad/civbridge/internal/logging"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName  string
	modelName string
	baudRate  int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "civbridge",
	Short: "Icom CI-V transceiver status bridge",
	Long: `civbridge - Bridge an Icom transceiver's CI-V port to a status socket.

The bridge discovers a supported transceiver (IC-705, IC-7300, IC-9700) on
the serial ports, polls its frequency and operating mode, and streams every
change to the aggregator as JSON events. The aggregator merges the events
into the device status and serves it over HTTP and websocket together with
audio recording controls.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--model IC-705] [--baud 19200]
  WebSocket: --url ws://host:8000/ws [--username user]

Configuration is read from --config (YAML), then CIVBRIDGE_* environment
variables, then command line flags. For websocket authentication the password
is read from the CIVBRIDGE_PASSWORD environment variable, or prompted
interactively if not set.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (skips discovery)")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Transceiver model on --port")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Aggregator websocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies the command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	}
	if flags.Changed("model") {
		cfg.Serial.Model = modelName
	}
	if flags.Changed("baud") {
		cfg.Serial.BaudRate = baudRate
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command line: %w", err)
	}
	return cfg, nil
}

// setupLogger creates the service logger and installs it as the default
func setupLogger(cfg *config.Config, service string) (*slog.Logger, io.Closer) {
	logger, closer := logging.New(cfg.Log, service)
	slog.SetDefault(logger)
	return logger, closer
}
