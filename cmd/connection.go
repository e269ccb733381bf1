// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/civbridge/internal/aggregator"
	"github.com/Thermoquad/civbridge/internal/config"
	"github.com/Thermoquad/civbridge/internal/discovery"
	"github.com/Thermoquad/civbridge/internal/transceiver"
	"github.com/Thermoquad/civbridge/pkg/civ"
)

// supportedModels lists the profile names for error messages
func supportedModels() string {
	names := make([]string, len(civ.Profiles))
	for i, p := range civ.Profiles {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

// resolveEnumerator returns the port source for the session: the forced
// port when one is configured, serial discovery otherwise
func resolveEnumerator(cfg *config.Config) (discovery.Enumerator, string, error) {
	if cfg.Serial.Port == "" {
		return discovery.SerialEnumerator{}, "discovery", nil
	}

	if cfg.Serial.Model == "" {
		return nil, "", fmt.Errorf("--port requires --model (one of %s)", supportedModels())
	}
	profile, ok := civ.LookupProfile(cfg.Serial.Model)
	if !ok {
		return nil, "", fmt.Errorf("unknown model %q (supported: %s)", cfg.Serial.Model, supportedModels())
	}
	return discovery.Fixed(cfg.Serial.Port, profile), fmt.Sprintf("%s on %s", profile.Name, cfg.Serial.Port), nil
}

// serialOpener opens ports with the configured line settings
func serialOpener(cfg *config.Config) transceiver.Opener {
	return transceiver.SerialOpener(cfg.Serial.BaudRate, cfg.Serial.ReadTimeout)
}

// openTransceiver finds the transceiver once and opens its port with open
func openTransceiver(cfg *config.Config, open transceiver.Opener) (transceiver.Port, discovery.Target, error) {
	enum, _, err := resolveEnumerator(cfg)
	if err != nil {
		return nil, discovery.Target{}, err
	}

	target, err := discovery.Discover(enum)
	if err != nil {
		return nil, discovery.Target{}, err
	}

	port, err := open(target.Port.Name)
	if err != nil {
		return nil, discovery.Target{}, err
	}
	return port, target, nil
}

// statusURL returns --url, or the local aggregator's websocket endpoint
func statusURL(cfg *config.Config) string {
	if wsURL != "" {
		return wsURL
	}
	_, port, err := net.SplitHostPort(cfg.Aggregator.HTTPListen)
	if err != nil || port == "" {
		port = "8000"
	}
	return fmt.Sprintf("ws://127.0.0.1:%s/ws", port)
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("CIVBRIDGE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openStatusClient connects to the aggregator websocket
func openStatusClient(cfg *config.Config) (*aggregator.Client, string, error) {
	url := statusURL(cfg)

	opts := aggregator.ClientOptions{
		Username:      wsUsername,
		SkipSSLVerify: wsNoSSLVerify,
		Timeout:       10 * time.Second,
	}
	if wsUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return nil, "", err
		}
		opts.Password = password
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c, err := aggregator.Dial(ctx, url, opts)
	if err != nil {
		return nil, "", err
	}
	return c, fmt.Sprintf("WebSocket: %s", url), nil
}
