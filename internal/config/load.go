// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CIVBRIDGE_"

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies CIVBRIDGE_* variables
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	strVars := map[string]*string{
		"SERIAL_PORT":        &cfg.Serial.Port,
		"SERIAL_MODEL":       &cfg.Serial.Model,
		"PUBLISHER_ADDRESS":  &cfg.Publisher.Address,
		"AGGREGATOR_LISTEN":  &cfg.Aggregator.Listen,
		"AGGREGATOR_HTTP":    &cfg.Aggregator.HTTPListen,
		"RECORDER_PATH":      &cfg.Recorder.Path,
		"RECORDER_INTERFACE": &cfg.Recorder.Interface,
		"RECORDER_DEVICE":    &cfg.Recorder.Device,
		"LOG_LEVEL":          &cfg.Log.Level,
		"LOG_FORMAT":         &cfg.Log.Format,
		"LOG_FILE":           &cfg.Log.File,
		"METRICS_LISTEN":     &cfg.Metrics.Listen,
	}
	for name, dst := range strVars {
		if val, ok := lookup(EnvPrefix + name); ok {
			*dst = val
		}
	}

	intVars := map[string]*int{
		"SERIAL_BAUD_RATE":         &cfg.Serial.BaudRate,
		"PUBLISHER_QUEUE_CAPACITY": &cfg.Publisher.QueueCapacity,
		"RECORDER_SAMPLE_RATE":     &cfg.Recorder.SampleRate,
		"RECORDER_CHANNELS":        &cfg.Recorder.Channels,
	}
	for name, dst := range intVars {
		if val, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durationVars := map[string]*time.Duration{
		"DISCOVERY_INTERVAL":           &cfg.Discovery.Interval,
		"PUBLISHER_RECONNECT_INTERVAL": &cfg.Publisher.ReconnectInterval,
	}
	for name, dst := range durationVars {
		if val, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks the configuration for values the runtime cannot use
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, errors.New("serial.read_timeout must be positive"))
	}
	if c.Serial.ReadSize <= 0 {
		errs = append(errs, fmt.Errorf("serial.read_size must be positive, got %d", c.Serial.ReadSize))
	}
	if c.Serial.MaxConsecutiveErrors < 0 {
		errs = append(errs, errors.New("serial.max_consecutive_errors cannot be negative"))
	}
	if c.Discovery.Interval <= 0 {
		errs = append(errs, errors.New("discovery.interval must be positive"))
	}

	if _, _, err := net.SplitHostPort(c.Publisher.Address); err != nil {
		errs = append(errs, fmt.Errorf("publisher.address: %w", err))
	}
	if c.Publisher.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("publisher.reconnect_interval must be positive"))
	}
	if c.Publisher.PollInterval <= 0 {
		errs = append(errs, errors.New("publisher.poll_interval must be positive"))
	}
	if c.Publisher.QueueCapacity < 0 {
		errs = append(errs, errors.New("publisher.queue_capacity cannot be negative"))
	}

	if c.Aggregator.StatusInterval <= 0 {
		errs = append(errs, errors.New("aggregator.status_interval must be positive"))
	}
	if c.Aggregator.ReadTimeout <= 0 {
		errs = append(errs, errors.New("aggregator.read_timeout must be positive"))
	}

	if c.Recorder.Channels != 1 && c.Recorder.Channels != 2 {
		errs = append(errs, fmt.Errorf("recorder.channels must be 1 or 2, got %d", c.Recorder.Channels))
	}
	if len(c.Recorder.Command) == 0 {
		errs = append(errs, errors.New("recorder.command cannot be empty"))
	}
	if c.Recorder.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recorder.sample_rate must be positive, got %d", c.Recorder.SampleRate))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
