// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the bridge and aggregator configuration.
//
// Values come from Default(), then an optional YAML file, then CIVBRIDGE_*
// environment variables, and finally command line flags applied by the
// caller. The result is checked by Validate.
package config

import (
	"time"
)

// Config is the complete application configuration
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SerialConfig configures the transceiver serial link
type SerialConfig struct {
	// Port forces a serial device and skips discovery when set
	Port     string `yaml:"port"`
	Model    string `yaml:"model"` // profile used with a forced port
	BaudRate int    `yaml:"baud_rate"`
	// ReadTimeout bounds each serial read and therefore shutdown latency
	ReadTimeout time.Duration `yaml:"read_timeout"`
	ReadSize    int           `yaml:"read_size"`
	// MaxConsecutiveErrors closes the port and re-runs discovery after this
	// many I/O errors in a row. Zero disables the threshold.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// DiscoveryConfig configures transceiver port discovery
type DiscoveryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// PublisherConfig configures the event publisher socket
type PublisherConfig struct {
	Address           string        `yaml:"address"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	// QueueCapacity bounds the outbound queue (drop oldest). Zero is unbounded.
	QueueCapacity int `yaml:"queue_capacity"`
}

// AggregatorConfig configures the status aggregator
type AggregatorConfig struct {
	Listen         string        `yaml:"listen"`
	HTTPListen     string        `yaml:"http_listen"`
	StatusInterval time.Duration `yaml:"status_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// RecorderConfig configures audio recording
type RecorderConfig struct {
	Path string `yaml:"path"`
	// Interface is matched case-insensitively against the output of
	// ListCommand to report whether the audio interface is attached
	Interface   string   `yaml:"interface"`
	Device      string   `yaml:"device"`
	SampleRate  int      `yaml:"sample_rate"`
	Channels    int      `yaml:"channels"`
	ListCommand []string `yaml:"list_command"`
	// Command is the capture command producing raw S16LE PCM on stdout.
	// {device}, {rate} and {channels} are substituted.
	Command []string `yaml:"command"`
}

// LogConfig configures logging
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig configures the Prometheus endpoint of the bridge
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:             19200,
			ReadTimeout:          100 * time.Millisecond,
			ReadSize:             32,
			MaxConsecutiveErrors: 10,
		},
		Discovery: DiscoveryConfig{
			Interval: 10 * time.Second,
		},
		Publisher: PublisherConfig{
			Address:           "127.0.0.1:12020",
			DialTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
			ReconnectInterval: 10 * time.Second,
			PollInterval:      10 * time.Millisecond,
			QueueCapacity:     4096,
		},
		Aggregator: AggregatorConfig{
			Listen:         ":12020",
			HTTPListen:     ":8000",
			StatusInterval: 100 * time.Millisecond,
			ReadTimeout:    100 * time.Millisecond,
		},
		Recorder: RecorderConfig{
			Path:        ".",
			Interface:   "USB Audio",
			Device:      "default",
			SampleRate:  44100,
			Channels:    1,
			ListCommand: []string{"arecord", "-l"},
			Command: []string{
				"arecord", "-q", "-D", "{device}", "-f", "S16_LE",
				"-r", "{rate}", "-c", "{channels}", "-t", "raw",
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
