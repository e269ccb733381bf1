// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package recorder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Settings are the capture parameters of a recording
type Settings struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Validate checks the settings
func (s Settings) Validate() error {
	if s.Channels != 1 && s.Channels != 2 {
		return fmt.Errorf("%w: channels must be 1 or 2, got %d", ErrInvalidSettings, s.Channels)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidSettings, s.SampleRate)
	}
	return nil
}

// AudioSource produces interleaved signed 16-bit little-endian PCM
type AudioSource interface {
	// Interface returns the name of the attached audio interface, or an
	// empty string when it is absent
	Interface(ctx context.Context) string
	// Open starts a capture. Closing the reader stops it.
	Open(ctx context.Context, s Settings) (io.ReadCloser, error)
}

// CommandSource captures audio by running an external program that writes
// raw PCM to stdout, such as arecord
type CommandSource struct {
	// Argv is the capture command. {device}, {rate} and {channels} are
	// substituted.
	Argv []string
	// ListArgv lists the capture devices of the host
	ListArgv []string
	// Filter selects the interface in the ListArgv output, ignoring case
	Filter string
	Device string
}

const listTimeout = 2 * time.Second

// Interface returns the first line of the device listing containing Filter
func (c *CommandSource) Interface(ctx context.Context) string {
	if len(c.ListArgv) == 0 || c.Filter == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.ListArgv[0], c.ListArgv[1:]...).Output()
	if err != nil {
		return ""
	}

	filter := strings.ToLower(c.Filter)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.Contains(strings.ToLower(line), filter) {
			return line
		}
	}
	return ""
}

// Open starts the capture command
func (c *CommandSource) Open(ctx context.Context, s Settings) (io.ReadCloser, error) {
	argv := c.expand(s)
	if len(argv) == 0 {
		return nil, errors.New("no capture command configured")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach to %s: %w", argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	return &commandReader{cmd: cmd, stdout: stdout}, nil
}

func (c *CommandSource) expand(s Settings) []string {
	r := strings.NewReplacer(
		"{device}", c.Device,
		"{rate}", strconv.Itoa(s.SampleRate),
		"{channels}", strconv.Itoa(s.Channels),
	)
	argv := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		argv[i] = r.Replace(a)
	}
	return argv
}

type commandReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (r *commandReader) Read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

// Close stops the capture process and reaps it
func (r *commandReader) Close() error {
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	// Wait closes stdout
	_ = r.cmd.Wait()
	return nil
}
