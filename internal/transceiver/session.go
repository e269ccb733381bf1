// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transceiver runs the session with a CI-V transceiver: discovery,
// polling for the initial frequency and mode, and decoding the frame stream
// into status events.
package transceiver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/civbridge/internal/discovery"
	"github.com/Thermoquad/civbridge/internal/metrics"
	"github.com/Thermoquad/civbridge/pkg/civ"
	"github.com/Thermoquad/civbridge/pkg/status"
)

// Phase is the session lifecycle state
type Phase int32

// Session phases
const (
	PhaseSearching Phase = iota
	PhaseConnected
	PhasePollingFrequency
	PhasePollingMode
	PhaseStreaming
)

var phaseNames = []string{"searching", "connected", "polling_frequency", "polling_mode", "streaming"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Sink receives emitted events. The outbound queue satisfies it.
type Sink interface {
	Push(status.Event) error
}

// FrameHook observes every frame written to or read from the transceiver
type FrameHook func(dir civ.Direction, frame []byte)

// Options configures a Session
type Options struct {
	// DiscoveryInterval is the wait between failed discovery attempts
	DiscoveryInterval time.Duration
	// ReadSize is the maximum number of bytes read per cycle
	ReadSize int
	// MaxConsecutiveErrors closes the port and returns to discovery after
	// this many cycles in a row with an I/O error. Zero disables it.
	MaxConsecutiveErrors int
}

// errorPause is the delay after a cycle with an I/O error
const errorPause = 10 * time.Millisecond

// DefaultOptions returns the standard session settings
func DefaultOptions() Options {
	return Options{
		DiscoveryInterval:    10 * time.Second,
		ReadSize:             32,
		MaxConsecutiveErrors: 10,
	}
}

// State is a snapshot of the session
type State struct {
	Phase     Phase
	Port      string
	Profile   *civ.Profile
	Frequency *int64
	Mode      *string
	Open      bool
}

// Session owns the serial port and the decoded transceiver state. All state
// is confined to the goroutine running Run; State returns a copy.
type Session struct {
	enum    discovery.Enumerator
	open    Opener
	sink    Sink
	opts    Options
	base    *slog.Logger
	logger  *slog.Logger
	metrics *metrics.Metrics
	hook    FrameHook

	phase    atomic.Int32
	port     Port
	target   discovery.Target
	tracker  Tracker
	splitter *civ.Splitter
	failures int

	mu       sync.Mutex
	snapshot State
}

// Option customizes a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithFrameHook sets a frame observer
func WithFrameHook(h FrameHook) Option {
	return func(s *Session) { s.hook = h }
}

// NewSession creates a session. Missing option values fall back to
// DefaultOptions.
func NewSession(enum discovery.Enumerator, open Opener, sink Sink, opts Options, options ...Option) *Session {
	def := DefaultOptions()
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = def.DiscoveryInterval
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = def.ReadSize
	}

	s := &Session{
		enum:     enum,
		open:     open,
		sink:     sink,
		opts:     opts,
		logger:   slog.Default(),
		splitter: civ.NewSplitter(),
	}
	for _, o := range options {
		o(s)
	}
	s.base = s.logger.With("component", "session")
	s.logger = s.base
	s.setPhase(PhaseSearching)
	return s
}

// Phase returns the current phase
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// State returns a snapshot of the session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Run drives the session until ctx is cancelled. The port is closed on
// return. Run always returns ctx.Err().
func (s *Session) Run(ctx context.Context) error {
	defer s.disconnect()

	buf := make([]byte, s.opts.ReadSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.port == nil {
			if !s.connect() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.opts.DiscoveryInterval):
				}
			}
			continue
		}

		s.cycle(buf)
	}
}

// connect runs one discovery attempt and opens the matched port
func (s *Session) connect() bool {
	target, err := discovery.Discover(s.enum)
	if err != nil {
		if errors.Is(err, discovery.ErrNotFound) {
			s.logger.Info("transceiver not found", "retry_in", s.opts.DiscoveryInterval)
		} else {
			s.logger.Warn("port discovery failed", "error", err)
		}
		s.emit(status.NotFoundEvent())
		return false
	}

	port, err := s.open(target.Port.Name)
	if err != nil {
		s.logger.Warn("failed to open transceiver port",
			"port", target.Port.Name, "model", target.Profile.Name, "error", err)
		s.emit(status.NotFoundEvent())
		return false
	}

	s.port = port
	s.target = target
	s.tracker.Reset()
	s.splitter.Reset()
	s.failures = 0
	s.logger = s.base.With("connection_id", uuid.NewString())
	s.logger.Info("transceiver connected",
		"port", target.Port.Name, "model", target.Profile.Name,
		"address", civ.FormatAddress(target.Profile.Address))

	s.setPhase(PhaseConnected)
	s.emit(status.NameEvent(target.Profile.Name))
	return true
}

// cycle issues at most one poll command, then performs one bounded read and
// decodes every complete frame
func (s *Session) cycle(buf []byte) {
	failed := false

	if cmd := s.pollCommand(); cmd != nil {
		if _, err := s.port.Write(cmd); err != nil {
			s.logger.Warn("serial write failed", "error", err)
			s.metrics.SerialError()
			failed = true
		} else {
			s.observe(civ.DirectionTx, cmd)
		}
	}

	n, err := s.port.Read(buf)
	if err != nil {
		s.logger.Warn("serial read failed", "error", err)
		s.metrics.SerialError()
		failed = true
	}
	if n > 0 {
		before := s.splitter.Discarded()
		for _, frame := range s.splitter.Feed(buf[:n]) {
			s.observe(civ.DirectionRx, frame)
			s.handleFrame(frame)
		}
		if dropped := s.splitter.Discarded() - before; dropped > 0 {
			s.logger.Debug("receive buffer discarded", "resets", dropped)
			s.metrics.BufferDiscarded(dropped)
		}
	}

	if !failed {
		s.failures = 0
		return
	}
	s.failures++
	if s.opts.MaxConsecutiveErrors > 0 && s.failures >= s.opts.MaxConsecutiveErrors {
		s.logger.Error("too many consecutive serial errors, searching again",
			"errors", s.failures)
		s.disconnect()
		return
	}
	// Brief pause before retrying a failing port
	time.Sleep(errorPause)
}

// pollCommand returns the read command for the first unknown value and
// updates the phase accordingly
func (s *Session) pollCommand() []byte {
	addr := s.target.Profile.Address
	if _, ok := s.tracker.Frequency(); !ok {
		s.setPhase(PhasePollingFrequency)
		return civ.ReadFrequencyCommand(addr)
	}
	if _, ok := s.tracker.Mode(); !ok {
		s.setPhase(PhasePollingMode)
		return civ.ReadModeCommand(addr)
	}
	s.setPhase(PhaseStreaming)
	return nil
}

func (s *Session) handleFrame(frame []byte) {
	update, ok := civ.DecodeFrame(frame)
	if !ok {
		cmd, _ := civ.Command(frame)
		s.logger.Debug("ignoring frame", "command", civ.FormatCommand(cmd), "len", len(frame))
		s.metrics.FrameIgnored()
		return
	}
	s.metrics.FrameDecoded(update.Field.String())

	if event, changed := s.tracker.Apply(update); changed {
		s.logger.Info("transceiver update", "event", event.String())
		s.emit(event)
		s.refreshSnapshot()
	}
}

func (s *Session) emit(e status.Event) {
	s.metrics.EventEmitted(string(e.Kind))
	if err := s.sink.Push(e); err != nil {
		s.logger.Warn("failed to queue event", "event", e.String(), "error", err)
	}
}

func (s *Session) observe(dir civ.Direction, frame []byte) {
	if s.hook != nil {
		s.hook(dir, frame)
	}
}

func (s *Session) disconnect() {
	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		s.logger.Debug("failed to close port", "error", err)
	}
	s.port = nil
	s.target = discovery.Target{}
	s.logger = s.base
	s.tracker.Reset()
	s.splitter.Reset()
	s.failures = 0
	s.setPhase(PhaseSearching)
}

func (s *Session) setPhase(p Phase) {
	if Phase(s.phase.Swap(int32(p))) != p {
		s.metrics.SessionPhase(p.String(), phaseNames)
	}
	s.refreshSnapshot()
}

func (s *Session) refreshSnapshot() {
	st := State{Phase: s.Phase(), Open: s.port != nil}
	if s.port != nil {
		st.Port = s.target.Port.Name
		profile := s.target.Profile
		st.Profile = &profile
	}
	if hz, ok := s.tracker.Frequency(); ok {
		st.Frequency = &hz
	}
	if mode, ok := s.tracker.Mode(); ok {
		st.Mode = &mode
	}

	s.mu.Lock()
	s.snapshot = st
	s.mu.Unlock()
}
