// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publisher streams queued status events to the aggregator over a
// persistent TCP connection, reconnecting after failures.
//
// An event is removed from the queue only after it was written in full, so
// a failed send is retried on the next connection. Events pushed while
// disconnected are kept.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/Thermoquad/civbridge/internal/metrics"
	"github.com/Thermoquad/civbridge/pkg/status"
)

// Source is the outbound event queue
type Source interface {
	Head() (status.Event, uint64, bool)
	PopIf(seq uint64) bool
	Notify() <-chan struct{}
}

// DialFunc opens a connection to the aggregator
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Publisher
type Options struct {
	Address           string
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration
	// PollInterval is the fallback wake-up when no queue notification arrives
	PollInterval time.Duration
}

// DefaultOptions returns the standard publisher settings
func DefaultOptions() Options {
	return Options{
		Address:           "127.0.0.1:12020",
		DialTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectInterval: 10 * time.Second,
		PollInterval:      10 * time.Millisecond,
	}
}

// Publisher owns the aggregator connection
type Publisher struct {
	src     Source
	opts    Options
	dial    DialFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Publisher
type Option func(*Publisher)

// WithLogger sets the publisher logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithDialer replaces the TCP dialer
func WithDialer(d DialFunc) Option {
	return func(p *Publisher) { p.dial = d }
}

// New creates a publisher reading from src. Zero option values fall back
// to DefaultOptions.
func New(src Source, opts Options, options ...Option) *Publisher {
	def := DefaultOptions()
	if opts.Address == "" {
		opts.Address = def.Address
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = def.ReconnectInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}

	p := &Publisher{
		src:    src,
		opts:   opts,
		logger: slog.Default(),
	}
	p.dial = (&net.Dialer{Timeout: opts.DialTimeout}).DialContext
	for _, o := range options {
		o(p)
	}
	p.logger = p.logger.With("component", "publisher", "address", opts.Address)
	return p
}

// Run connects and streams events until ctx is cancelled. It always
// returns ctx.Err().
func (p *Publisher) Run(ctx context.Context) error {
	for {
		conn, err := p.connect(ctx)
		if err == nil {
			p.logger.Info("connected to aggregator")
			p.metrics.Connected(true)

			err = p.stream(ctx, conn)
			conn.Close()
			p.metrics.Connected(false)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("aggregator connection failed", "error", err, "retry_in", p.opts.ReconnectInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.opts.ReconnectInterval):
			p.metrics.Reconnect()
		}
	}
}

func (p *Publisher) connect(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", p.opts.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// stream sends queued events on conn until a send fails, the peer closes
// the connection, or ctx is cancelled
func (p *Publisher) stream(ctx context.Context, conn net.Conn) error {
	peerClosed := make(chan error, 1)
	go func() {
		// The aggregator never sends; any read result other than data
		// means the connection is gone.
		buf := make([]byte, 256)
		for {
			if _, err := conn.Read(buf); err != nil {
				peerClosed <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.drain(conn); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-peerClosed:
			return fmt.Errorf("connection closed by peer: %w", err)
		case <-p.src.Notify():
		case <-ticker.C:
		}
	}
}

// drain writes every queued event, popping each only after its write
// completed. An event dropped by the queue while it was being written is
// not popped again, so the event behind it is not lost.
func (p *Publisher) drain(conn net.Conn) error {
	for {
		event, seq, ok := p.src.Head()
		if !ok {
			return nil
		}

		data, err := status.Encode(event)
		if err != nil {
			// Not representable on the wire
			p.logger.Error("dropping unencodable event", "event", event.String(), "error", err)
			p.src.PopIf(seq)
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
		if _, err := conn.Write(data); err != nil {
			return fmt.Errorf("failed to send %s: %w", event, err)
		}

		p.src.PopIf(seq)
		p.metrics.EventSent()
		p.logger.Debug("event sent", "event", event.String())
	}
}
