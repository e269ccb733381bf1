// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/civbridge/internal/metrics"
	"github.com/Thermoquad/civbridge/pkg/status"
)

const (
	defaultReadTimeout = 100 * time.Millisecond
	readChunk          = 32
)

// Server accepts bridge connections on the status socket
type Server struct {
	store       *Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	readTimeout time.Duration
}

// ServerOption customizes a Server
type ServerOption func(*Server)

// WithServerLogger sets the server logger
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics sets the metrics recorder
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithReadTimeout bounds each socket read, and so the shutdown latency
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// NewServer creates a status socket server merging into store
func NewServer(store *Store, opts ...ServerOption) *Server {
	s := &Server{
		store:       store,
		logger:      slog.Default(),
		readTimeout: defaultReadTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "aggregator")
	return s
}

// Serve accepts connections on ln until ctx is cancelled. The listener is
// closed on return and every connection handler has finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("status socket listening", "address", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// handle reads one bridge connection until it closes or ctx is cancelled
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	logger := s.logger.With("peer", conn.RemoteAddr().String(), "connection_id", uuid.NewString())
	logger.Info("bridge connected")
	s.metrics.ClientConnected(1)
	defer s.metrics.ClientConnected(-1)

	r := status.NewReassembler()
	buf := make([]byte, readChunk)
	for {
		if ctx.Err() != nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			before := r.Discarded()
			for _, seg := range r.Feed(buf[:n]) {
				s.merge(logger, seg)
			}
			if r.Discarded() > before {
				logger.Warn("discarded oversized segment")
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				logger.Info("bridge disconnected")
			} else if ctx.Err() == nil {
				logger.Warn("bridge connection failed", "error", err)
			}
			return
		}
	}
}

func (s *Server) merge(logger *slog.Logger, seg []byte) {
	fields, err := s.store.Merge(seg)
	if err != nil {
		logger.Debug("ignoring malformed segment", "segment", string(seg), "error", err)
		s.metrics.SegmentRejected()
		return
	}
	s.metrics.SegmentReceived()
	if len(fields) > 0 {
		st := s.store.Snapshot()
		logger.Debug("device state updated", "fields", fields,
			"transceiver", st.Name, "frequency", st.Frequency, "mode", st.Mode)
	}
}
