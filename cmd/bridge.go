// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/civbridge/internal/metrics"
	"github.com/Thermoquad/civbridge/internal/publisher"
	"github.com/Thermoquad/civbridge/internal/queue"
	"github.com/Thermoquad/civbridge/internal/transceiver"
	"github.com/Thermoquad/civbridge/pkg/civ"
	"github.com/Thermoquad/civbridge/pkg/status"
)

var (
	bridgeAddress     string
	bridgeCapturePath string
	bridgeMetricsAddr string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Stream transceiver status to the aggregator",
	Long: `Discover a supported transceiver, poll its frequency and mode, and stream
every change to the aggregator status socket.

The bridge keeps running when the transceiver or the aggregator is absent:
discovery is retried, events are queued while the aggregator is unreachable,
and the connection is re-established automatically.

With --capture every CI-V frame sent and received is appended to a CBOR
capture file for offline analysis with "civbridge replay".`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVarP(&bridgeAddress, "address", "a", "", "Aggregator status socket (host:port)")
	bridgeCmd.Flags().StringVar(&bridgeCapturePath, "capture", "", "Append CI-V frames to a capture file")
	bridgeCmd.Flags().StringVar(&bridgeMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newRegistry creates a registry with the process collectors and the
// civbridge metrics
func newRegistry() (*prometheus.Registry, *metrics.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, m, nil
}

// serveHTTP runs srv until ctx is cancelled
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("http listening", "address", srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// captureHook appends frames to a capture writer
type captureHook struct {
	mu     sync.Mutex
	w      *civ.CaptureWriter
	logger *slog.Logger
}

func (h *captureHook) observe(dir civ.Direction, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.w.Write(time.Now(), dir, frame); err != nil {
		h.logger.Warn("capture write failed", "error", err)
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if bridgeAddress != "" {
		cfg.Publisher.Address = bridgeAddress
	}
	if bridgeMetricsAddr != "" {
		cfg.Metrics.Listen = bridgeMetricsAddr
	}

	logger, closer := setupLogger(cfg, "bridge")
	defer closer.Close()

	enum, source, err := resolveEnumerator(cfg)
	if err != nil {
		return err
	}

	reg, m, err := newRegistry()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	q := queue.New(
		queue.WithCapacity[status.Event](cfg.Publisher.QueueCapacity),
		queue.WithDropCallback[status.Event](func(e status.Event) {
			logger.Warn("queue full, dropped oldest event", "event", e.String())
			m.QueueDrop()
		}),
		queue.WithLenCallback[status.Event](m.QueueDepth),
	)
	defer q.Close()

	sessionOpts := []transceiver.Option{
		transceiver.WithLogger(logger),
		transceiver.WithMetrics(m),
	}
	if bridgeCapturePath != "" {
		f, err := os.OpenFile(bridgeCapturePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		defer f.Close()
		hook := &captureHook{w: civ.NewCaptureWriter(f), logger: logger}
		sessionOpts = append(sessionOpts, transceiver.WithFrameHook(hook.observe))
		logger.Info("capturing frames", "file", bridgeCapturePath)
	}

	session := transceiver.NewSession(enum,
		serialOpener(cfg),
		q,
		transceiver.Options{
			DiscoveryInterval:    cfg.Discovery.Interval,
			ReadSize:             cfg.Serial.ReadSize,
			MaxConsecutiveErrors: cfg.Serial.MaxConsecutiveErrors,
		},
		sessionOpts...,
	)

	pub := publisher.New(q,
		publisher.Options{
			Address:           cfg.Publisher.Address,
			DialTimeout:       cfg.Publisher.DialTimeout,
			WriteTimeout:      cfg.Publisher.WriteTimeout,
			ReconnectInterval: cfg.Publisher.ReconnectInterval,
			PollInterval:      cfg.Publisher.PollInterval,
		},
		publisher.WithLogger(logger),
		publisher.WithMetrics(m),
	)

	ctx, stop := signalContext()
	defer stop()

	logger.Info("bridge starting", "source", source, "aggregator", cfg.Publisher.Address,
		"baud", cfg.Serial.BaudRate)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(session.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(pub.Run(gctx)) })
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return serveHTTP(gctx, srv, logger.With("component", "metrics")) })
	}

	err = g.Wait()
	logger.Info("bridge stopped", "pending_events", q.Len(), "dropped_events", q.Dropped())
	return err
}

// ignoreCanceled maps the cancellation returned on shutdown to success
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
