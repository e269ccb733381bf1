// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/civbridge/internal/aggregator"
	"github.com/Thermoquad/civbridge/internal/recorder"
)

var (
	aggListen    string
	aggHTTP      string
	aggRecordDir string
)

var aggregatorCmd = &cobra.Command{
	Use:   "aggregator",
	Short: "Receive bridge events and serve the device status",
	Long: `Accept bridge connections on the status socket, merge their events into
the device status, and serve it over HTTP with audio recording controls.

Endpoints:
  GET  /api/status               current device status
  GET  /ws                       device status pushed every status interval,
                                 accepts recording commands
  POST /api/recording/start      start recording the transceiver audio
  POST /api/recording/stop       stop the active recording
  PUT  /api/recording/settings   {"channels": 1|2, "sample_rate": N}
  GET  /api/recordings           list recordings
  GET  /recordings/{file}        download a recording
  GET  /metrics                  Prometheus metrics`,
	RunE: runAggregator,
}

func init() {
	rootCmd.AddCommand(aggregatorCmd)
	aggregatorCmd.Flags().StringVarP(&aggListen, "listen", "l", "", "Status socket listen address")
	aggregatorCmd.Flags().StringVar(&aggHTTP, "http", "", "HTTP listen address")
	aggregatorCmd.Flags().StringVar(&aggRecordDir, "recordings", "", "Recording directory")
}

func runAggregator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if aggListen != "" {
		cfg.Aggregator.Listen = aggListen
	}
	if aggHTTP != "" {
		cfg.Aggregator.HTTPListen = aggHTTP
	}
	if aggRecordDir != "" {
		cfg.Recorder.Path = aggRecordDir
	}

	logger, closer := setupLogger(cfg, "aggregator")
	defer closer.Close()

	if err := os.MkdirAll(cfg.Recorder.Path, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	reg, m, err := newRegistry()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	src := &recorder.CommandSource{
		Argv:     cfg.Recorder.Command,
		ListArgv: cfg.Recorder.ListCommand,
		Filter:   cfg.Recorder.Interface,
		Device:   cfg.Recorder.Device,
	}
	rec, err := recorder.New(cfg.Recorder.Path, src,
		recorder.Settings{SampleRate: cfg.Recorder.SampleRate, Channels: cfg.Recorder.Channels},
		recorder.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	store := aggregator.NewStore()
	server := aggregator.NewServer(store,
		aggregator.WithServerLogger(logger),
		aggregator.WithServerMetrics(m),
		aggregator.WithReadTimeout(cfg.Aggregator.ReadTimeout),
	)

	_, httpPort, err := net.SplitHostPort(cfg.Aggregator.HTTPListen)
	if err != nil {
		return fmt.Errorf("invalid http address %q: %w", cfg.Aggregator.HTTPListen, err)
	}
	svc := aggregator.NewService(store, rec,
		aggregator.WithLogger(logger),
		aggregator.WithMetrics(m, reg),
		aggregator.WithHTTPPort(httpPort),
		aggregator.WithStatusInterval(cfg.Aggregator.StatusInterval),
	)

	ln, err := net.Listen("tcp", cfg.Aggregator.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Aggregator.Listen, err)
	}

	ctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, ln) })

	httpSrv := &http.Server{
		Addr:              cfg.Aggregator.HTTPListen,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error { return serveHTTP(gctx, httpSrv, logger.With("component", "http")) })

	err = g.Wait()

	if rec.Status().Active {
		if st, stopErr := rec.Stop(); stopErr != nil {
			logger.Warn("recording finished with error", "error", stopErr)
		} else {
			logger.Info("recording saved", "file", st.File)
		}
	}
	logger.Info("aggregator stopped")
	return err
}
