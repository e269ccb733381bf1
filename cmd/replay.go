// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/civbridge/internal/publisher"
	"github.com/Thermoquad/civbridge/internal/queue"
	"github.com/Thermoquad/civbridge/internal/transceiver"
	"github.com/Thermoquad/civbridge/pkg/civ"
	"github.com/Thermoquad/civbridge/pkg/status"
)

var (
	replayFrames  bool
	replayPublish string
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Decode a CI-V capture file",
	Long: `Decode a capture file written by "bridge --capture" or "raw_log --capture"
and print the status events the bridge derived from it.

With --frames every captured frame is printed as well. With --publish the
events are sent to an aggregator status socket, which makes it possible to
exercise an aggregator without a transceiver attached.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayFrames, "frames", false, "Print every captured frame")
	replayCmd.Flags().StringVar(&replayPublish, "publish", "", "Send the events to this aggregator address (host:port)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := civ.NewCaptureReader(f).ReadAll()
	if err != nil {
		return err
	}

	fmt.Printf("civbridge - Capture Replay\n")
	fmt.Printf("File: %s (%d frames)\n\n", args[0], len(records))

	events := replayRecords(os.Stdout, records, replayFrames)
	fmt.Printf("\n%d events\n", len(events))

	if replayPublish == "" || len(events) == 0 {
		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closer := setupLogger(cfg, "replay")
	defer closer.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := publishEvents(ctx, logger, replayPublish, events); err != nil {
		return err
	}
	fmt.Printf("Published %d events to %s\n", len(events), replayPublish)
	return nil
}

// replayRecords decodes records into status events, printing each event and,
// with frames set, each captured frame
func replayRecords(w io.Writer, records []civ.CaptureRecord, frames bool) []status.Event {
	var r transceiver.Replayer
	var events []status.Event
	for _, rec := range records {
		if frames {
			fmt.Fprintf(w, "%s %s", rec.Direction, civ.FormatFrame(rec.Time(), rec.Frame))
		}
		for _, e := range r.Feed(rec) {
			fmt.Fprintf(w, "[%s] EVENT %s\n", e.Time.Format("15:04:05.000"), e.Event)
			events = append(events, e.Event)
		}
	}
	return events
}

// publishEvents sends events to the aggregator at addr and returns once all
// of them were written
func publishEvents(ctx context.Context, logger *slog.Logger, addr string, events []status.Event) error {
	q := queue.New[status.Event]()
	for _, e := range events {
		if err := q.Push(e); err != nil {
			return err
		}
	}

	opts := publisher.DefaultOptions()
	opts.Address = addr
	opts.ReconnectInterval = time.Second
	pub := publisher.New(q, opts, publisher.WithLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pub.Run(ctx)
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for q.Len() > 0 {
		select {
		case <-ctx.Done():
			<-done
			return fmt.Errorf("interrupted with %d events unsent", q.Len())
		case <-ticker.C:
		}
	}

	cancel()
	<-done
	return nil
}
