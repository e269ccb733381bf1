// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/civbridge/internal/transceiver"
	"github.com/Thermoquad/civbridge/pkg/civ"
)

var (
	rawLogPoll    time.Duration
	rawLogCapture string
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw CI-V frame log in human-readable format",
	Long: `Continuously decode and display CI-V frames as they arrive.

Each frame is shown with timestamp, command, addresses, and the decoded
frequency or mode. With --poll the transceiver is asked for its frequency
and mode at the given interval; otherwise only unsolicited transceive
traffic is shown.

With --capture the frames are also appended to a CBOR capture file.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawLogPoll, "poll", 0, "Poll frequency and mode at this interval (0 disables)")
	rawLogCmd.Flags().StringVar(&rawLogCapture, "capture", "", "Append frames to a capture file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	port, target, err := openTransceiver(cfg, serialOpener(cfg))
	if err != nil {
		return err
	}
	defer port.Close()

	var capture *civ.CaptureWriter
	if rawLogCapture != "" {
		f, err := os.OpenFile(rawLogCapture, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		defer f.Close()
		capture = civ.NewCaptureWriter(f)
	}

	fmt.Printf("civbridge - Raw Frame Log\n")
	fmt.Printf("Transceiver: %s on %s @ %d baud\n", target.Profile.Name, target.Port.Name, cfg.Serial.BaudRate)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signalContext()
	defer stop()

	streamFrames(ctx, os.Stdout, port, target.Profile.Address, rawLogPoll, capture)

	if capture != nil {
		fmt.Printf("\nCaptured %d frames to %s\n", capture.Count(), rawLogCapture)
	}
	return nil
}

// streamFrames prints every frame read from port until ctx is done. With a
// positive poll interval the transceiver at addr is queried for frequency
// and mode. Frames are also recorded to capture when it is not nil.
func streamFrames(ctx context.Context, w io.Writer, port transceiver.Port, addr byte, poll time.Duration, capture *civ.CaptureWriter) {
	record := func(dir civ.Direction, frame []byte) {
		if capture == nil {
			return
		}
		if err := capture.Write(time.Now(), dir, frame); err != nil {
			log.Printf("Capture error: %v", err)
		}
	}

	polls := [][]byte{
		civ.ReadFrequencyCommand(addr),
		civ.ReadModeCommand(addr),
	}
	var nextPoll time.Time

	splitter := civ.NewSplitter()
	buf := make([]byte, 128)

	for ctx.Err() == nil {
		if poll > 0 && !time.Now().Before(nextPoll) {
			for _, p := range polls {
				if _, err := port.Write(p); err != nil {
					log.Printf("Write error: %v", err)
					continue
				}
				record(civ.DirectionTx, p)
				fmt.Fprintf(w, "TX %s", civ.FormatFrame(time.Now(), p))
			}
			nextPoll = time.Now().Add(poll)
		}

		n, err := port.Read(buf)
		if err != nil {
			log.Printf("Read error: %v", err)
			// Brief pause before retry on transient errors
			time.Sleep(10 * time.Millisecond)
			continue
		}

		discarded := splitter.Discarded()
		for _, frame := range splitter.Feed(buf[:n]) {
			record(civ.DirectionRx, frame)
			fmt.Fprintf(w, "RX %s", civ.FormatFrame(time.Now(), frame))
		}
		if d := splitter.Discarded() - discarded; d > 0 {
			fmt.Fprintf(w, "[ERROR] discarded %d bytes without terminator\n", d)
		}
	}
}
