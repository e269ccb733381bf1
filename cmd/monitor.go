// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/civbridge/internal/aggregator"
	"github.com/Thermoquad/civbridge/internal/config"
	"github.com/Thermoquad/civbridge/pkg/civ"
)

var monitorPlain bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for the aggregator device status",
	Long: `Show the device status served by the aggregator and control recordings.

The status is received over the aggregator websocket (--url, defaults to the
local aggregator). The connection is re-established automatically when it
is lost.

Keys:
  r  start or stop recording
  m  switch between mono and stereo
  s  cycle the sample rate
  q  quit

When stdout is not a terminal, or with --plain, every status change is
printed as one line instead.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorPlain, "plain", false, "Print status changes instead of the TUI")
}

// statusConn handles the websocket lifecycle and reconnection
type statusConn struct {
	cfg      *config.Config
	client   *aggregator.Client
	connInfo string
	mu       sync.RWMutex
	done     chan struct{}
}

func (sc *statusConn) getClient() *aggregator.Client {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.client
}

func (sc *statusConn) setClient(c *aggregator.Client, connInfo string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.client = c
	sc.connInfo = connInfo
}

// send writes a control message on the current connection
func (sc *statusConn) send(typ string, data any) error {
	c := sc.getClient()
	if c == nil {
		return aggregator.ErrConnectionClosed
	}
	return c.Send(typ, data)
}

func (sc *statusConn) close() {
	close(sc.done)
	if c := sc.getClient(); c != nil {
		c.Close()
	}
}

// readLoop delivers messages to handle until shutdown. A lost connection is
// reported with lost(err) and re-established with exponential backoff.
func (sc *statusConn) readLoop(handle func(aggregator.Message), lost func(error), reconnected func(string)) {
	for {
		c := sc.getClient()
		for {
			msg, err := c.Next()
			if err != nil {
				if errors.Is(err, aggregator.ErrConnectionClosed) {
					return
				}
				lost(err)
				break
			}
			handle(msg)
		}

		if !sc.reconnect() {
			return
		}
		reconnected(sc.connInfo)
	}
}

// reconnect returns false if shutdown was requested
func (sc *statusConn) reconnect() bool {
	if c := sc.getClient(); c != nil {
		c.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-sc.done:
			return false
		case <-time.After(backoff):
		}

		c, connInfo, err := openStatusClient(sc.cfg)
		if err == nil {
			sc.setClient(c, connInfo)
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, connInfo, err := openStatusClient(cfg)
	if err != nil {
		return err
	}
	sc := &statusConn{cfg: cfg, client: client, connInfo: connInfo, done: make(chan struct{})}
	defer sc.close()

	if monitorPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runPlainMonitor(sc)
	}

	m := initialMonitorModel(sc, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go sc.readLoop(
		func(msg aggregator.Message) { p.Send(wsMessage(msg)) },
		func(err error) { p.Send(connectionLostMsg{err: err}) },
		func(info string) { p.Send(reconnectedMsg{connInfo: info}) },
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runPlainMonitor prints one line per status change until interrupted
func runPlainMonitor(sc *statusConn) error {
	fmt.Printf("civbridge - Status Monitor\n")
	fmt.Printf("Connection: %s\n", sc.connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signalContext()
	defer stop()

	var last string
	go sc.readLoop(
		func(msg aggregator.Message) {
			switch msg.Type {
			case aggregator.MsgDeviceStatus:
				ds, err := aggregator.DecodeStatus(msg)
				if err != nil {
					fmt.Printf("[ERROR] %v\n", err)
					return
				}
				if line := statusLine(ds); line != last {
					fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), line)
					last = line
				}
			case aggregator.MsgError:
				fmt.Printf("[ERROR] %s\n", aggregator.DecodeError(msg))
			}
		},
		func(err error) { fmt.Printf("[%s] Connection lost: %v\n", time.Now().Format("15:04:05"), err) },
		func(info string) {
			last = ""
			fmt.Printf("[%s] Reconnected: %s\n", time.Now().Format("15:04:05"), info)
		},
	)

	<-ctx.Done()
	return nil
}

// statusLine summarizes the transceiver and recording state
func statusLine(ds aggregator.DeviceStatus) string {
	radio := "no transceiver"
	if ds.Transceiver != "" {
		radio = fmt.Sprintf("%s %s %s", ds.Transceiver, civ.FormatFrequency(ds.Frequency), ds.Mode)
	}
	rec := "idle"
	if ds.RecordingActive {
		rec = "recording"
	}
	return fmt.Sprintf("%s | %s %d Hz %s | %d files",
		radio, rec, ds.RecordingSampleRate, channelName(ds.RecordingChannels), ds.Recordings)
}

func channelName(n int) string {
	if n == 2 {
		return "stereo"
	}
	return "mono"
}
