// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/civbridge/internal/aggregator"
	"github.com/Thermoquad/civbridge/pkg/civ"
)

// sampleRates are the rates offered by the s key
var sampleRates = []int{8000, 16000, 22050, 44100, 48000}

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model
type monitorModel struct {
	conn          *statusConn
	connInfo      string
	spinner       spinner.Model
	status        *aggregator.DeviceStatus
	lastUpdate    time.Time
	eventLog      []eventLogEntry
	maxLogEntries int
	connected     bool
	width         int
	height        int
	quitting      bool
}

// Messages
type wsMessage aggregator.Message

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

type commandResultMsg struct {
	command string
	err     error
}

func initialMonitorModel(conn *statusConn, connInfo string) monitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		conn:          conn,
		connInfo:      connInfo,
		spinner:       s,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		connected:     true,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// sendCommand writes a control message off the UI goroutine
func (m monitorModel) sendCommand(typ string, data any) tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		var err error
		if conn == nil {
			err = aggregator.ErrConnectionClosed
		} else {
			err = conn.send(typ, data)
		}
		return commandResultMsg{command: typ, err: err}
	}
}

// nextSampleRate returns the rate after current in sampleRates
func nextSampleRate(current int) int {
	for i, r := range sampleRates {
		if r == current {
			return sampleRates[(i+1)%len(sampleRates)]
		}
	}
	return sampleRates[0]
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case wsMessage:
		m.handleMessage(aggregator.Message(msg))

	case connectionLostMsg:
		m.connected = false
		m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)

	case reconnectedMsg:
		m.connected = true
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.command, msg.err), true)
		}
	}

	return m, nil
}

func (m monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}

	if m.status == nil {
		return m, nil
	}

	switch msg.String() {
	case "r":
		if m.status.RecordingActive {
			m.addLogEntry("Stopping recording", false)
			return m, m.sendCommand(aggregator.MsgRecordStop, nil)
		}
		m.addLogEntry("Starting recording", false)
		return m, m.sendCommand(aggregator.MsgRecordStart, nil)

	case "m":
		if m.status.RecordingChannels == 2 {
			m.addLogEntry("Switching to mono", false)
			return m, m.sendCommand(aggregator.MsgSetModeMono, nil)
		}
		m.addLogEntry("Switching to stereo", false)
		return m, m.sendCommand(aggregator.MsgSetModeStereo, nil)

	case "s":
		rate := nextSampleRate(m.status.RecordingSampleRate)
		m.addLogEntry(fmt.Sprintf("Sample rate %d Hz", rate), false)
		return m, m.sendCommand(aggregator.MsgSetSampleRate, rate)
	}
	return m, nil
}

func (m *monitorModel) handleMessage(msg aggregator.Message) {
	switch msg.Type {
	case aggregator.MsgDeviceStatus:
		ds, err := aggregator.DecodeStatus(msg)
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return
		}
		m.logChanges(ds)
		m.status = &ds
		m.lastUpdate = time.Now()

	case aggregator.MsgError:
		m.addLogEntry(aggregator.DecodeError(msg), true)
	}
}

// logChanges records transceiver and recording transitions
func (m *monitorModel) logChanges(ds aggregator.DeviceStatus) {
	prev := m.status
	if prev == nil {
		if ds.Transceiver != "" {
			m.addLogEntry(fmt.Sprintf("Transceiver %s", ds.Transceiver), false)
		}
		return
	}
	if prev.Transceiver != ds.Transceiver {
		m.addLogEntry(fmt.Sprintf("Transceiver %s", orNone(ds.Transceiver)), false)
	}
	if prev.RecordingActive != ds.RecordingActive {
		if ds.RecordingActive {
			m.addLogEntry("Recording started", false)
		} else {
			m.addLogEntry("Recording stopped", false)
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// formatElapsed formats a duration in seconds, e.g. "1 hour, 2 minutes, and 3 seconds"
func formatElapsed(seconds float64) string {
	total := int64(seconds)
	hours := total / 3600
	minutes := (total / 60) % 60
	secs := total % 60

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if secs > 0 || len(parts) == 0 {
		parts = append(parts, plural(secs, "second"))
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("CIVBRIDGE - STATUS MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | r: record  m: mono/stereo  s: sample rate  q: quit", m.connInfo)))
	s.WriteString("\n\n")

	if !m.connected {
		s.WriteString(m.spinner.View())
		s.WriteString(warningStyle.Render(" Reconnecting..."))
		s.WriteString("\n\n")
	}

	if m.status == nil {
		if m.connected {
			s.WriteString(m.spinner.View())
			s.WriteString(warningStyle.Render(" Waiting for device status..."))
			s.WriteString("\n\n")
		}
	} else {
		ds := m.status

		// Transceiver
		radio := strings.Builder{}
		if ds.Transceiver == "" {
			radio.WriteString(warningStyle.Render("No transceiver connected"))
		} else {
			radio.WriteString(fmt.Sprintf("%s %s\n",
				labelStyle.Render("Transceiver:"), valueStyle.Render(ds.Transceiver)))
			radio.WriteString(fmt.Sprintf("%s %s   %s %s",
				labelStyle.Render("Frequency:"), valueStyle.Render(civ.FormatFrequency(ds.Frequency)),
				labelStyle.Render("Mode:"), valueStyle.Render(orNone(ds.Mode))))
		}
		s.WriteString(boxStyle.Render(radio.String()))
		s.WriteString("\n")

		// Recording
		rec := strings.Builder{}
		if ds.RecordingActive {
			rec.WriteString(fmt.Sprintf("%s %s\n",
				labelStyle.Render("Recording:"), errorStyle.Render("● "+formatElapsed(ds.RecordingTime))))
		} else {
			rec.WriteString(fmt.Sprintf("%s %s\n",
				labelStyle.Render("Recording:"), headerStyle.Render("idle")))
		}
		rec.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%d Hz", ds.RecordingSampleRate)),
			labelStyle.Render("Channels:"), valueStyle.Render(channelName(ds.RecordingChannels)),
			labelStyle.Render("Files:"), valueStyle.Render(fmt.Sprintf("%d", ds.Recordings)),
		))
		audio := ds.Audio
		if audio == "" {
			audio = warningStyle.Render("not found")
		} else {
			audio = valueStyle.Render(audio)
		}
		rec.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Audio:"), audio))
		s.WriteString(boxStyle.Render(rec.String()))
		s.WriteString("\n")

		// Host
		host := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n%s %s   %s %s",
			labelStyle.Render("Disk:"), valueStyle.Render(fmt.Sprintf("%.2f GiB", ds.DiskSpace)),
			labelStyle.Render("CPU:"), valueStyle.Render(fmt.Sprintf("%d%%", ds.CPULoad)),
			labelStyle.Render("RAM:"), valueStyle.Render(fmt.Sprintf("%d%%", ds.RAMUsage)),
			labelStyle.Render("Time:"), valueStyle.Render(ds.Time),
			labelStyle.Render("Web:"), valueStyle.Render(ds.IP),
			labelStyle.Render("Updated:"), headerStyle.Render(m.lastUpdate.Format("15:04:05.000")),
		)
		s.WriteString(boxStyle.Render(host))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 20 // Reserve space for header and status boxes
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))

	return s.String()
}
