// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics defines the Prometheus metrics of the bridge and the
// aggregator. A nil *Metrics is valid and records nothing, so components
// can be used without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "civbridge"

// Metrics holds every collector of the application
type Metrics struct {
	framesDecoded   *prometheus.CounterVec
	framesIgnored   prometheus.Counter
	framesDiscarded prometheus.Counter
	serialErrors    prometheus.Counter
	sessionPhase    *prometheus.GaugeVec
	events          *prometheus.CounterVec

	queueDepth prometheus.Gauge
	queueDrops prometheus.Counter

	eventsSent prometheus.Counter
	reconnects prometheus.Counter
	connected  prometheus.Gauge

	segmentsReceived prometheus.Counter
	segmentsRejected prometheus.Counter
	clients          prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_decoded_total",
			Help:      "CI-V frames decoded into an update, by field",
		}, []string{"field"}),
		framesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_ignored_total",
			Help:      "Complete CI-V frames that carried no frequency or mode update",
		}),
		framesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "buffer_discards_total",
			Help:      "Receive buffer resets caused by a missing terminator",
		}),
		serialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "serial_errors_total",
			Help:      "Serial read and write errors",
		}),
		sessionPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "phase",
			Help:      "Current session phase (1 for the active phase)",
		}, []string{"phase"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Status events emitted, by kind",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Events waiting to be published",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drops_total",
			Help:      "Events dropped because the queue was full",
		}),
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "events_sent_total",
			Help:      "Events written to the aggregator socket",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "reconnects_total",
			Help:      "Connection attempts after a failure",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "connected",
			Help:      "1 while the publisher socket is connected",
		}),
		segmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "segments_received_total",
			Help:      "Status segments merged into the device state",
		}),
		segmentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "segments_rejected_total",
			Help:      "Status segments that failed to parse",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "clients",
			Help:      "Connected bridge and websocket clients",
		}),
	}

	collectors := []prometheus.Collector{
		m.framesDecoded, m.framesIgnored, m.framesDiscarded, m.serialErrors,
		m.sessionPhase, m.events, m.queueDepth, m.queueDrops, m.eventsSent,
		m.reconnects, m.connected, m.segmentsReceived, m.segmentsRejected,
		m.clients,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FrameDecoded counts a frame that produced an update
func (m *Metrics) FrameDecoded(field string) {
	if m == nil {
		return
	}
	m.framesDecoded.WithLabelValues(field).Inc()
}

// FrameIgnored counts a frame that produced no update
func (m *Metrics) FrameIgnored() {
	if m == nil {
		return
	}
	m.framesIgnored.Inc()
}

// BufferDiscarded counts receive buffer resets
func (m *Metrics) BufferDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesDiscarded.Add(float64(n))
}

// SerialError counts a serial I/O error
func (m *Metrics) SerialError() {
	if m == nil {
		return
	}
	m.serialErrors.Inc()
}

// SessionPhase marks phase as the active session phase
func (m *Metrics) SessionPhase(phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.sessionPhase.WithLabelValues(p).Set(v)
	}
}

// EventEmitted counts an emitted status event
func (m *Metrics) EventEmitted(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// QueueDepth records the outbound queue length
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// QueueDrop counts an event dropped on overflow
func (m *Metrics) QueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

// EventSent counts an event written to the socket
func (m *Metrics) EventSent() {
	if m == nil {
		return
	}
	m.eventsSent.Inc()
}

// Reconnect counts a reconnection attempt
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Connected records the publisher connection state
func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// SegmentReceived counts a merged status segment
func (m *Metrics) SegmentReceived() {
	if m == nil {
		return
	}
	m.segmentsReceived.Inc()
}

// SegmentRejected counts a malformed status segment
func (m *Metrics) SegmentRejected() {
	if m == nil {
		return
	}
	m.segmentsRejected.Inc()
}

// ClientConnected adjusts the client gauge by delta
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.clients.Add(float64(delta))
}
