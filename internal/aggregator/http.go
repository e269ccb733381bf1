// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aggregator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/civbridge/internal/metrics"
	"github.com/Thermoquad/civbridge/internal/recorder"
)

const defaultStatusInterval = 100 * time.Millisecond

// Service serves the device status and recording controls
type Service struct {
	store    *Store
	recorder Recorder
	host     HostInfo
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	httpPort string
	interval time.Duration
	now      func() time.Time
	upgrader websocket.Upgrader
}

// ServiceOption customizes a Service
type ServiceOption func(*Service)

// WithLogger sets the service logger
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics recorder and the gatherer served on /metrics
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServiceOption {
	return func(s *Service) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithHostInfo replaces the host figures provider
func WithHostInfo(h HostInfo) ServiceOption {
	return func(s *Service) { s.host = h }
}

// WithHTTPPort sets the port advertised in the status ip field
func WithHTTPPort(port string) ServiceOption {
	return func(s *Service) { s.httpPort = port }
}

// WithStatusInterval sets the websocket push interval
func WithStatusInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the HTTP service
func NewService(store *Store, rec Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		recorder: rec,
		host:     &SystemHost{},
		logger:   slog.Default(),
		httpPort: "8000",
		interval: defaultStatusInterval,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "http")
	return s
}

// Handler returns the HTTP routes
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordStop)
	mux.HandleFunc("PUT /api/recording/settings", s.handleRecordSettings)
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("GET /recordings/{file}", s.handleRecordingFile)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.DeviceStatus(r.Context()))
}

// startRecording labels the recording with the current transceiver state
func (s *Service) startRecording() (recorder.Status, error) {
	state := s.store.Snapshot()
	return s.recorder.Start(state.Name, state.Frequency)
}

func (s *Service) handleRecordStart(w http.ResponseWriter, _ *http.Request) {
	st, err := s.startRecording()
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		s.logger.Error("failed to start recording", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Service) handleRecordStop(w http.ResponseWriter, _ *http.Request) {
	st, err := s.recorder.Stop()
	if errors.Is(err, recorder.ErrNotRecording) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.logger.Warn("recording finished with error", "error", err)
	}
	writeJSON(w, http.StatusOK, st)
}

type settingsRequest struct {
	Channels   *int `json:"channels"`
	SampleRate *int `json:"sample_rate"`
}

func (s *Service) handleRecordSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Channels != nil {
		if err := s.recorder.SetChannels(*req.Channels); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.SampleRate != nil {
		if err := s.recorder.SetSampleRate(*req.SampleRate); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.DeviceStatus(r.Context()))
}

func (s *Service) handleRecordings(w http.ResponseWriter, _ *http.Request) {
	files, err := s.recorder.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Service) handleRecordingFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if name != filepath.Base(name) || !strings.EqualFold(filepath.Ext(name), ".wav") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, filepath.Join(s.recorder.Dir(), name))
}
