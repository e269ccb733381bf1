// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/civbridge/internal/recorder"
)

// Websocket message types
const (
	MsgDeviceStatus  = "device_status"
	MsgError         = "error"
	MsgRecordStart   = "record_start"
	MsgRecordStop    = "record_stop"
	MsgSetModeMono   = "set_mode_mono"
	MsgSetModeStereo = "set_mode_stereo"
	MsgSetSampleRate = "set_sample_rate"
)

const wsWriteTimeout = 10 * time.Second

// Message is one websocket frame between the aggregator and a status client
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a message with a JSON-encoded payload
func NewMessage(typ string, data any) (Message, error) {
	if data == nil {
		return Message{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: raw}, nil
}

// Command applies a client control message
func (s *Service) Command(msg Message) error {
	switch msg.Type {
	case MsgRecordStart:
		_, err := s.startRecording()
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			s.logger.Debug("recording already started")
			return nil
		}
		return err

	case MsgRecordStop:
		_, err := s.recorder.Stop()
		if errors.Is(err, recorder.ErrNotRecording) {
			s.logger.Debug("recording already stopped")
			return nil
		}
		return err

	case MsgSetModeMono:
		return s.recorder.SetChannels(1)

	case MsgSetModeStereo:
		return s.recorder.SetChannels(2)

	case MsgSetSampleRate:
		var rate int
		if err := json.Unmarshal(msg.Data, &rate); err != nil {
			return fmt.Errorf("invalid sample rate: %w", err)
		}
		return s.recorder.SetSampleRate(rate)
	}
	return fmt.Errorf("unknown command %q", msg.Type)
}

// wsClient serializes writes to one websocket connection
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

func (s *Service) sendStatus(ctx context.Context, c *wsClient) error {
	msg, err := NewMessage(MsgDeviceStatus, s.DeviceStatus(ctx))
	if err != nil {
		return err
	}
	return c.send(msg)
}

// handleWebSocket pushes the device status every interval and applies
// control messages from the client
func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("peer", r.RemoteAddr)
	logger.Info("status client connected")
	s.metrics.ClientConnected(1)
	defer s.metrics.ClientConnected(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsClient{conn: conn}
	go func() {
		defer cancel()
		s.readCommands(ctx, c)
	}()

	if err := s.sendStatus(ctx, c); err != nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("status client disconnected")
			return
		case <-ticker.C:
			if err := s.sendStatus(ctx, c); err != nil {
				logger.Debug("status push failed", "error", err)
				return
			}
		}
	}
}

func (s *Service) readCommands(ctx context.Context, c *wsClient) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if err := s.Command(msg); err != nil {
			s.logger.Warn("command failed", "command", msg.Type, "error", err)
			if reply, merr := NewMessage(MsgError, err.Error()); merr == nil {
				_ = c.send(reply)
			}
			continue
		}
		if err := s.sendStatus(ctx, c); err != nil {
			return
		}
	}
}
