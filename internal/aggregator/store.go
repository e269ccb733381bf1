// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package aggregator receives status events from bridges, keeps the merged
// device state, and serves it with recording controls over HTTP and
// websocket.
package aggregator

import (
	"sync"
	"time"

	"github.com/Thermoquad/civbridge/pkg/status"
)

// Store is the merged transceiver state shared by all bridge connections
type Store struct {
	mu      sync.RWMutex
	state   status.DeviceState
	updated time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Merge applies one received segment. On error the state is unchanged.
func (s *Store) Merge(segment []byte) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := s.state.Merge(segment)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		s.updated = time.Now()
	}
	return fields, nil
}

// Snapshot returns a copy of the state
func (s *Store) Snapshot() status.DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Updated returns the time of the last change, zero if none
func (s *Store) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
