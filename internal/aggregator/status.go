// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/civbridge/internal/recorder"
	"github.com/Thermoquad/civbridge/internal/sysinfo"
)

// DeviceStatus is the snapshot pushed to status clients
type DeviceStatus struct {
	Recordings          int     `json:"recordings"`
	Audio               string  `json:"audio"`
	RecordingActive     bool    `json:"recording_active"`
	RecordingTime       float64 `json:"recording_time"` // seconds
	RecordingSampleRate int     `json:"recording_samplerate"`
	RecordingChannels   int     `json:"recording_channels"`
	DiskSpace           float64 `json:"disk_space"` // GiB free
	Time                string  `json:"time"`
	Transceiver         string  `json:"transceiver"`
	Frequency           int64   `json:"frequency"`
	Mode                string  `json:"mode"`
	IP                  string  `json:"ip"`
	CPULoad             int     `json:"cpu_load"`
	RAMUsage            int     `json:"ram_usage"`
}

// Recorder is the recording backend controlled by status clients
type Recorder interface {
	Start(name string, hz int64) (recorder.Status, error)
	Stop() (recorder.Status, error)
	Status() recorder.Status
	SetChannels(n int) error
	SetSampleRate(rate int) error
	List() ([]recorder.FileInfo, error)
	Count() int
	Interface(ctx context.Context) string
	Dir() string
}

// HostInfo reports host figures
type HostInfo interface {
	FreeGiB(path string) float64
	CPULoad() int
	RAMUsage() int
	IPAddress() string
}

const (
	ipRefresh  = 30 * time.Second
	cpuRefresh = time.Second
)

// SystemHost reads host figures from the operating system. The outbound
// address is refreshed periodically. CPU load is sampled at most once per
// cpuRefresh so every caller sees the same measurement window.
type SystemHost struct {
	mu      sync.Mutex
	ip      string
	checked time.Time
	cpu     int
	sampled time.Time

	// Zero values use the clock and sysinfo
	now     func() time.Time
	readCPU func() int
}

func (h *SystemHost) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// FreeGiB returns free disk space at path
func (*SystemHost) FreeGiB(path string) float64 { return sysinfo.FreeGiB(path) }

// CPULoad returns the CPU utilization in percent over the last sample window
func (h *SystemHost) CPULoad() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock()
	if h.sampled.IsZero() || now.Sub(h.sampled) >= cpuRefresh {
		read := h.readCPU
		if read == nil {
			read = sysinfo.CPULoad
		}
		h.cpu = read()
		h.sampled = now
	}
	return h.cpu
}

// RAMUsage returns memory utilization in percent
func (*SystemHost) RAMUsage() int { return sysinfo.RAMUsage() }

// IPAddress returns the outbound address
func (h *SystemHost) IPAddress() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now := h.clock(); h.checked.IsZero() || now.Sub(h.checked) >= ipRefresh {
		h.ip = sysinfo.IPAddress()
		h.checked = now
	}
	return h.ip
}

// DeviceStatus assembles the current snapshot
func (s *Service) DeviceStatus(ctx context.Context) DeviceStatus {
	state := s.store.Snapshot()
	rec := s.recorder.Status()

	ds := DeviceStatus{
		Recordings:          s.recorder.Count(),
		Audio:               s.recorder.Interface(ctx),
		RecordingActive:     rec.Active,
		RecordingSampleRate: rec.SampleRate,
		RecordingChannels:   rec.Channels,
		DiskSpace:           s.host.FreeGiB(s.recorder.Dir()),
		Time:                s.now().Format("15:04:05"),
		Transceiver:         state.Name,
		Frequency:           state.Frequency,
		Mode:                state.Mode,
		IP:                  fmt.Sprintf("http://%s:%s", s.host.IPAddress(), s.httpPort),
		CPULoad:             s.host.CPULoad(),
		RAMUsage:            s.host.RAMUsage(),
	}
	if rec.Active {
		ds.RecordingTime = rec.Elapsed.Seconds()
	}
	return ds
}
