// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recorder captures audio from the transceiver's audio interface
// into WAV files named after the transceiver and frequency.
package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// Errors
var (
	ErrAlreadyRecording = errors.New("recording already active")
	ErrNotRecording     = errors.New("no active recording")
	ErrInvalidSettings  = errors.New("invalid recording settings")
	ErrNoAudio          = errors.New("no audio captured")
)

const (
	bitDepth       = 16
	wavFormatPCM   = 1
	framesPerChunk = 4096
	interfaceTTL   = 5 * time.Second
)

// Status describes the recorder
type Status struct {
	Active     bool          `json:"active"`
	ID         string        `json:"id,omitempty"`
	File       string        `json:"file,omitempty"`
	Started    time.Time     `json:"started,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Bytes      int64         `json:"bytes"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
}

// FileInfo describes a finished recording
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

type recording struct {
	id       string
	file     string
	started  time.Time
	settings Settings
	src      io.ReadCloser
	cancel   context.CancelFunc
	done     chan struct{}
	bytes    atomic.Int64
	err      error
}

// Recorder runs at most one recording at a time
type Recorder struct {
	dir    string
	src    AudioSource
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	settings Settings
	active   *recording

	ifaceMu      sync.Mutex
	iface        string
	ifaceChecked time.Time
}

// Option customizes a Recorder
type Option func(*Recorder)

// WithLogger sets the recorder logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a recorder writing into dir
func New(dir string, src AudioSource, settings Settings, opts ...Option) (*Recorder, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{
		dir:      dir,
		src:      src,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "recorder")
	return r, nil
}

// FileName builds the recording file name:
// {name}_{YYYYmmdd_HHMMSS}Z_{kHz}kHz_AF.wav, with the time in UTC
func FileName(name string, t time.Time, hz int64) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, name)
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%s_%sZ_%dkHz_AF.wav", name, t.UTC().Format("20060102_150405"), hz/1000)
}

// Dir returns the recordings directory
func (r *Recorder) Dir() string {
	return r.dir
}

// Start begins recording. name and hz label the file.
func (r *Recorder) Start(name string, hz int64) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return r.statusLocked(), ErrAlreadyRecording
	}

	started := r.now()
	path := filepath.Join(r.dir, FileName(name, started, hz))
	f, err := os.Create(path)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	src, err := r.src.Open(ctx, r.settings)
	if err != nil {
		cancel()
		f.Close()
		os.Remove(path)
		return Status{}, fmt.Errorf("failed to open audio source: %w", err)
	}

	rec := &recording{
		id:       uuid.NewString(),
		file:     path,
		started:  started,
		settings: r.settings,
		src:      src,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	enc := wav.NewEncoder(f, rec.settings.SampleRate, bitDepth, rec.settings.Channels, wavFormatPCM)
	go r.capture(rec, f, enc)

	r.active = rec
	r.logger.Info("recording started",
		"id", rec.id, "file", filepath.Base(path),
		"sample_rate", rec.settings.SampleRate, "channels", rec.settings.Channels)
	return r.statusLocked(), nil
}

// Stop ends the active recording and finalizes its file
func (r *Recorder) Stop() (Status, error) {
	r.mu.Lock()
	rec := r.active
	if rec == nil {
		r.mu.Unlock()
		return Status{}, ErrNotRecording
	}
	st := r.statusLocked()
	r.active = nil
	r.mu.Unlock()

	rec.cancel()
	rec.src.Close()
	<-rec.done

	st.Active = false
	st.Bytes = rec.bytes.Load()
	r.logger.Info("recording stopped",
		"id", rec.id, "file", filepath.Base(rec.file),
		"elapsed", st.Elapsed.Round(time.Millisecond), "bytes", st.Bytes)
	if rec.err != nil {
		return st, fmt.Errorf("recording %s failed: %w", filepath.Base(rec.file), rec.err)
	}
	return st, nil
}

// capture copies PCM from the source into the WAV encoder until the source
// ends or is closed
func (r *Recorder) capture(rec *recording, f *os.File, enc *wav.Encoder) {
	defer close(rec.done)
	defer r.release(rec)

	channels := rec.settings.Channels
	frameBytes := 2 * channels
	buf := make([]byte, framesPerChunk*frameBytes)
	var pending []byte
	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rec.settings.SampleRate},
		SourceBitDepth: bitDepth,
	}

	for {
		n, err := rec.src.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			whole := len(pending) - len(pending)%frameBytes
			if whole > 0 {
				ib.Data = decodePCM(pending[:whole], ib.Data[:0])
				if werr := enc.Write(ib); werr != nil {
					rec.err = fmt.Errorf("failed to write samples: %w", werr)
					break
				}
				rec.bytes.Add(int64(whole))
				pending = append(pending[:0], pending[whole:]...)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				r.logger.Debug("audio source ended", "id", rec.id, "error", err)
			}
			break
		}
	}

	// A WAV header is only written with the first samples
	if rec.bytes.Load() == 0 {
		f.Close()
		os.Remove(rec.file)
		if rec.err == nil {
			rec.err = ErrNoAudio
		}
		return
	}

	if err := enc.Close(); err != nil && rec.err == nil {
		rec.err = fmt.Errorf("failed to finalize wav: %w", err)
	}
	if err := f.Close(); err != nil && rec.err == nil {
		rec.err = err
	}
}

// release clears rec if it is still the active recording, which happens
// when the source ended without Stop
func (r *Recorder) release(rec *recording) {
	r.mu.Lock()
	ended := r.active == rec
	if ended {
		r.active = nil
	}
	r.mu.Unlock()

	if !ended {
		return
	}
	rec.cancel()
	rec.src.Close()
	r.logger.Warn("audio source ended, recording finished",
		"id", rec.id, "file", filepath.Base(rec.file), "bytes", rec.bytes.Load(), "error", rec.err)
}

// decodePCM converts S16LE bytes into samples, reusing dst
func decodePCM(data []byte, dst []int) []int {
	for i := 0; i+1 < len(data); i += 2 {
		dst = append(dst, int(int16(binary.LittleEndian.Uint16(data[i:]))))
	}
	return dst
}

// Status returns the recorder state
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() Status {
	st := Status{SampleRate: r.settings.SampleRate, Channels: r.settings.Channels}
	if rec := r.active; rec != nil {
		st.Active = true
		st.ID = rec.id
		st.File = filepath.Base(rec.file)
		st.Started = rec.started
		st.Elapsed = r.now().Sub(rec.started)
		st.Bytes = rec.bytes.Load()
		st.SampleRate = rec.settings.SampleRate
		st.Channels = rec.settings.Channels
	}
	return st
}

// Settings returns the settings used for the next recording
func (r *Recorder) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// SetChannels sets the channel count of the next recording
func (r *Recorder) SetChannels(n int) error {
	return r.update(func(s *Settings) { s.Channels = n })
}

// SetSampleRate sets the sample rate of the next recording
func (r *Recorder) SetSampleRate(rate int) error {
	return r.update(func(s *Settings) { s.SampleRate = rate })
}

func (r *Recorder) update(fn func(*Settings)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	r.settings = next
	r.logger.Debug("recording settings changed", "sample_rate", next.SampleRate, "channels", next.Channels)
	return nil
}

// List returns the WAV files in the recordings directory by name
func (r *Recorder) List() ([]FileInfo, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.wav"))
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, FileInfo{Name: info.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Count returns the number of recordings, or 0 if the directory is unreadable
func (r *Recorder) Count() int {
	files, err := r.List()
	if err != nil {
		return 0
	}
	return len(files)
}

// Interface returns the attached audio interface name, or "" when absent.
// The result is cached for interfaceTTL.
func (r *Recorder) Interface(ctx context.Context) string {
	r.ifaceMu.Lock()
	defer r.ifaceMu.Unlock()

	if now := r.now(); r.ifaceChecked.IsZero() || now.Sub(r.ifaceChecked) >= interfaceTTL {
		r.iface = r.src.Interface(ctx)
		r.ifaceChecked = now
	}
	return r.iface
}
