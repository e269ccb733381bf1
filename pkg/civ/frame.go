// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package civ

import "bytes"

// ExtractNextFrame splits the next terminator-delimited frame off buf.
//
// If buf holds no terminator, frame is nil and rest is buf unchanged, unless
// buf has grown past MaxFrameSize, in which case it is discarded and rest is
// empty. Otherwise frame is buf up to and including the first terminator and
// rest is everything after it. A candidate frame larger than MaxFrameSize
// that does not begin with the preamble also discards the whole buffer.
//
// The returned slices alias buf.
func ExtractNextFrame(buf []byte) (frame []byte, rest []byte) {
	end := bytes.IndexByte(buf, TerminatorByte)
	if end == -1 {
		if len(buf) > MaxFrameSize {
			return nil, buf[:0]
		}
		return nil, buf
	}

	frame, rest = buf[:end+1], buf[end+1:]
	if len(frame) > MaxFrameSize && !HasPreamble(frame) {
		return nil, buf[:0]
	}
	return frame, rest
}

// HasPreamble reports whether data starts with the FE FE preamble.
func HasPreamble(data []byte) bool {
	return len(data) >= 2 && data[0] == PreambleByte && data[1] == PreambleByte
}

// Splitter accumulates stream bytes and yields complete frames.
type Splitter struct {
	buf       []byte
	discarded int
}

// NewSplitter creates a splitter with an empty buffer
func NewSplitter() *Splitter {
	return &Splitter{buf: make([]byte, 0, 64)}
}

// Feed appends data to the internal buffer and returns every complete frame
// now available, in stream order. Returned frames are copies and remain
// valid after subsequent calls.
func (s *Splitter) Feed(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var frames [][]byte
	for {
		before := len(s.buf)
		frame, rest := ExtractNextFrame(s.buf)
		if frame == nil {
			if len(rest) == 0 && before > 0 {
				s.discarded += before
			}
			s.compact(rest)
			return frames
		}
		frames = append(frames, bytes.Clone(frame))
		s.compact(rest)
	}
}

// compact moves rest to the start of the buffer so it does not grow forever
func (s *Splitter) compact(rest []byte) {
	n := copy(s.buf, rest)
	s.buf = s.buf[:n]
}

// Buffered returns the number of bytes waiting for a terminator
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Discarded returns the total number of bytes dropped by overflow recovery
func (s *Splitter) Discarded() int {
	return s.discarded
}

// Reset drops any partially received frame
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
}
