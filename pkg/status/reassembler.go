// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"bytes"

	"github.com/Thermoquad/civbridge/pkg/civ"
)

// Reassembler splits a received byte stream into event segments. It shares
// the CI-V splitter so the delimiter and the 1024 byte overflow discard
// behave identically on both ends of the link.
type Reassembler struct {
	splitter *civ.Splitter
}

// NewReassembler creates a reassembler with an empty buffer
func NewReassembler() *Reassembler {
	return &Reassembler{splitter: civ.NewSplitter()}
}

// Feed appends received bytes and returns every complete segment, without
// its delimiter. Empty segments are skipped.
func (r *Reassembler) Feed(data []byte) [][]byte {
	frames := r.splitter.Feed(data)
	segments := frames[:0]
	for _, f := range frames {
		seg := bytes.TrimSuffix(f, []byte{Delimiter})
		if len(bytes.TrimSpace(seg)) == 0 {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// Buffered returns the number of bytes waiting for a delimiter
func (r *Reassembler) Buffered() int {
	return r.splitter.Buffered()
}

// Discarded returns the number of bytes dropped by overflow recovery
func (r *Reassembler) Discarded() int {
	return r.splitter.Discarded()
}
