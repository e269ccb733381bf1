// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package civ

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomStream builds a byte stream biased towards terminators and preambles
func randomStream(rng *rand.Rand, maxLen int) []byte {
	n := rng.Intn(maxLen + 1)
	buf := make([]byte, n)
	for i := range buf {
		switch rng.Intn(8) {
		case 0:
			buf[i] = TerminatorByte
		case 1:
			buf[i] = PreambleByte
		default:
			buf[i] = byte(rng.Intn(256))
		}
	}
	return buf
}

// ============================================================
// Frame Extraction Fuzz Tests
// ============================================================

func TestFuzzExtractNextFrame_NoDataLoss(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		buf := randomStream(rng, 256)
		original := bytes.Clone(buf)

		var reassembled []byte
		rest := buf
		for {
			var frame []byte
			frame, rest = ExtractNextFrame(rest)
			if frame == nil {
				break
			}
			reassembled = append(reassembled, frame...)
		}
		reassembled = append(reassembled, rest...)

		if !bytes.Equal(reassembled, original) {
			t.Fatalf("Round %d: reassembly mismatch\n  want % X\n  got  % X", round, original, reassembled)
		}
	}
}

func TestFuzzSplitter_ChunkingIndependent(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		stream := randomStream(rng, 512)

		whole := NewSplitter()
		expected := whole.Feed(stream)

		chunked := NewSplitter()
		var got [][]byte
		for off := 0; off < len(stream); {
			n := 1 + rng.Intn(32)
			if off+n > len(stream) {
				n = len(stream) - off
			}
			got = append(got, chunked.Feed(stream[off:off+n])...)
			off += n
		}

		if len(got) != len(expected) {
			t.Fatalf("Round %d: expected %d frames, got %d", round, len(expected), len(got))
		}
		for i := range got {
			if !bytes.Equal(got[i], expected[i]) {
				t.Fatalf("Round %d: frame %d mismatch", round, i)
			}
		}
		if whole.Buffered() != chunked.Buffered() {
			t.Fatalf("Round %d: buffered mismatch %d != %d", round, whole.Buffered(), chunked.Buffered())
		}
	}
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzzDecodeFrame_NeverPanics(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		frame := randomStream(rng, 16)
		if rng.Intn(2) == 0 && len(frame) >= 2 {
			frame[0], frame[1] = PreambleByte, PreambleByte
		}
		DecodeFrame(frame)
	}
}

func TestFuzzFrequency_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		hz := 1 + rng.Int63n(9_999_999_999)
		u, ok := DecodeFrame(FrequencyReply(0xA4, hz))
		if !ok {
			t.Fatalf("Round %d: frequency %d did not decode", round, hz)
		}
		if u.Frequency != hz {
			t.Fatalf("Round %d: expected %d, got %d", round, hz, u.Frequency)
		}
	}
}
