// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		head, ok := q.Peek()
		require.True(t, ok)
		assert.Equal(t, i, head)

		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	q := New[string]()
	require.NoError(t, q.Push("a"))

	v1, _ := q.Peek()
	v2, _ := q.Peek()
	assert.Equal(t, "a", v1)
	assert.Equal(t, "a", v2)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_UnboundedByDefault(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10000; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 10000, q.Len())
	assert.Zero(t, q.Dropped())
}

func TestQueue_DropOldest(t *testing.T) {
	var dropped []int
	q := New(WithCapacity[int](3), WithDropCallback[int](func(v int) { dropped = append(dropped, v) }))

	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(i))
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []int{1, 2}, dropped)

	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)
}

func TestQueue_LenCallback(t *testing.T) {
	var lens []int
	q := New(WithLenCallback[int](func(n int) { lens = append(lens, n) }))
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	q.Pop()
	assert.Equal(t, []int{1, 2, 1}, lens)
}

func TestQueue_Notify(t *testing.T) {
	q := New[int]()

	select {
	case <-q.Notify():
		t.Fatal("unexpected notification on empty queue")
	default:
	}

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))

	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected notification after push")
	}

	// Notifications coalesce
	select {
	case <-q.Notify():
		t.Fatal("expected a single coalesced notification")
	default:
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1))
	q.Close()

	assert.ErrorIs(t, q.Push(2), ErrClosed)
	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(base*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	last := make(map[int]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	consume := func() {
		for {
			v, ok := q.Pop()
			if !ok {
				return
			}
			producer := v / perProducer
			if prev, ok := last[producer]; ok {
				assert.Greater(t, v, prev, "per-producer order must be preserved")
			}
			last[producer] = v
			seen[v] = true
		}
	}

	for {
		select {
		case <-done:
			consume()
			assert.Len(t, seen, producers*perProducer)
			return
		case <-q.Notify():
			consume()
		}
	}
}

func TestQueue_HeadSequence(t *testing.T) {
	q := New[string]()
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))

	v, seq, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, uint64(0), seq)

	assert.True(t, q.PopIf(seq))
	assert.False(t, q.PopIf(seq), "a sequence number is removed only once")

	v, seq, ok = q.Head()
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, uint64(1), seq)

	assert.True(t, q.PopIf(seq))
	_, _, ok = q.Head()
	assert.False(t, ok)
	assert.False(t, q.PopIf(2))
}

func TestQueue_PopIfAfterOverflow(t *testing.T) {
	q := New(WithCapacity[string](2))
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))

	sent, seq, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, "a", sent)

	// "a" is dropped while it is being delivered
	require.NoError(t, q.Push("c"))
	assert.False(t, q.PopIf(seq), "the item behind the dropped head must stay queued")

	var got []string
	for {
		v, seq, ok := q.Head()
		if !ok {
			break
		}
		require.True(t, q.PopIf(seq))
		got = append(got, v)
	}
	assert.Equal(t, []string{"b", "c"}, got)
}
