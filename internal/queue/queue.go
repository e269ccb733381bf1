// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package queue provides the ordered outbound queue between the transceiver
// session (producer) and the event publisher (consumer).
//
// The queue is FIFO and safe for concurrent use. Consumers read the head
// with Head, deliver it, and only then remove it with PopIf, so an item that
// failed to send stays at the head. A capacity of zero means unbounded;
// otherwise the oldest item is dropped to make room when the queue is full.
// PopIf removes nothing when the delivered item was dropped in the meantime.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close
var ErrClosed = errors.New("queue closed")

// DropFunc is called, outside the queue lock, with every item dropped due
// to overflow
type DropFunc[T any] func(item T)

// Option configures a Queue
type Option[T any] func(*Queue[T])

// WithCapacity bounds the queue; when full the oldest item is dropped
func WithCapacity[T any](capacity int) Option[T] {
	return func(q *Queue[T]) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithDropCallback registers a callback for dropped items
func WithDropCallback[T any](fn DropFunc[T]) Option[T] {
	return func(q *Queue[T]) {
		q.onDrop = fn
	}
}

// WithLenCallback registers a callback receiving the length after each change
func WithLenCallback[T any](fn func(n int)) Option[T] {
	return func(q *Queue[T]) {
		q.onLen = fn
	}
}

// Queue is a FIFO queue with a readiness notification channel
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	closed   bool
	dropped  uint64
	removed  uint64 // items ever removed; the sequence number of the head
	notify   chan struct{}
	onDrop   DropFunc[T]
	onLen    func(n int)
}

// New creates an empty queue
func New[T any](opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{notify: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends an item. It never blocks.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	var dropped T
	didDrop := false
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		dropped = q.items[q.head]
		q.popLocked()
		q.dropped++
		didDrop = true
	}
	q.items = append(q.items, item)
	n := q.lenLocked()
	q.mu.Unlock()

	if didDrop && q.onDrop != nil {
		q.onDrop(dropped)
	}
	if q.onLen != nil {
		q.onLen(n)
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Peek returns the head item without removing it
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Head returns the head item and its sequence number. Sequence numbers
// increase by one per pushed item and are never reused.
func (q *Queue[T]) Head() (T, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() == 0 {
		var zero T
		return zero, 0, false
	}
	return q.items[q.head], q.removed, true
}

// PopIf removes the head if its sequence number is seq. It reports false
// when the item is no longer at the head, e.g. because overflow dropped it.
func (q *Queue[T]) PopIf(seq uint64) bool {
	q.mu.Lock()
	if q.lenLocked() == 0 || q.removed != seq {
		q.mu.Unlock()
		return false
	}
	q.popLocked()
	n := q.lenLocked()
	q.mu.Unlock()

	if q.onLen != nil {
		q.onLen(n)
	}
	return true
}

// Pop removes and returns the head item
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	if q.lenLocked() == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	item := q.items[q.head]
	q.popLocked()
	n := q.lenLocked()
	q.mu.Unlock()

	if q.onLen != nil {
		q.onLen(n)
	}
	return item, true
}

// popLocked removes the head, compacting the backing array once half of it
// is consumed
func (q *Queue[T]) popLocked() {
	var zero T
	q.items[q.head] = zero
	q.head++
	q.removed++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > len(q.items)/2 {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Dropped returns the number of items discarded due to overflow
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify returns a channel that receives a value after items are pushed.
// Notifications coalesce; consumers must drain with Peek/Pop after waking.
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notify
}

// Close rejects further pushes. Items already queued remain readable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
