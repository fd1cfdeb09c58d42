// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"sync/atomic"
)

// DefaultRingBufferSize is the default ring capacity in bytes. 4 MB
// absorbs a full per-terminal backpressure window of framed output
// between consumer drains.
const DefaultRingBufferSize = 4 * 1024 * 1024

// RingBuffer is a fixed-size lock-free byte ring for exactly one
// producer goroutine and one consumer goroutine. The producer calls
// Write, the consumer calls Read; both are non-blocking and return
// immediately with whatever the current cursors allow. Multiple
// producers or multiple consumers are not supported — correctness
// depends entirely on the SPSC contract plus atomic cursor operations
// for cross-context visibility.
//
// One byte of capacity is reserved so that readIndex == writeIndex
// always means strictly empty; a ring created with size n holds at
// most n-1 bytes.
type RingBuffer struct {
	data     []byte
	capacity uint64

	// writeIndex is the next write position, in [0, capacity). Stored
	// only by the producer, loaded by both sides. The store in Write
	// publishes the preceding data copy to the consumer.
	writeIndex atomic.Uint64

	// readIndex is the next read position, in [0, capacity). Stored
	// only by the consumer, after its copy out of data completes, so
	// the producer never overwrites bytes still being read.
	readIndex atomic.Uint64
}

// NewRingBuffer creates a ring with the given total size in bytes.
// Fails if the usable capacity (size minus the reserved byte) is
// below 2 bytes.
func NewRingBuffer(sizeBytes int) (*RingBuffer, error) {
	if sizeBytes-1 < 2 {
		return nil, fmt.Errorf("ring buffer size %d leaves usable capacity below 2 bytes", sizeBytes)
	}
	return &RingBuffer{
		data:     make([]byte, sizeBytes),
		capacity: uint64(sizeBytes),
	}, nil
}

// Capacity returns the number of usable bytes (total size minus the
// reserved byte).
func (ring *RingBuffer) Capacity() int {
	return int(ring.capacity - 1)
}

// Write copies as much of p as currently fits and returns the number
// of bytes written, which may be zero when the ring is full. Producer
// side only. Callers must retry or queue the remainder — a short
// write is the backpressure signal, not an error.
func (ring *RingBuffer) Write(p []byte) int {
	writePosition := ring.writeIndex.Load()
	readPosition := ring.readIndex.Load()

	free := ring.capacity - ((writePosition - readPosition + ring.capacity) % ring.capacity) - 1
	count := uint64(len(p))
	if count > free {
		count = free
	}
	if count == 0 {
		return 0
	}

	// At most two contiguous copies: up to the end of the backing
	// array, then the wrapped remainder from the start.
	firstSpan := ring.capacity - writePosition
	if firstSpan > count {
		firstSpan = count
	}
	copy(ring.data[writePosition:writePosition+firstSpan], p[:firstSpan])
	copy(ring.data[:count-firstSpan], p[firstSpan:count])

	// Publish after the copy so the consumer never observes the new
	// cursor before the bytes behind it.
	ring.writeIndex.Store((writePosition + count) % ring.capacity)
	return int(count)
}

// Read drains everything currently available, including across the
// wrap point, and returns it as a fresh slice. Returns nil when the
// ring is empty. Consumer side only. The read cursor advances only
// after the copy completes, so a concurrent Write can never clobber
// the returned bytes.
func (ring *RingBuffer) Read() []byte {
	readPosition := ring.readIndex.Load()
	writePosition := ring.writeIndex.Load()

	available := (writePosition - readPosition + ring.capacity) % ring.capacity
	if available == 0 {
		return nil
	}

	result := make([]byte, available)
	firstSpan := ring.capacity - readPosition
	if firstSpan > available {
		firstSpan = available
	}
	copy(result[:firstSpan], ring.data[readPosition:readPosition+firstSpan])
	copy(result[firstSpan:], ring.data[:available-firstSpan])

	ring.readIndex.Store((readPosition + available) % ring.capacity)
	return result
}

// FreeBytes returns how many bytes a Write could currently accept.
// Producer side: the consumer only ever grows this number, so a
// check-then-write sequence by the single producer cannot be invalidated.
func (ring *RingBuffer) FreeBytes() int {
	writePosition := ring.writeIndex.Load()
	readPosition := ring.readIndex.Load()
	return int(ring.capacity - ((writePosition - readPosition + ring.capacity) % ring.capacity) - 1)
}

// HasData reports whether at least one byte is available to read.
// Non-mutating; safe from either side.
func (ring *RingBuffer) HasData() bool {
	return ring.readIndex.Load() != ring.writeIndex.Load()
}

// Utilization returns the fraction of usable capacity currently
// occupied, in [0, 1]. Non-mutating; safe from either side.
func (ring *RingBuffer) Utilization() float64 {
	readPosition := ring.readIndex.Load()
	writePosition := ring.writeIndex.Load()
	used := (writePosition - readPosition + ring.capacity) % ring.capacity
	return float64(used) / float64(ring.capacity-1)
}
