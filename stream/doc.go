// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream implements the byte-transport layer between the host
// and consumer execution contexts:
//
//   - ringbuffer.go: lock-free single-producer/single-consumer byte
//     ring with atomic cursors, the shared-memory fast path
//   - packet.go: binary framing that multiplexes many terminal ids
//     onto the ring's single byte stream, tolerant of partial reads
//
// The ring carries framed packets; the parser on the consumer side
// reassembles per-terminal streams. Byte order is preserved within a
// terminal and unspecified across terminals.
package stream
