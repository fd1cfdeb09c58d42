// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"io"
	"log/slog"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/hostmux/hostmux/lib/codec"
	"github.com/hostmux/hostmux/lib/ipc"
	"github.com/hostmux/hostmux/stream"
)

// A transport moves coalesced terminal output toward the consumer.
// Deliver returns how many bytes of data it accepted; the queue keeps
// the rest and retries on the next flush.
type transport interface {
	Deliver(terminalID string, data []byte) int
}

// ringTransport frames output into the shared ring buffer. A frame is
// written only when it fits whole: the parser on the far side never
// sees a truncated frame, and the undelivered suffix stays in the
// queue rather than being dropped.
type ringTransport struct {
	ring   *stream.RingBuffer
	logger *slog.Logger
}

func newRingTransport(ring *stream.RingBuffer, logger *slog.Logger) *ringTransport {
	return &ringTransport{ring: ring, logger: logger}
}

func (sink *ringTransport) Deliver(terminalID string, data []byte) int {
	delivered := 0
	for _, chunk := range stream.SplitPayload(data) {
		frame, err := stream.Frame(terminalID, chunk)
		if err != nil {
			// Unframeable output (oversized id) cannot be retried;
			// count it as delivered so the queue drops it.
			sink.logger.Error("dropping unframeable output",
				"terminal_id", terminalID, "error", err)
			delivered += len(chunk)
			continue
		}
		if len(frame) > sink.ring.FreeBytes() {
			break
		}
		sink.ring.Write(frame)
		delivered += len(chunk)
	}
	return delivered
}

// ipcTransport encodes output as messages on a byte stream, for hosts
// running without a shared ring buffer. Delivery either takes a whole
// payload or none of it, so both transports hand the consumer the
// same byte sequence.
type ipcTransport struct {
	mutex   sync.Mutex
	encoder *cbor.Encoder
	logger  *slog.Logger
}

func newIPCTransport(writer io.Writer, logger *slog.Logger) *ipcTransport {
	return &ipcTransport{encoder: codec.NewEncoder(writer), logger: logger}
}

func (sink *ipcTransport) Deliver(terminalID string, data []byte) int {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	message := ipc.Message{
		Kind:       ipc.KindOutput,
		TerminalID: terminalID,
		Data:       data,
	}
	if err := sink.encoder.Encode(message); err != nil {
		sink.logger.Error("terminal output send failed",
			"terminal_id", terminalID, "error", err)
		return 0
	}
	return len(data)
}
