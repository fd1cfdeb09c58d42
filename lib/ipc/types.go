// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "time"

// Message kind constants. Kind selects which optional fields of
// Message are populated.
const (
	// KindOutput carries one terminal's coalesced output for a flush
	// tick. Host → consumer.
	KindOutput = "output"

	// KindExit reports that a terminal's process exited. Host → consumer.
	KindExit = "exit"

	// KindError reports a non-fatal per-terminal error. Host → consumer.
	KindError = "error"

	// KindStatus reports flow-control state for a terminal that has
	// been paused past its grace period. Host → consumer.
	KindStatus = "status"

	// KindTrashed announces a terminal entering the trash state with
	// its expiry deadline. Host → consumer.
	KindTrashed = "trashed"

	// KindRestored announces a terminal leaving the trash state.
	// Host → consumer.
	KindRestored = "restored"

	// KindAcknowledge confirms delivery of output bytes so the host
	// can release backpressure accounting. Consumer → host.
	KindAcknowledge = "acknowledge"

	// KindInput carries keyboard input for a terminal. Consumer → host.
	KindInput = "input"

	// KindResize carries new terminal dimensions. Consumer → host.
	KindResize = "resize"
)

// Message is a single fallback-protocol message. TerminalID is always
// set; the remaining fields depend on Kind.
type Message struct {
	// Kind is one of the Kind* constants.
	Kind string `cbor:"kind"`

	// TerminalID identifies the terminal this message concerns.
	TerminalID string `cbor:"terminal_id"`

	// Data is the payload for KindOutput and KindInput. For
	// KindOutput it is the concatenation of every chunk admitted for
	// this terminal since the previous flush tick, in arrival order.
	Data []byte `cbor:"data,omitempty"`

	// ExitCode is the process exit code for KindExit.
	ExitCode int `cbor:"exit_code,omitempty"`

	// Error is a human-readable description for KindError.
	Error string `cbor:"error,omitempty"`

	// Status is the flow-control snapshot for KindStatus.
	Status *StatusPayload `cbor:"status,omitempty"`

	// ExpiresAt is the trash expiry deadline for KindTrashed.
	ExpiresAt time.Time `cbor:"expires_at,omitempty"`

	// Length is the number of delivered bytes for KindAcknowledge.
	Length int64 `cbor:"length,omitempty"`

	// Columns and Rows are the new dimensions for KindResize.
	Columns uint16 `cbor:"columns,omitempty"`
	Rows    uint16 `cbor:"rows,omitempty"`
}

// StatusPayload is the flow-control snapshot carried by KindStatus
// messages.
type StatusPayload struct {
	// BufferUtilization is the shared ring's fill fraction (0..1) at
	// emission time, or zero when running on the fallback path.
	BufferUtilization float64 `cbor:"buffer_utilization"`

	// PauseDuration is how long the terminal has been paused.
	PauseDuration time.Duration `cbor:"pause_duration"`

	// PendingBytes is the terminal's unacknowledged byte count.
	PendingBytes int64 `cbor:"pending_bytes"`
}
