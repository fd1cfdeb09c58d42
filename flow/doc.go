// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package flow implements the host-side flow-control plane:
//
//   - backpressure.go: per-terminal flowing/paused state machine with
//     hysteresis, plus the interval-checked global byte ceiling
//   - queue.go: per-terminal output coalescing with tick-driven flush,
//     the staging point for both the shared-ring and IPC paths
//   - governor.go: process-wide throttle from debounced memory and
//     pending-byte samples
//
// Capacity exhaustion here is never an error. A paused terminal is a
// backpressure signal expected to self-resolve through consumer
// acknowledgement; only a consumer stalled past its grace period or a
// governor threshold breach surfaces as a visible status, and neither
// is fatal.
package flow
