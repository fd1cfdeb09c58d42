// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package host assembles the terminal output pipeline.
//
// A Host owns the registry, backpressure ledger, coalescing queue, and
// resource governor, and wires them to a transport: a shared-memory
// ring buffer when one is available, framed IPC messages otherwise.
// Terminal output enters through HandleOutput (or a read loop started
// by Attach), flows through admission and coalescing, and leaves as
// framed packets. The consumer side runs a Drainer, which parses the
// ring and hands per-terminal data to the host's observers.
//
// Output that admission holds back is kept by the Host and retried
// when the terminal resumes, so a paused terminal loses nothing.
package host
