// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the host ↔
// consumer fallback protocol, used when the shared-memory ring is
// unavailable. Both the host binary and the viewer import this
// package so the wire types are defined once rather than mirrored.
//
// Messages are batched: the flow.Queue emits at most one OutputBatch
// per terminal per flush tick, holding the concatenation of every
// chunk that terminal produced since the previous tick. The byte
// sequence per terminal is identical to what the shared-memory path
// delivers.
package ipc
