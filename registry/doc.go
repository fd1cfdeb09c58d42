// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry is the lifecycle authority for terminal existence.
//
// A terminal is active, trashed (soft-deleted with a TTL, reversible),
// or removed. Every other component consults the registry before
// processing an event for a terminal id: flow control and queuing
// refuse ids the registry does not know.
//
// The trash timer callback captures only the terminal id and re-looks
// the record up at fire time, so a cancelled or superseded trash cycle
// can never act on stale state.
package registry
