// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Every timer in this module — the queue flush tick, the backpressure
// global-ceiling recheck, the governor sampling loop, and the registry
// trash TTL — goes through a Clock so tests can drive time
// deterministically instead of sleeping.
//
// Production code injects Real(); tests inject Fake(initial) and call
// Advance to fire pending timers in deadline order:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	q := flow.NewQueue(flow.QueueConfig{Clock: c, ...})
//	c.Advance(16 * time.Millisecond) // one flush tick, synchronously
//
// FakeClock fires AfterFunc callbacks synchronously inside Advance. Do
// not call Advance from within such a callback.
package clock
