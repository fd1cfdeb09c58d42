// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Time moves only
// when Advance is called.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. AfterFunc callbacks
// run synchronously inside Advance, in deadline order, so a test that
// advances past a trash TTL or a flush tick observes the effect before
// Advance returns.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*fakeEvent
}

// fakeEvent is a scheduled timer or ticker tick.
type fakeEvent struct {
	deadline time.Time

	// fn is set for AfterFunc events, channel for ticker events.
	fn      func()
	channel chan time.Time

	// every is the reschedule interval for ticker events; zero for
	// one-shot events.
	every time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f after duration d. If d <= 0, f runs before
// AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	event := &fakeEvent{deadline: c.current.Add(d), fn: f}
	c.pending = append(c.pending, event)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if event.stopped || event.fired {
			return false
		}
		event.stopped = true
		return true
	}}
}

// NewTicker returns a fake ticker. Each elapsed interval during an
// Advance delivers one tick; ticks that would overflow the 1-slot
// channel are dropped, matching time.Ticker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	channel := make(chan time.Time, 1)
	event := &fakeEvent{deadline: c.current.Add(d), channel: channel, every: d}
	c.pending = append(c.pending, event)
	c.mu.Unlock()

	return &Ticker{
		C: channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			event.stopped = true
		},
		resetFunc: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			event.every = d
			event.deadline = c.current.Add(d)
			event.stopped = false
		},
	}
}

// PendingTimers returns the number of live scheduled events. Tests use
// it to verify that Stop released a timer.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, event := range c.pending {
		if !event.stopped && !event.fired {
			count++
		}
	}
	return count
}

// Advance moves the clock forward by d, firing every event whose
// deadline falls within the new time. Events fire in deadline order.
// Tickers fire once per elapsed interval.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, event := range due {
			if event.fn != nil {
				event.fn()
				continue
			}
			select {
			case event.channel <- target:
			default:
			}
		}
	}
}

// takeDue removes due events from the pending list, rescheduling
// tickers, and returns them.
func (c *FakeClock) takeDue(target time.Time) []*fakeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*fakeEvent
	var keep []*fakeEvent
	for _, event := range c.pending {
		if event.stopped {
			continue
		}
		if event.deadline.After(target) {
			keep = append(keep, event)
			continue
		}
		due = append(due, event)
	}
	for _, event := range due {
		if event.every > 0 {
			event.deadline = event.deadline.Add(event.every)
			keep = append(keep, event)
		} else {
			event.fired = true
		}
	}
	c.pending = keep
	return due
}
