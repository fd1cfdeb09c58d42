// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hostmux/hostmux/config"
	"github.com/hostmux/hostmux/lib/clock"
)

// Tier is a terminal's activity tier. It selects the flush cadence:
// foreground terminals flush every tick, background terminals on the
// longer background interval.
type Tier string

const (
	// TierForeground is for terminals the user is watching.
	TierForeground Tier = "foreground"

	// TierBackground is for terminals running unattended (long
	// agent sessions, builds). Their output still arrives intact,
	// just batched more coarsely.
	TierBackground Tier = "background"
)

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Queue supplies the flush intervals.
	Queue config.QueueConfig

	// Exists is the registry existence check consulted before
	// accepting bytes for a terminal id. Required.
	Exists func(terminalID string) bool

	// Deliver hands one terminal's coalesced bytes to the transport
	// and returns how many were consumed. A short count (ring full)
	// leaves the remainder queued for the next tick; it is never
	// dropped. Required.
	Deliver func(terminalID string, data []byte) int

	// Clock drives the flush ticker. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives queue diagnostics. If nil, slog.Default().
	Logger *slog.Logger
}

// queueEntry is one terminal's staged output. Same-terminal chunks
// arriving between flushes are concatenated into this single payload
// rather than accumulated as a list, so a flush tick produces at most
// one message per terminal no matter how bursty the producer was.
type queueEntry struct {
	data      []byte
	tier      Tier
	lastFlush time.Time

	// flushing marks the entry as claimed by an in-progress flush.
	// Delivery and the trim that follows happen outside the lock, so
	// a concurrent flush must not snapshot the same staged bytes: it
	// would deliver them twice and the second trim would slice past
	// the already-shortened entry.
	flushing bool
}

// Queue coalesces admitted terminal output and delivers it on a fixed
// cadence instead of per output event — the lever that bounds the
// cross-boundary message rate to the number of active terminals per
// tick. It keeps no byte limit of its own: admission is decided
// upstream by Backpressure, the single source of truth for whether a
// terminal is accepting data.
//
// Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	queue   config.QueueConfig
	clock   clock.Clock
	logger  *slog.Logger
	exists  func(string) bool
	deliver func(string, []byte) int

	entries map[string]*queueEntry

	ticker   *clock.Ticker
	stopTick chan struct{}
	tickDone chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue(configuration QueueConfig) *Queue {
	clk := configuration.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		queue:   configuration.Queue,
		clock:   clk,
		logger:  logger,
		exists:  configuration.Exists,
		deliver: configuration.Deliver,
		entries: make(map[string]*queueEntry),
	}
}

// Start launches the flush ticker at the foreground interval;
// background terminals are flushed on the ticks where their longer
// interval has elapsed. Stop releases the ticker.
func (queue *Queue) Start() {
	queue.mu.Lock()
	if queue.ticker != nil {
		queue.mu.Unlock()
		return
	}
	queue.ticker = queue.clock.NewTicker(queue.queue.FlushInterval)
	queue.stopTick = make(chan struct{})
	queue.tickDone = make(chan struct{})
	ticker, stop, done := queue.ticker, queue.stopTick, queue.tickDone
	queue.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				queue.Flush()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the flush ticker and waits for any tick-driven flush to
// finish, so a follow-up FlushAll cannot overlap it. Staged bytes
// remain queued; callers that want them out should Flush once more
// after Stop.
func (queue *Queue) Stop() {
	queue.mu.Lock()
	ticker, stop, done := queue.ticker, queue.stopTick, queue.tickDone
	queue.ticker, queue.stopTick, queue.tickDone = nil, nil, nil
	queue.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		<-done
	}
}

// Register creates a staging entry for a terminal in the foreground
// tier. Registering a known id is a no-op.
func (queue *Queue) Register(terminalID string) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if _, known := queue.entries[terminalID]; known {
		return
	}
	queue.entries[terminalID] = &queueEntry{tier: TierForeground}
}

// Remove drops a terminal's staging entry and any bytes still queued.
// Called on kill, where discarding is the point.
func (queue *Queue) Remove(terminalID string) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	delete(queue.entries, terminalID)
}

// SetTier moves a terminal between activity tiers.
func (queue *Queue) SetTier(terminalID string, tier Tier) {
	if tier != TierForeground && tier != TierBackground {
		queue.logger.Debug("unknown activity tier ignored", "terminal_id", terminalID, "tier", string(tier))
		return
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if entry, known := queue.entries[terminalID]; known {
		entry.tier = tier
	}
}

// Enqueue stages admitted output for a terminal, concatenating onto
// whatever is already waiting. The chunk is copied — PTY read loops
// reuse their buffers. Returns false (with a diagnostic) for ids the
// registry does not know.
func (queue *Queue) Enqueue(terminalID string, chunk []byte) bool {
	if queue.exists != nil && !queue.exists(terminalID) {
		queue.logger.Debug("output for unregistered terminal dropped", "terminal_id", terminalID)
		return false
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	entry, known := queue.entries[terminalID]
	if !known {
		queue.logger.Debug("output for unstaged terminal dropped", "terminal_id", terminalID)
		return false
	}
	entry.data = append(entry.data, chunk...)
	return true
}

// Flush delivers every due terminal's staged bytes: at most one
// Deliver call per terminal. Short delivery counts leave the
// remainder staged. Returns the number of terminals delivered to.
// Start runs it on the ticker; tests call it directly.
func (queue *Queue) Flush() int {
	return queue.flush(false)
}

// FlushAll delivers every terminal's staged bytes regardless of flush
// cadence. Used at shutdown, where waiting out an interval would
// strand the tail of a session's output.
func (queue *Queue) FlushAll() int {
	return queue.flush(true)
}

func (queue *Queue) flush(ignoreCadence bool) int {
	now := queue.clock.Now()

	queue.mu.Lock()
	type dueEntry struct {
		terminalID string
		data       []byte
	}
	var due []dueEntry
	for terminalID, entry := range queue.entries {
		if len(entry.data) == 0 || entry.flushing {
			continue
		}
		interval := queue.queue.FlushInterval
		if entry.tier == TierBackground {
			interval = queue.queue.BackgroundFlushInterval
		}
		if !ignoreCadence && !entry.lastFlush.IsZero() && now.Sub(entry.lastFlush) < interval {
			continue
		}
		entry.flushing = true
		due = append(due, dueEntry{terminalID, entry.data})
	}
	queue.mu.Unlock()

	delivered := 0
	for _, candidate := range due {
		consumed := queue.deliver(candidate.terminalID, candidate.data)

		queue.mu.Lock()
		// A still-set flushing flag proves this is the entry we
		// claimed; a Remove+Register during delivery produces a fresh
		// entry whose bytes were never delivered and must not be
		// trimmed.
		if entry, known := queue.entries[candidate.terminalID]; known && entry.flushing {
			entry.flushing = false
			if consumed > 0 {
				// Trim exactly the delivered prefix. Bytes enqueued
				// during delivery sit after it and are preserved.
				entry.data = append(entry.data[:0:0], entry.data[consumed:]...)
				entry.lastFlush = now
			}
		}
		queue.mu.Unlock()

		if consumed > 0 {
			delivered++
		}
	}
	return delivered
}

// PendingBytes returns how many bytes are staged for a terminal.
func (queue *Queue) PendingBytes(terminalID string) int {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if entry, known := queue.entries[terminalID]; known {
		return len(entry.data)
	}
	return 0
}
