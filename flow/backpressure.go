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

// PauseReason records why a terminal stopped admitting output.
type PauseReason string

const (
	// PauseCeiling means the terminal's unacknowledged bytes crossed
	// its per-terminal ceiling.
	PauseCeiling PauseReason = "ceiling"

	// PauseStall means the consumer stopped acknowledging while bytes
	// were pending.
	PauseStall PauseReason = "stall"
)

// Status is the flow-control snapshot emitted when a terminal has
// been paused past the hard pause ceiling — the unresponsive-consumer
// signal. It is informational, never fatal.
type Status struct {
	TerminalID        string
	PendingBytes      int64
	PauseDuration     time.Duration
	Reason            PauseReason
	ConsecutiveStalls int
}

// BackpressureConfig configures a Backpressure manager.
type BackpressureConfig struct {
	// Flow supplies the ceilings, thresholds, and intervals.
	Flow config.FlowConfig

	// Clock drives the global recheck ticker. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives flow diagnostics. If nil, slog.Default().
	Logger *slog.Logger

	// OnPause, OnResume, OnGlobalPause, and OnStatus are optional
	// transition callbacks. They are invoked without internal locks
	// held, so they may call back into the manager.
	OnPause       func(terminalID string, reason PauseReason)
	OnResume      func(terminalID string)
	OnGlobalPause func(paused bool)
	OnStatus      func(status Status)
}

// terminalState is the per-terminal flow accounting. One exists per
// live terminal, created on Register and removed on Unregister — a
// killed terminal leaves no orphaned counters behind.
type terminalState struct {
	pendingBytes int64
	paused       bool
	reason       PauseReason
	pausedAt     time.Time

	// lastDrain is the last time the consumer acknowledged anything
	// for this terminal. Drives stall detection.
	lastDrain time.Time

	consecutiveStalls int

	// statusReported keeps the hard-pause status event to one per
	// pause episode.
	statusReported bool
}

// Backpressure decides, per terminal and globally, whether PTY output
// is admitted into the transport or held upstream.
//
// Per terminal: flowing → paused when pending bytes exceed the
// ceiling or the consumer stalls past the timeout. paused → flowing
// only through Acknowledge, and only when pending bytes have fallen
// to the resume threshold (strictly below the ceiling — the
// hysteresis band that prevents oscillation) after a minimum paused
// interval. ForceResume bypasses all of that as an explicit escape
// hatch.
//
// Globally: the sum of pending bytes across terminals is compared to
// the global ceiling on a fixed interval, not per byte; while it is
// exceeded (or the governor has throttled the process) every terminal
// holds regardless of individual state.
//
// Safe for concurrent use.
type Backpressure struct {
	mu     sync.Mutex
	flow   config.FlowConfig
	clock  clock.Clock
	logger *slog.Logger

	terminals    map[string]*terminalState
	globalPaused bool
	throttled    bool

	ticker   *clock.Ticker
	stopTick chan struct{}
	tickDone chan struct{}

	onPause       func(string, PauseReason)
	onResume      func(string)
	onGlobalPause func(bool)
	onStatus      func(Status)
}

// NewBackpressure creates a manager with no registered terminals.
func NewBackpressure(configuration BackpressureConfig) *Backpressure {
	clk := configuration.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backpressure{
		flow:          configuration.Flow,
		clock:         clk,
		logger:        logger,
		terminals:     make(map[string]*terminalState),
		onPause:       configuration.OnPause,
		onResume:      configuration.OnResume,
		onGlobalPause: configuration.OnGlobalPause,
		onStatus:      configuration.OnStatus,
	}
}

// Start launches the global recheck ticker. Stop releases it.
func (manager *Backpressure) Start() {
	manager.mu.Lock()
	if manager.ticker != nil {
		manager.mu.Unlock()
		return
	}
	manager.ticker = manager.clock.NewTicker(manager.flow.GlobalCheckInterval)
	manager.stopTick = make(chan struct{})
	manager.tickDone = make(chan struct{})
	ticker, stop, done := manager.ticker, manager.stopTick, manager.tickDone
	manager.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				manager.Recheck()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the recheck ticker and waits for an in-flight Recheck to
// finish. Registered terminals and their accounting are left
// untouched.
func (manager *Backpressure) Stop() {
	manager.mu.Lock()
	ticker, stop, done := manager.ticker, manager.stopTick, manager.tickDone
	manager.ticker, manager.stopTick, manager.tickDone = nil, nil, nil
	manager.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		<-done
	}
}

// Register creates flow accounting for a terminal. Registering an
// already-known id is a no-op.
func (manager *Backpressure) Register(terminalID string) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if _, known := manager.terminals[terminalID]; known {
		return
	}
	manager.terminals[terminalID] = &terminalState{lastDrain: manager.clock.Now()}
}

// Unregister removes a terminal's accounting immediately. Its pending
// bytes stop counting toward the global ceiling on the next recheck.
func (manager *Backpressure) Unregister(terminalID string) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	delete(manager.terminals, terminalID)
}

// OnOutput is called for every chunk of PTY output. It returns true
// when the chunk is admitted into the transport, false when the
// terminal (or the whole process) is paused and the chunk must be
// held upstream for retry. Unknown terminals are always held.
//
// An admitted chunk may push pending bytes past the ceiling; that
// chunk still goes through, and the pause applies from the next chunk
// on. This is what bounds a burst to exactly one pause transition.
func (manager *Backpressure) OnOutput(terminalID string, size int) bool {
	manager.mu.Lock()
	state, known := manager.terminals[terminalID]
	if !known {
		manager.mu.Unlock()
		manager.logger.Debug("output for unknown terminal held", "terminal_id", terminalID)
		return false
	}
	if manager.globalPaused || state.paused {
		manager.mu.Unlock()
		return false
	}

	state.pendingBytes += int64(size)
	var paused bool
	if state.pendingBytes > manager.flow.PerTerminalCeilingBytes {
		manager.pauseLocked(state, PauseCeiling)
		paused = true
	}
	manager.mu.Unlock()

	if paused && manager.onPause != nil {
		manager.onPause(terminalID, PauseCeiling)
	}
	return true
}

// Acknowledge records that the consumer confirmed delivery of
// consumedBytes for a terminal. It is the only trigger that can flip
// a paused terminal back to flowing — and only when pending bytes
// have dropped to the resume threshold or below and the terminal has
// been paused at least the minimum recheck interval.
func (manager *Backpressure) Acknowledge(terminalID string, consumedBytes int64) {
	now := manager.clock.Now()

	manager.mu.Lock()
	state, known := manager.terminals[terminalID]
	if !known {
		manager.mu.Unlock()
		return
	}
	state.pendingBytes -= consumedBytes
	if state.pendingBytes < 0 {
		state.pendingBytes = 0
	}
	state.lastDrain = now
	state.consecutiveStalls = 0

	var resumed bool
	if state.paused &&
		state.pendingBytes <= manager.flow.ResumeThresholdBytes &&
		now.Sub(state.pausedAt) >= manager.flow.MinRecheckInterval {
		manager.resumeLocked(state)
		resumed = true
	}
	manager.mu.Unlock()

	if resumed && manager.onResume != nil {
		manager.onResume(terminalID)
	}
}

// ForceResume unconditionally clears a terminal's pause state,
// bypassing hysteresis. It is an explicitly invoked escape hatch, not
// an automatic transition; pending-byte accounting is left intact, so
// the terminal may well pause again on its next chunk.
func (manager *Backpressure) ForceResume(terminalID string) {
	manager.mu.Lock()
	state, known := manager.terminals[terminalID]
	if !known || !state.paused {
		manager.mu.Unlock()
		return
	}
	manager.resumeLocked(state)
	manager.mu.Unlock()

	manager.logger.Info("terminal force-resumed", "terminal_id", terminalID)
	if manager.onResume != nil {
		manager.onResume(terminalID)
	}
}

// SetThrottled applies or clears the governor's process-wide
// throttle. While set, the global pause holds regardless of the byte
// totals.
func (manager *Backpressure) SetThrottled(throttled bool) {
	manager.mu.Lock()
	manager.throttled = throttled
	manager.mu.Unlock()
	manager.Recheck()
}

// Recheck re-evaluates the global ceiling, stall timeouts, and
// hard-pause escalation. Start runs it on the configured interval;
// it is exported so tests (and the governor) can drive it directly.
func (manager *Backpressure) Recheck() {
	now := manager.clock.Now()

	type pauseEvent struct {
		terminalID string
		reason     PauseReason
	}
	var pauses []pauseEvent
	var statuses []Status
	var globalChanged bool
	var globalNow bool

	manager.mu.Lock()
	var total int64
	for _, state := range manager.terminals {
		total += state.pendingBytes
	}

	shouldPause := manager.throttled || total > manager.flow.GlobalCeilingBytes
	if shouldPause != manager.globalPaused {
		manager.globalPaused = shouldPause
		globalChanged = true
		globalNow = shouldPause
	}

	for terminalID, state := range manager.terminals {
		if !state.paused && state.pendingBytes > 0 &&
			now.Sub(state.lastDrain) > manager.flow.StallTimeout {
			state.consecutiveStalls++
			manager.pauseLocked(state, PauseStall)
			pauses = append(pauses, pauseEvent{terminalID, PauseStall})
		}
		if state.paused && !state.statusReported &&
			now.Sub(state.pausedAt) >= manager.flow.HardPauseCeiling {
			state.statusReported = true
			statuses = append(statuses, Status{
				TerminalID:        terminalID,
				PendingBytes:      state.pendingBytes,
				PauseDuration:     now.Sub(state.pausedAt),
				Reason:            state.reason,
				ConsecutiveStalls: state.consecutiveStalls,
			})
		}
	}
	manager.mu.Unlock()

	if globalChanged {
		manager.logger.Info("global flow state changed", "paused", globalNow, "total_pending", total)
		if manager.onGlobalPause != nil {
			manager.onGlobalPause(globalNow)
		}
	}
	for _, event := range pauses {
		manager.logger.Warn("terminal paused on consumer stall", "terminal_id", event.terminalID)
		if manager.onPause != nil {
			manager.onPause(event.terminalID, event.reason)
		}
	}
	for _, status := range statuses {
		if manager.onStatus != nil {
			manager.onStatus(status)
		}
	}
}

// Pending returns a terminal's unacknowledged byte count.
func (manager *Backpressure) Pending(terminalID string) int64 {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if state, known := manager.terminals[terminalID]; known {
		return state.pendingBytes
	}
	return 0
}

// TotalPending returns the sum of unacknowledged bytes across all
// terminals — the governor's aggregate input.
func (manager *Backpressure) TotalPending() int64 {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	var total int64
	for _, state := range manager.terminals {
		total += state.pendingBytes
	}
	return total
}

// Paused reports whether a terminal is individually paused.
func (manager *Backpressure) Paused(terminalID string) bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	state, known := manager.terminals[terminalID]
	return known && state.paused
}

// GloballyPaused reports whether the global ceiling or the governor
// throttle is currently holding all terminals.
func (manager *Backpressure) GloballyPaused() bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.globalPaused
}

// pauseLocked and resumeLocked mutate state under manager.mu.
func (manager *Backpressure) pauseLocked(state *terminalState, reason PauseReason) {
	state.paused = true
	state.reason = reason
	state.pausedAt = manager.clock.Now()
	state.statusReported = false
}

func (manager *Backpressure) resumeLocked(state *terminalState) {
	state.paused = false
	state.reason = ""
	state.pausedAt = time.Time{}
	state.statusReported = false
}
