// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"log/slog"
	"sync"

	"github.com/hostmux/hostmux/config"
	"github.com/hostmux/hostmux/lib/clock"
)

// GovernorConfig configures a Governor.
type GovernorConfig struct {
	// Governor supplies thresholds and the sample interval.
	Governor config.GovernorConfig

	// PendingBytes returns the aggregate unacknowledged byte count,
	// normally Backpressure.TotalPending. Required.
	PendingBytes func() int64

	// MemoryBytes samples memory usage. A sampling error is treated
	// as "no change", never as "throttle". If nil, a platform
	// default (sysinfo on Linux) is used.
	MemoryBytes func() (uint64, error)

	// Clock drives the sampling ticker. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives throttle transitions. If nil, slog.Default().
	Logger *slog.Logger

	// OnThrottle is invoked on every throttle transition, without
	// internal locks held.
	OnThrottle func(throttled bool)
}

// Governor is the process-wide safety valve. It periodically samples
// aggregate pending bytes and memory; crossing a threshold flips the
// throttled flag, which Backpressure folds into its global check.
//
// Entry is immediate; recovery is debounced — it takes the configured
// number of consecutive below-threshold samples to clear, so bursty
// load cannot flap the throttle. The sampling path never panics and a
// failed memory read changes nothing.
type Governor struct {
	mu            sync.Mutex
	configuration config.GovernorConfig
	clock         clock.Clock
	logger        *slog.Logger

	pendingBytes func() int64
	memoryBytes  func() (uint64, error)
	onThrottle   func(bool)

	throttled   bool
	goodSamples int

	ticker   *clock.Ticker
	stopTick chan struct{}
	tickDone chan struct{}
}

// NewGovernor creates a governor. It does not sample until Start.
func NewGovernor(configuration GovernorConfig) *Governor {
	clk := configuration.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = slog.Default()
	}
	memory := configuration.MemoryBytes
	if memory == nil {
		memory = systemMemoryBytes
	}
	return &Governor{
		configuration: configuration.Governor,
		clock:         clk,
		logger:        logger,
		pendingBytes:  configuration.PendingBytes,
		memoryBytes:   memory,
		onThrottle:    configuration.OnThrottle,
	}
}

// Start launches the sampling ticker; Stop releases it.
func (governor *Governor) Start() {
	governor.mu.Lock()
	if governor.ticker != nil {
		governor.mu.Unlock()
		return
	}
	governor.ticker = governor.clock.NewTicker(governor.configuration.SampleInterval)
	governor.stopTick = make(chan struct{})
	governor.tickDone = make(chan struct{})
	ticker, stop, done := governor.ticker, governor.stopTick, governor.tickDone
	governor.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				governor.Sample()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts sampling, waits for an in-flight Sample to finish, and
// clears the throttle. Nothing samples after Stop, so a throttle left
// set could never recover and would hold the global pause forever in
// a restartable embedding.
func (governor *Governor) Stop() {
	governor.mu.Lock()
	ticker, stop, done := governor.ticker, governor.stopTick, governor.tickDone
	governor.ticker, governor.stopTick, governor.tickDone = nil, nil, nil
	governor.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		<-done
	}

	governor.mu.Lock()
	wasThrottled := governor.throttled
	governor.throttled = false
	governor.goodSamples = 0
	governor.mu.Unlock()

	if wasThrottled {
		governor.logger.Info("resource throttle cleared on stop")
		if governor.onThrottle != nil {
			governor.onThrottle(false)
		}
	}
}

// Sample takes one reading and applies the threshold and debounce
// rules. Start runs it on the configured interval; it is exported so
// tests can drive it deterministically.
func (governor *Governor) Sample() {
	pending := governor.pendingBytes()

	memory, err := governor.memoryBytes()
	if err != nil {
		// A metrics source being unavailable must read as "no
		// change", not "throttle".
		governor.logger.Debug("memory sample failed, keeping state", "error", err)
		return
	}

	over := pending > governor.configuration.PendingThresholdBytes ||
		memory > governor.configuration.MemoryThresholdBytes

	var transition *bool
	governor.mu.Lock()
	switch {
	case over:
		governor.goodSamples = 0
		if !governor.throttled {
			governor.throttled = true
			throttled := true
			transition = &throttled
		}
	case governor.throttled:
		governor.goodSamples++
		if governor.goodSamples >= governor.configuration.RecoverySamples {
			governor.throttled = false
			governor.goodSamples = 0
			throttled := false
			transition = &throttled
		}
	}
	governor.mu.Unlock()

	if transition != nil {
		governor.logger.Info("resource governor transition",
			"throttled", *transition,
			"pending_bytes", pending,
			"memory_bytes", memory)
		if governor.onThrottle != nil {
			governor.onThrottle(*transition)
		}
	}
}

// Throttled reports the current throttle state.
func (governor *Governor) Throttled() bool {
	governor.mu.Lock()
	defer governor.mu.Unlock()
	return governor.throttled
}
