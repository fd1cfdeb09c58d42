// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/hostmux/hostmux/config"
	"github.com/hostmux/hostmux/lib/clock"
)

func testGovernorConfig() config.GovernorConfig {
	return config.GovernorConfig{
		SampleInterval:        time.Second, // tests drive Sample directly
		MemoryThresholdBytes:  1 << 30,
		PendingThresholdBytes: 10000,
		RecoverySamples:       3,
	}
}

// meteredSource is a controllable pending/memory source.
type meteredSource struct {
	pending   int64
	memory    uint64
	memoryErr error
}

func (source *meteredSource) pendingBytes() int64 { return source.pending }

func (source *meteredSource) memoryBytes() (uint64, error) {
	return source.memory, source.memoryErr
}

func newTestGovernor(source *meteredSource, onThrottle func(bool)) *Governor {
	return NewGovernor(GovernorConfig{
		Governor:     testGovernorConfig(),
		PendingBytes: source.pendingBytes,
		MemoryBytes:  source.memoryBytes,
		Clock:        clock.Fake(testEpoch),
		OnThrottle:   onThrottle,
	})
}

func TestGovernorThrottlesOnPendingThreshold(t *testing.T) {
	t.Parallel()

	source := &meteredSource{pending: 5000}
	var transitions []bool
	governor := newTestGovernor(source, func(throttled bool) { transitions = append(transitions, throttled) })

	governor.Sample()
	if governor.Throttled() {
		t.Fatal("throttled below threshold")
	}

	source.pending = 20000
	governor.Sample()
	if !governor.Throttled() {
		t.Fatal("not throttled above threshold")
	}
	// Entry is immediate and reported once, even across samples.
	governor.Sample()
	if len(transitions) != 1 || !transitions[0] {
		t.Errorf("transitions: got %v, want [true]", transitions)
	}
}

func TestGovernorThrottlesOnMemoryThreshold(t *testing.T) {
	t.Parallel()

	source := &meteredSource{memory: 2 << 30}
	governor := newTestGovernor(source, nil)

	governor.Sample()
	if !governor.Throttled() {
		t.Error("not throttled above memory threshold")
	}
}

func TestGovernorRecoveryIsDebounced(t *testing.T) {
	t.Parallel()

	source := &meteredSource{pending: 20000}
	var transitions []bool
	governor := newTestGovernor(source, func(throttled bool) { transitions = append(transitions, throttled) })

	governor.Sample() // throttle on

	// Improvement must be sustained: two good samples, a relapse,
	// then three good samples. Only the final streak clears it.
	source.pending = 100
	governor.Sample()
	governor.Sample()
	if !governor.Throttled() {
		t.Fatal("recovered before the required sample streak")
	}

	source.pending = 20000
	governor.Sample() // relapse resets the streak
	source.pending = 100
	governor.Sample()
	governor.Sample()
	if !governor.Throttled() {
		t.Fatal("recovered on a broken streak")
	}
	governor.Sample()
	if governor.Throttled() {
		t.Fatal("not recovered after three consecutive good samples")
	}

	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Errorf("transitions: got %v, want [true false]", transitions)
	}
}

func TestGovernorFailedSampleIsNoChange(t *testing.T) {
	t.Parallel()

	source := &meteredSource{pending: 20000}
	governor := newTestGovernor(source, nil)
	governor.Sample()
	if !governor.Throttled() {
		t.Fatal("setup: not throttled")
	}

	// The metrics source goes away mid-recovery: neither direction
	// may move.
	source.pending = 0
	source.memoryErr = errors.New("metrics source unavailable")
	for i := 0; i < 10; i++ {
		governor.Sample()
	}
	if !governor.Throttled() {
		t.Error("failed samples cleared the throttle")
	}

	// And a failed sample must never set the throttle either.
	recovered := newTestGovernor(&meteredSource{memoryErr: errors.New("unavailable")}, nil)
	recovered.Sample()
	if recovered.Throttled() {
		t.Error("failed sample engaged the throttle")
	}
}

func TestGovernorStopClearsThrottle(t *testing.T) {
	t.Parallel()

	source := &meteredSource{pending: 20000}
	var transitions []bool
	governor := newTestGovernor(source, func(throttled bool) { transitions = append(transitions, throttled) })

	governor.Sample()
	if !governor.Throttled() {
		t.Fatal("not throttled above threshold")
	}

	// Nothing samples after Stop, so a throttle left set could never
	// recover and would hold the global pause indefinitely.
	governor.Stop()
	if governor.Throttled() {
		t.Error("throttle still set after Stop")
	}
	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Errorf("transitions: got %v, want [true false]", transitions)
	}
}
