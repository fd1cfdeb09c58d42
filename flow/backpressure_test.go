// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"testing"
	"time"

	"github.com/hostmux/hostmux/config"
	"github.com/hostmux/hostmux/lib/clock"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testFlowConfig() config.FlowConfig {
	return config.FlowConfig{
		PerTerminalCeilingBytes: 4096,
		ResumeThresholdBytes:    1024,
		GlobalCeilingBytes:      16384,
		GlobalCheckInterval:     250 * time.Millisecond,
		StallTimeout:            10 * time.Second,
		MinRecheckInterval:      50 * time.Millisecond,
		HardPauseCeiling:        30 * time.Second,
	}
}

func TestOnOutputUnknownTerminalHeld(t *testing.T) {
	t.Parallel()
	manager := NewBackpressure(BackpressureConfig{Flow: testFlowConfig(), Clock: clock.Fake(testEpoch)})

	if manager.OnOutput("ghost", 10) {
		t.Error("output admitted for unregistered terminal")
	}
}

func TestCeilingPausesExactlyOnce(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	pauses := 0
	manager := NewBackpressure(BackpressureConfig{
		Flow:    testFlowConfig(),
		Clock:   fake,
		OnPause: func(string, PauseReason) { pauses++ },
	})
	manager.Register("t1")

	// Burst far past the 4096-byte ceiling in 1 KiB chunks. The
	// chunk that crosses the ceiling is still admitted; everything
	// after is held.
	admitted := 0
	for i := 0; i < 10; i++ {
		if manager.OnOutput("t1", 1024) {
			admitted++
		}
	}

	if admitted != 5 {
		t.Errorf("admitted %d chunks, want 5", admitted)
	}
	if pauses != 1 {
		t.Errorf("pause transitions: got %d, want 1", pauses)
	}
	if !manager.Paused("t1") {
		t.Error("terminal not paused after crossing ceiling")
	}
	if got := manager.Pending("t1"); got != 5120 {
		t.Errorf("pending: got %d, want 5120", got)
	}
}

func TestHysteresisHoldsAboveResumeThreshold(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	manager := NewBackpressure(BackpressureConfig{Flow: testFlowConfig(), Clock: fake})
	manager.Register("t1")

	manager.OnOutput("t1", 5000) // past ceiling, paused
	if !manager.Paused("t1") {
		t.Fatal("not paused after exceeding ceiling")
	}

	fake.Advance(time.Second) // well past the min recheck interval

	// Drop pending to exactly resume threshold + 1: must stay paused.
	manager.Acknowledge("t1", 5000-1025)
	if got := manager.Pending("t1"); got != 1025 {
		t.Fatalf("pending: got %d, want 1025", got)
	}
	if !manager.Paused("t1") {
		t.Error("resumed above the resume threshold")
	}

	// One more byte reaches the threshold: now it resumes.
	manager.Acknowledge("t1", 1)
	if manager.Paused("t1") {
		t.Error("still paused at the resume threshold")
	}
}

func TestResumeRequiresMinRecheckInterval(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	manager := NewBackpressure(BackpressureConfig{Flow: testFlowConfig(), Clock: fake})
	manager.Register("t1")

	manager.OnOutput("t1", 5000)

	// Full acknowledgement immediately after the pause: the recheck
	// interval has not elapsed, so the pause holds.
	manager.Acknowledge("t1", 5000)
	if !manager.Paused("t1") {
		t.Fatal("resumed before the minimum recheck interval")
	}

	fake.Advance(50 * time.Millisecond)
	manager.Acknowledge("t1", 0)
	if manager.Paused("t1") {
		t.Error("still paused after interval elapsed and pending drained")
	}
}

func TestForceResumeBypassesHysteresis(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	resumes := 0
	manager := NewBackpressure(BackpressureConfig{
		Flow:     testFlowConfig(),
		Clock:    fake,
		OnResume: func(string) { resumes++ },
	})
	manager.Register("t1")

	manager.OnOutput("t1", 5000)
	manager.ForceResume("t1")

	if manager.Paused("t1") {
		t.Error("still paused after ForceResume")
	}
	if resumes != 1 {
		t.Errorf("resume callbacks: got %d, want 1", resumes)
	}
	// Accounting is untouched: pending bytes survive the escape hatch.
	if got := manager.Pending("t1"); got != 5000 {
		t.Errorf("pending after ForceResume: got %d, want 5000", got)
	}
}

func TestGlobalCeilingPausesEveryTerminal(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	flowConfig := testFlowConfig()
	flowConfig.GlobalCeilingBytes = 6000

	var globalStates []bool
	manager := NewBackpressure(BackpressureConfig{
		Flow:          flowConfig,
		Clock:         fake,
		OnGlobalPause: func(paused bool) { globalStates = append(globalStates, paused) },
	})
	manager.Register("t1")
	manager.Register("t2")

	// Each terminal stays under its own 4096 ceiling, but together
	// they exceed the 6000-byte global ceiling.
	if !manager.OnOutput("t1", 3500) || !manager.OnOutput("t2", 3500) {
		t.Fatal("under-ceiling output was held")
	}
	if manager.Paused("t1") || manager.Paused("t2") {
		t.Fatal("individual pause engaged below per-terminal ceiling")
	}

	manager.Recheck()
	if !manager.GloballyPaused() {
		t.Fatalf("global pause not engaged at total pending %d", manager.TotalPending())
	}
	if manager.OnOutput("t1", 10) {
		t.Error("output admitted during global pause")
	}

	// Draining below the ceiling releases the global pause on the
	// next recheck.
	manager.Acknowledge("t1", manager.Pending("t1"))
	manager.Acknowledge("t2", manager.Pending("t2"))
	manager.Recheck()
	if manager.GloballyPaused() {
		t.Error("global pause held after draining below ceiling")
	}

	if len(globalStates) != 2 || !globalStates[0] || globalStates[1] {
		t.Errorf("global transitions: got %v, want [true false]", globalStates)
	}
}

func TestStallTimeoutPauses(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	var pauseReasons []PauseReason
	manager := NewBackpressure(BackpressureConfig{
		Flow:    testFlowConfig(),
		Clock:   fake,
		OnPause: func(_ string, reason PauseReason) { pauseReasons = append(pauseReasons, reason) },
	})
	manager.Register("t1")

	manager.OnOutput("t1", 100) // under ceiling, flowing

	// No acknowledgement for longer than the stall timeout.
	fake.Advance(11 * time.Second)
	manager.Recheck()

	if !manager.Paused("t1") {
		t.Fatal("terminal not paused after consumer stall")
	}
	if len(pauseReasons) != 1 || pauseReasons[0] != PauseStall {
		t.Errorf("pause reasons: got %v, want [stall]", pauseReasons)
	}
}

func TestHardPauseEmitsStatusOnce(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	var statuses []Status
	manager := NewBackpressure(BackpressureConfig{
		Flow:     testFlowConfig(),
		Clock:    fake,
		OnStatus: func(status Status) { statuses = append(statuses, status) },
	})
	manager.Register("t1")

	manager.OnOutput("t1", 5000) // ceiling pause

	fake.Advance(30 * time.Second)
	manager.Recheck()
	manager.Recheck() // a second sweep must not duplicate the event

	if len(statuses) != 1 {
		t.Fatalf("status events: got %d, want 1", len(statuses))
	}
	status := statuses[0]
	if status.TerminalID != "t1" || status.Reason != PauseCeiling {
		t.Errorf("status: %+v", status)
	}
	if status.PauseDuration < 30*time.Second {
		t.Errorf("pause duration: got %v, want >= 30s", status.PauseDuration)
	}
}

func TestUnregisterRemovesAccountingImmediately(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	manager := NewBackpressure(BackpressureConfig{Flow: testFlowConfig(), Clock: fake})
	manager.Register("t1")
	manager.Register("t2")

	manager.OnOutput("t1", 4000)
	manager.OnOutput("t2", 100)

	manager.Unregister("t1")

	if got := manager.TotalPending(); got != 100 {
		t.Errorf("total pending after unregister: got %d, want 100", got)
	}
	if manager.OnOutput("t1", 10) {
		t.Error("output admitted for unregistered terminal")
	}
}

func TestSetThrottledForcesGlobalPause(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	manager := NewBackpressure(BackpressureConfig{Flow: testFlowConfig(), Clock: fake})
	manager.Register("t1")

	manager.SetThrottled(true)
	if !manager.GloballyPaused() {
		t.Fatal("governor throttle did not engage the global pause")
	}
	if manager.OnOutput("t1", 1) {
		t.Error("output admitted while throttled")
	}

	manager.SetThrottled(false)
	if manager.GloballyPaused() {
		t.Error("global pause held after throttle cleared")
	}
	if !manager.OnOutput("t1", 1) {
		t.Error("output held after throttle cleared")
	}
}
