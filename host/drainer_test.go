// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"testing"
	"time"

	"github.com/hostmux/hostmux/lib/clock"
	"github.com/hostmux/hostmux/stream"
)

func TestDrainerStopWaitsForInFlightDrain(t *testing.T) {
	t.Parallel()

	ring, err := stream.NewRingBuffer(4096)
	if err != nil {
		t.Fatalf("NewRingBuffer: %v", err)
	}
	framed, err := stream.Frame("term-1", []byte("held"))
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	ring.Write(framed)

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	drainer := NewDrainer(DrainerConfig{
		Ring:  ring,
		Clock: fake,
		OnData: func(string, []byte) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		},
	})
	drainer.Start()

	fake.Advance(16 * time.Millisecond)
	<-entered

	// The ring is single-consumer and the parser keeps partial-frame
	// state, so Stop must not hand control back while a tick-driven
	// Drain is mid-dispatch: the caller's follow-up Drain would run
	// concurrently with it.
	stopped := make(chan struct{})
	go func() {
		drainer.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick-driven Drain was still dispatching")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the in-flight Drain finished")
	}
}
