// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hostmux/hostmux/lib/clock"
	"github.com/hostmux/hostmux/stream"
)

// DrainerConfig configures a Drainer.
type DrainerConfig struct {
	// Ring is the shared buffer to drain. Required.
	Ring *stream.RingBuffer

	// Parser reassembles frames from ring reads. If nil, a parser
	// with default ceilings is used.
	Parser *stream.Parser

	// Interval is the drain cadence. If zero, 16ms.
	Interval time.Duration

	// Clock drives the drain ticker. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives drain diagnostics. If nil, slog.Default().
	Logger *slog.Logger

	// OnData receives each parsed packet's payload. The slice is only
	// valid for the duration of the call. Required.
	OnData func(terminalID string, data []byte)

	// Acknowledge, when set, is called after OnData with the number
	// of bytes consumed, normally Host.AcknowledgeData.
	Acknowledge func(terminalID string, consumedBytes int64)
}

// Drainer is the consumer half of the ring transport. On a timer it
// reads everything the ring holds, parses it back into per-terminal
// packets, hands each payload to OnData, and acknowledges the bytes
// so the producer's flow accounting drains.
//
// The ring is single-consumer: run exactly one Drainer per ring.
type Drainer struct {
	ring        *stream.RingBuffer
	parser      *stream.Parser
	interval    time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	onData      func(string, []byte)
	acknowledge func(string, int64)

	mu       sync.Mutex
	ticker   *clock.Ticker
	stopTick chan struct{}
	tickDone chan struct{}
}

// NewDrainer creates a drainer. Call Start for timed draining, or
// Drain directly to pump by hand.
func NewDrainer(configuration DrainerConfig) *Drainer {
	if configuration.Parser == nil {
		configuration.Parser = stream.NewParser(stream.ParserConfig{Logger: configuration.Logger})
	}
	if configuration.Interval <= 0 {
		configuration.Interval = 16 * time.Millisecond
	}
	if configuration.Clock == nil {
		configuration.Clock = clock.Real()
	}
	if configuration.Logger == nil {
		configuration.Logger = slog.Default()
	}
	return &Drainer{
		ring:        configuration.Ring,
		parser:      configuration.Parser,
		interval:    configuration.Interval,
		clock:       configuration.Clock,
		logger:      configuration.Logger,
		onData:      configuration.OnData,
		acknowledge: configuration.Acknowledge,
	}
}

// Start launches the drain ticker.
func (drainer *Drainer) Start() {
	drainer.mu.Lock()
	defer drainer.mu.Unlock()
	if drainer.ticker != nil {
		return
	}
	drainer.ticker = drainer.clock.NewTicker(drainer.interval)
	drainer.stopTick = make(chan struct{})
	drainer.tickDone = make(chan struct{})
	go func(ticker *clock.Ticker, stop, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				drainer.Drain()
			case <-stop:
				return
			}
		}
	}(drainer.ticker, drainer.stopTick, drainer.tickDone)
}

// Stop halts the drain ticker and waits for an in-flight Drain to
// finish — the ring is single-consumer and the parser is not safe for
// concurrent use, so a final hand-driven Drain must not overlap a
// tick-driven one. Bytes already in the ring stay there; that final
// Drain call picks them up.
func (drainer *Drainer) Stop() {
	drainer.mu.Lock()
	ticker, stop, done := drainer.ticker, drainer.stopTick, drainer.tickDone
	drainer.ticker, drainer.stopTick, drainer.tickDone = nil, nil, nil
	drainer.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	<-done
}

// Drain empties the ring, dispatching every complete packet. It
// returns the number of packets dispatched.
func (drainer *Drainer) Drain() int {
	dispatched := 0
	for drainer.ring.HasData() {
		chunk := drainer.ring.Read()
		for _, packet := range drainer.parser.Parse(chunk) {
			drainer.onData(packet.TerminalID, packet.Data)
			if drainer.acknowledge != nil {
				drainer.acknowledge(packet.TerminalID, int64(len(packet.Data)))
			}
			dispatched++
		}
	}
	return dispatched
}
