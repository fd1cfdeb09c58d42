// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hostmux/hostmux/config"
	"github.com/hostmux/hostmux/flow"
	"github.com/hostmux/hostmux/lib/clock"
	"github.com/hostmux/hostmux/registry"
	"github.com/hostmux/hostmux/stream"
)

// ErrUnknownTerminal is returned by operations addressing a terminal
// id the host has no record of.
var ErrUnknownTerminal = errors.New("unknown terminal id")

// readBufferSize is the per-terminal PTY read buffer. Large enough
// that a chatty process does not force one syscall per line.
const readBufferSize = 32 * 1024

// Session is what the host needs from an attached terminal: output to
// read, input to write, a resizable window, and a way to kill the
// underlying process.
type Session interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(columns, rows uint16) error
	Kill() error
}

// Config configures a Host.
type Config struct {
	// Config supplies all flow, queue, governor, and registry
	// tunables.
	Config config.Config

	// Ring is the shared output ring buffer. When nil the host falls
	// back to encoding output as messages on IPCWriter.
	Ring *stream.RingBuffer

	// IPCWriter carries encoded output messages when Ring is nil.
	IPCWriter io.Writer

	// Clock drives every timer in the pipeline. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives pipeline diagnostics. If nil, slog.Default().
	Logger *slog.Logger
}

// Host is the composition root of the terminal output pipeline. It
// owns the registry, the backpressure ledger, the coalescing queue,
// and the resource governor, and connects them to one transport.
//
// Output path: HandleOutput consults the registry, asks backpressure
// for admission, and stages admitted bytes in the queue; flush ticks
// frame staged bytes into the ring (or encode them for IPC). Held
// output stays with the caller — a read loop started by Attach blocks
// until the terminal resumes, so the PTY's own buffer backpressures
// the child process and nothing is dropped.
//
// Safe for concurrent use.
type Host struct {
	configuration config.Config
	ring          *stream.RingBuffer
	clock         clock.Clock
	logger        *slog.Logger

	registry     *registry.Registry
	backpressure *flow.Backpressure
	queue        *flow.Queue
	governor     *flow.Governor

	observers observerSet

	mu       sync.Mutex
	sessions map[string]Session
	resume   map[string]chan struct{}

	stopping chan struct{}
	stopOnce sync.Once
}

// New assembles a Host. Exactly one transport must be supplied:
// a ring buffer, or an IPC writer as the fallback.
func New(configuration Config) (*Host, error) {
	if err := configuration.Config.Validate(); err != nil {
		return nil, fmt.Errorf("host config: %w", err)
	}
	if configuration.Ring == nil && configuration.IPCWriter == nil {
		return nil, errors.New("host config: either Ring or IPCWriter is required")
	}
	if configuration.Clock == nil {
		configuration.Clock = clock.Real()
	}
	if configuration.Logger == nil {
		configuration.Logger = slog.Default()
	}

	host := &Host{
		configuration: configuration.Config,
		ring:          configuration.Ring,
		clock:         configuration.Clock,
		logger:        configuration.Logger,
		sessions:      make(map[string]Session),
		resume:        make(map[string]chan struct{}),
		stopping:      make(chan struct{}),
	}

	var sink transport
	if configuration.Ring != nil {
		sink = newRingTransport(configuration.Ring, configuration.Logger)
	} else {
		sink = newIPCTransport(configuration.IPCWriter, configuration.Logger)
	}

	host.registry = registry.New(registry.Config{
		Clock:    configuration.Clock,
		TrashTTL: configuration.Config.Registry.TrashTTL,
		Logger:   configuration.Logger,
	})

	host.backpressure = flow.NewBackpressure(flow.BackpressureConfig{
		Flow:   configuration.Config.Flow,
		Clock:  configuration.Clock,
		Logger: configuration.Logger,
		OnResume: func(terminalID string) {
			host.signalResume(terminalID)
		},
		OnGlobalPause: func(paused bool) {
			if !paused {
				host.signalResumeAll()
			}
		},
		OnStatus: func(status flow.Status) {
			event := StatusEvent{
				TerminalID:    status.TerminalID,
				PauseDuration: status.PauseDuration,
				PendingBytes:  status.PendingBytes,
			}
			if host.ring != nil {
				event.BufferUtilization = host.ring.Utilization()
			}
			host.emit(func(observer Observer) { observer.TerminalStatus(event) })
		},
	})

	host.queue = flow.NewQueue(flow.QueueConfig{
		Queue:   configuration.Config.Queue,
		Exists:  host.registry.Exists,
		Deliver: sink.Deliver,
		Clock:   configuration.Clock,
		Logger:  configuration.Logger,
	})

	host.governor = flow.NewGovernor(flow.GovernorConfig{
		Governor:     configuration.Config.Governor,
		PendingBytes: host.backpressure.TotalPending,
		Clock:        configuration.Clock,
		Logger:       configuration.Logger,
		OnThrottle:   host.backpressure.SetThrottled,
	})

	return host, nil
}

// Start launches the pipeline tickers: queue flushing, the global
// backpressure recheck, and governor sampling.
func (host *Host) Start() {
	host.queue.Start()
	host.backpressure.Start()
	host.governor.Start()
}

// Stop halts the tickers, flushes whatever the transport will still
// take, and releases any read loops blocked on a paused terminal.
// Attached sessions are left running; killing them is the caller's
// decision.
func (host *Host) Stop() {
	host.stopOnce.Do(func() { close(host.stopping) })
	host.governor.Stop()
	host.backpressure.Stop()
	host.queue.Stop()
	host.queue.FlushAll()
}

// AddObserver registers an observer for terminal events. Idempotent.
func (host *Host) AddObserver(observer Observer) {
	host.observers.add(observer)
}

// RemoveObserver unregisters an observer. Idempotent.
func (host *Host) RemoveObserver(observer Observer) {
	host.observers.remove(observer)
}

// Attach registers a terminal session under id (generated when empty)
// and starts a read loop pumping its output into the pipeline. The
// returned id addresses the terminal in every other operation.
//
// The read loop stops on the first read error; for a PTY that is the
// process exiting. The caller owns process reaping and reports the
// exit code through ReportExit.
func (host *Host) Attach(id, projectID string, session Session) (string, error) {
	assignedID, err := host.registry.Add(id, projectID, session)
	if err != nil {
		return "", err
	}
	host.backpressure.Register(assignedID)
	host.queue.Register(assignedID)

	host.mu.Lock()
	host.sessions[assignedID] = session
	host.resume[assignedID] = make(chan struct{})
	host.mu.Unlock()

	go host.readLoop(assignedID, session)
	return assignedID, nil
}

func (host *Host) readLoop(terminalID string, session Session) {
	buffer := make([]byte, readBufferSize)
	for {
		n, err := session.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			for !host.HandleOutput(terminalID, chunk) {
				if !host.awaitResume(terminalID) {
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				host.logger.Debug("terminal read ended",
					"terminal_id", terminalID, "error", err)
				host.emit(func(observer Observer) { observer.TerminalError(terminalID, err) })
			}
			return
		}
	}
}

// HandleOutput runs one output chunk through admission. It returns
// true when the chunk was accepted (staged for delivery, or dropped
// because the terminal no longer exists) and false when backpressure
// held it — the caller keeps the chunk and retries after the terminal
// resumes. The chunk is copied; the caller may reuse its buffer.
func (host *Host) HandleOutput(terminalID string, chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	if !host.registry.Exists(terminalID) {
		host.logger.Debug("dropping output for unknown terminal",
			"terminal_id", terminalID, "bytes", len(chunk))
		return true
	}
	if !host.backpressure.OnOutput(terminalID, len(chunk)) {
		return false
	}
	host.queue.Enqueue(terminalID, chunk)
	return true
}

// awaitResume blocks until the terminal resumes, a recheck interval
// elapses, or the host stops. It returns false when the caller should
// give up retrying.
func (host *Host) awaitResume(terminalID string) bool {
	host.mu.Lock()
	signal, ok := host.resume[terminalID]
	host.mu.Unlock()
	if !ok {
		return false
	}
	// The resume signal can race with the pause decision, so never
	// wait on it alone: retry at the recheck cadence regardless.
	retry := make(chan struct{})
	timer := host.clock.AfterFunc(host.configuration.Flow.MinRecheckInterval, func() {
		close(retry)
	})
	defer timer.Stop()
	select {
	case <-signal:
		return true
	case <-retry:
		return true
	case <-host.stopping:
		return false
	}
}

func (host *Host) signalResume(terminalID string) {
	host.mu.Lock()
	defer host.mu.Unlock()
	if signal, ok := host.resume[terminalID]; ok {
		close(signal)
		host.resume[terminalID] = make(chan struct{})
	}
}

func (host *Host) signalResumeAll() {
	host.mu.Lock()
	defer host.mu.Unlock()
	for terminalID, signal := range host.resume {
		close(signal)
		host.resume[terminalID] = make(chan struct{})
	}
}

// Flush forces one queue flush cycle and returns the number of
// terminals delivered to.
func (host *Host) Flush() int {
	return host.queue.Flush()
}

// AcknowledgeData credits consumed bytes back to a terminal's flow
// accounting. The consumer side calls this as it processes output.
func (host *Host) AcknowledgeData(terminalID string, consumedBytes int64) {
	host.backpressure.Acknowledge(terminalID, consumedBytes)
}

// DispatchData fans consumed output out to the observers. Wire it as
// a Drainer's OnData to complete an in-process pipeline.
func (host *Host) DispatchData(terminalID string, data []byte) {
	host.emit(func(observer Observer) { observer.TerminalData(terminalID, data) })
}

// Write sends input bytes to the terminal's process.
func (host *Host) Write(terminalID string, data []byte) error {
	session, ok := host.session(terminalID)
	if !ok {
		return fmt.Errorf("write %q: %w", terminalID, ErrUnknownTerminal)
	}
	if _, err := session.Write(data); err != nil {
		return fmt.Errorf("write %q: %w", terminalID, err)
	}
	return nil
}

// Resize adjusts the terminal's window dimensions.
func (host *Host) Resize(terminalID string, columns, rows uint16) error {
	session, ok := host.session(terminalID)
	if !ok {
		return fmt.Errorf("resize %q: %w", terminalID, ErrUnknownTerminal)
	}
	if err := session.Resize(columns, rows); err != nil {
		return fmt.Errorf("resize %q: %w", terminalID, err)
	}
	return nil
}

// SetActivityTier moves a terminal between flush cadences: foreground
// terminals flush at display rate, background ones coarsely.
func (host *Host) SetActivityTier(terminalID string, tier flow.Tier) {
	host.queue.SetTier(terminalID, tier)
}

// ForceResume unconditionally resumes a paused terminal.
func (host *Host) ForceResume(terminalID string) {
	host.backpressure.ForceResume(terminalID)
}

// Trash moves a terminal to the trash. Its process keeps running and
// its output keeps flowing until the TTL expires or Restore brings it
// back. Reports false for an unknown id.
func (host *Host) Trash(terminalID string) bool {
	expiresAt, ok := host.registry.Trash(terminalID, host.onTrashExpired)
	if !ok {
		return false
	}
	host.emit(func(observer Observer) { observer.TerminalTrashed(terminalID, expiresAt) })
	return true
}

func (host *Host) onTrashExpired(terminalID string) {
	host.detach(terminalID)
	host.emit(func(observer Observer) { observer.TerminalExit(terminalID, -1) })
}

// Restore brings a trashed terminal back to active. Reports false
// when the id is unknown or not trashed.
func (host *Host) Restore(terminalID string) bool {
	if !host.registry.Restore(terminalID) {
		return false
	}
	host.emit(func(observer Observer) { observer.TerminalRestored(terminalID) })
	return true
}

// Kill destroys a terminal immediately: the process is killed and all
// pipeline state for the id is removed. Reports false for an unknown
// id.
func (host *Host) Kill(terminalID string) bool {
	if !host.registry.Delete(terminalID) {
		return false
	}
	host.detach(terminalID)
	return true
}

// ReportExit records that the terminal's process exited on its own.
// The caller reaps the process and supplies the code; the host emits
// the exit event and removes the terminal.
func (host *Host) ReportExit(terminalID string, exitCode int) {
	if !host.registry.Delete(terminalID) {
		return
	}
	host.detach(terminalID)
	host.emit(func(observer Observer) { observer.TerminalExit(terminalID, exitCode) })
}

// detach removes all pipeline state for a terminal that is gone from
// the registry. Closing the resume channel releases a read loop
// blocked in awaitResume.
func (host *Host) detach(terminalID string) {
	host.mu.Lock()
	delete(host.sessions, terminalID)
	if signal, ok := host.resume[terminalID]; ok {
		close(signal)
		delete(host.resume, terminalID)
	}
	host.mu.Unlock()
	host.backpressure.Unregister(terminalID)
	host.queue.Remove(terminalID)
}

func (host *Host) session(terminalID string) (Session, bool) {
	host.mu.Lock()
	defer host.mu.Unlock()
	session, ok := host.sessions[terminalID]
	return session, ok
}

// Lookup returns the registry record for a terminal.
func (host *Host) Lookup(terminalID string) (registry.Record, bool) {
	return host.registry.Lookup(terminalID)
}

// ProjectTerminals returns the records of every terminal whose
// project id matches exactly.
func (host *Host) ProjectTerminals(projectID string) []registry.Record {
	return host.registry.ForProject(projectID)
}

// ProjectStats aggregates terminal counts for one project.
func (host *Host) ProjectStats(projectID string) registry.ProjectStats {
	return host.registry.StatsForProject(projectID)
}

// PendingBytes returns a terminal's unacknowledged byte count.
func (host *Host) PendingBytes(terminalID string) int64 {
	return host.backpressure.Pending(terminalID)
}

// Paused reports whether a terminal's output is currently held.
func (host *Host) Paused(terminalID string) bool {
	return host.backpressure.Paused(terminalID)
}

func (host *Host) emit(deliver func(Observer)) {
	for _, observer := range host.observers.snapshot() {
		deliver(observer)
	}
}
