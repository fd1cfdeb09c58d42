// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostmux/hostmux/lib/clock"
)

// State is a terminal's lifecycle state. Removed terminals have no
// state — their records are deleted.
type State string

const (
	// StateActive is a live terminal accepting output.
	StateActive State = "active"

	// StateTrashed is a soft-deleted terminal awaiting TTL expiry or
	// restore.
	StateTrashed State = "trashed"
)

// ErrTerminalExists is returned by Add when the id is already
// registered.
var ErrTerminalExists = errors.New("terminal id already registered")

// Process is the handle the registry keeps for a terminal's PTY
// process. Spawning is out of scope; the registry only needs to kill
// on permanent removal.
type Process interface {
	Kill() error
}

// Record is a snapshot of one terminal's registration. Returned by
// value; mutating it does not affect the registry.
type Record struct {
	ID        string
	ProjectID string
	State     State
	CreatedAt time.Time

	// ExpiresAt is the trash deadline. Zero unless State is
	// StateTrashed.
	ExpiresAt time.Time
}

// ProjectStats aggregates terminal counts for one project.
type ProjectStats struct {
	Active  int
	Trashed int
}

// record is the internal mutable registration.
type record struct {
	ID        string
	ProjectID string
	Process   Process
	State     State
	CreatedAt time.Time
	ExpiresAt time.Time

	// trashCycle increments on every Trash. The expiry callback
	// carries the cycle it was armed for and fires only if it still
	// matches, so restore-then-retrash can never double-expire.
	trashCycle uint64
}

// Config configures a Registry.
type Config struct {
	// Clock drives trash TTL timers. If nil, clock.Real() is used.
	Clock clock.Clock

	// TrashTTL is how long a trashed terminal survives before
	// permanent removal.
	TrashTTL time.Duration

	// Logger receives lifecycle diagnostics. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Registry tracks every terminal the host owns. Safe for concurrent
// use; timer callbacks take the same lock as the public methods.
type Registry struct {
	mu       sync.Mutex
	clock    clock.Clock
	logger   *slog.Logger
	trashTTL time.Duration

	// records and timers are held in independent maps keyed by id.
	// The timer callback re-looks the record up at fire time instead
	// of holding a reference.
	records map[string]*record
	timers  map[string]*clock.Timer
}

// New creates an empty registry.
func New(configuration Config) *Registry {
	clk := configuration.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clock:    clk,
		logger:   logger,
		trashTTL: configuration.TrashTTL,
		records:  make(map[string]*record),
		timers:   make(map[string]*clock.Timer),
	}
}

// Add registers a terminal. An empty id gets a generated UUID. The
// returned id is the one registered.
func (registry *Registry) Add(id, projectID string, process Process) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, taken := registry.records[id]; taken {
		return "", ErrTerminalExists
	}
	registry.records[id] = &record{
		ID:        id,
		ProjectID: projectID,
		Process:   process,
		State:     StateActive,
		CreatedAt: registry.clock.Now(),
	}
	return id, nil
}

// Lookup returns a snapshot of the record for id. The second return
// is false for unknown (or removed) terminals.
func (registry *Registry) Lookup(id string) (Record, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	entry, known := registry.records[id]
	if !known {
		return Record{}, false
	}
	return entry.snapshot(), true
}

// Exists reports whether id is registered, in either active or
// trashed state.
func (registry *Registry) Exists(id string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	_, known := registry.records[id]
	return known
}

// Trash soft-deletes a terminal: it stays restorable until the TTL
// fires, at which point the record is removed and onExpire is called
// exactly once with the id. Trash is idempotent — repeated calls on
// an already-trashed terminal keep the original deadline and do not
// re-arm the timer. Trashing an unknown id is a logged no-op, since
// lifecycle calls can legitimately race terminal exit.
//
// Returns the expiry deadline and true when the terminal is trashed
// (freshly or already); zero time and false for an unknown id.
func (registry *Registry) Trash(id string, onExpire func(id string)) (time.Time, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	entry, known := registry.records[id]
	if !known {
		registry.logger.Debug("trash of unknown terminal ignored", "terminal_id", id)
		return time.Time{}, false
	}
	if entry.State == StateTrashed {
		registry.logger.Debug("terminal already trashed", "terminal_id", id)
		return entry.ExpiresAt, true
	}

	entry.State = StateTrashed
	entry.ExpiresAt = registry.clock.Now().Add(registry.trashTTL)
	entry.trashCycle++
	cycle := entry.trashCycle

	// The closure captures only the id and cycle; the record is
	// re-fetched when the timer fires.
	registry.timers[id] = registry.clock.AfterFunc(registry.trashTTL, func() {
		registry.expire(id, cycle, onExpire)
	})
	return entry.ExpiresAt, true
}

// expire is the trash-TTL callback. It removes the record and invokes
// onExpire unless the trash cycle it was armed for has been cancelled
// or superseded.
func (registry *Registry) expire(id string, cycle uint64, onExpire func(id string)) {
	registry.mu.Lock()
	entry, known := registry.records[id]
	if !known || entry.State != StateTrashed || entry.trashCycle != cycle {
		registry.mu.Unlock()
		return
	}
	process := entry.Process
	delete(registry.records, id)
	delete(registry.timers, id)
	registry.mu.Unlock()

	if process != nil {
		if err := process.Kill(); err != nil {
			registry.logger.Warn("killing expired terminal", "terminal_id", id, "error", err)
		}
	}
	if onExpire != nil {
		onExpire(id)
	}
}

// Restore cancels a pending trash and returns the terminal to active.
// Restoring an unknown or non-trashed terminal is a logged no-op.
func (registry *Registry) Restore(id string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	entry, known := registry.records[id]
	if !known || entry.State != StateTrashed {
		registry.logger.Debug("restore without pending trash ignored", "terminal_id", id)
		return false
	}

	registry.cancelTimerLocked(id)
	entry.State = StateActive
	entry.ExpiresAt = time.Time{}
	entry.trashCycle++ // invalidate any in-flight expiry callback
	return true
}

// Delete permanently removes a terminal, active or trashed. Any
// pending trash timer is cancelled first so it cannot fire against a
// later reuse of the id. Returns false for unknown ids.
func (registry *Registry) Delete(id string) bool {
	registry.mu.Lock()
	entry, known := registry.records[id]
	if !known {
		registry.mu.Unlock()
		registry.logger.Debug("delete of unknown terminal ignored", "terminal_id", id)
		return false
	}
	registry.cancelTimerLocked(id)
	entry.trashCycle++
	process := entry.Process
	delete(registry.records, id)
	registry.mu.Unlock()

	if process != nil {
		if err := process.Kill(); err != nil {
			registry.logger.Warn("killing deleted terminal", "terminal_id", id, "error", err)
		}
	}
	return true
}

// cancelTimerLocked stops and forgets the trash timer for id, if any.
// Caller holds registry.mu.
func (registry *Registry) cancelTimerLocked(id string) {
	if timer, armed := registry.timers[id]; armed {
		timer.Stop()
		delete(registry.timers, id)
	}
}

// ForProject returns snapshots of every terminal whose ProjectID
// matches exactly. There is deliberately no "last known project"
// fallback here: background or orphaned terminals must never be
// attributed to the active project's statistics.
func (registry *Registry) ForProject(projectID string) []Record {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var matched []Record
	for _, entry := range registry.records {
		if entry.ProjectID == projectID {
			matched = append(matched, entry.snapshot())
		}
	}
	return matched
}

// StatsForProject counts terminals attributed to projectID, again by
// exact match only.
func (registry *Registry) StatsForProject(projectID string) ProjectStats {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var stats ProjectStats
	for _, entry := range registry.records {
		if entry.ProjectID != projectID {
			continue
		}
		switch entry.State {
		case StateActive:
			stats.Active++
		case StateTrashed:
			stats.Trashed++
		}
	}
	return stats
}

// Count returns the number of registered terminals, trashed included.
func (registry *Registry) Count() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.records)
}

func (entry *record) snapshot() Record {
	return Record{
		ID:        entry.ID,
		ProjectID: entry.ProjectID,
		State:     entry.State,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
}
