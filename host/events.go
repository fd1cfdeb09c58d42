// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"sync"
	"time"
)

// StatusEvent describes a terminal whose output has been paused long
// enough to be worth surfacing to a user.
type StatusEvent struct {
	TerminalID        string
	BufferUtilization float64
	PauseDuration     time.Duration
	PendingBytes      int64
}

// Observer receives terminal lifecycle and output events. Callbacks
// are invoked sequentially from the host's delivery paths; observers
// that need to do slow work should hand it off.
type Observer interface {
	// TerminalData delivers consumed output bytes. The slice is only
	// valid for the duration of the call.
	TerminalData(terminalID string, data []byte)

	// TerminalExit reports that the terminal's process exited.
	TerminalExit(terminalID string, exitCode int)

	// TerminalError reports a terminal-scoped failure, such as a read
	// error on the PTY.
	TerminalError(terminalID string, err error)

	// TerminalStatus reports a sustained pause on a terminal.
	TerminalStatus(event StatusEvent)

	// TerminalTrashed reports that a terminal was moved to the trash
	// and will be destroyed at expiresAt unless restored.
	TerminalTrashed(terminalID string, expiresAt time.Time)

	// TerminalRestored reports that a trashed terminal was restored.
	TerminalRestored(terminalID string)
}

// observerSet is a mutex-guarded fan-out list. Registration is
// idempotent: adding an observer twice, or removing one that was
// never added, is a no-op.
type observerSet struct {
	mutex     sync.Mutex
	observers []Observer
}

func (set *observerSet) add(observer Observer) {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	for _, existing := range set.observers {
		if existing == observer {
			return
		}
	}
	set.observers = append(set.observers, observer)
}

func (set *observerSet) remove(observer Observer) {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	for index, existing := range set.observers {
		if existing == observer {
			set.observers = append(set.observers[:index], set.observers[index+1:]...)
			return
		}
	}
}

// snapshot returns the current observer list. Callers iterate the
// snapshot outside the lock so observer callbacks can re-enter the
// host freely.
func (set *observerSet) snapshot() []Observer {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	return append([]Observer(nil), set.observers...)
}
