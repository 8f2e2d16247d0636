// Package session tracks which users are currently logged in. The state
// is process-wide and not persisted; a restart clears it.
package session

import (
	"sync"
	"time"
)

// Entry is the display metadata kept for one logged-in user.
type Entry struct {
	Username  string
	LoginTime time.Time
}

// Tracker records login and logout events. Implementations must be safe
// for concurrent use.
type Tracker interface {
	RecordLogin(userID int64, username string)
	RecordLogout(userID int64)
	// Active returns a snapshot of the current entries.
	Active() map[int64]Entry
}

// MemoryTracker is the in-process Tracker implementation.
type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: make(map[int64]Entry)}
}

// RecordLogin inserts or refreshes the entry for a user.
func (t *MemoryTracker) RecordLogin(userID int64, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[userID] = Entry{Username: username, LoginTime: time.Now()}
}

// RecordLogout removes the entry for a user. Unknown ids are a no-op.
func (t *MemoryTracker) RecordLogout(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, userID)
}

// Active returns a copy of the current entries.
func (t *MemoryTracker) Active() map[int64]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[int64]Entry, len(t.entries))
	for id, e := range t.entries {
		snapshot[id] = e
	}
	return snapshot
}
