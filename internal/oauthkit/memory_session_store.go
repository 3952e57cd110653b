package oauthkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemorySessionStore is an in-memory store intended for single-process runs and tests.
type MemorySessionStore struct {
	mutex   sync.Mutex
	entries map[string]*memoryEntry
	idleTTL time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	State       SessionState
	TouchedUnix int64
}

// NewMemorySessionStore creates a store that forgets sessions idle longer than idleTTL.
// A non-positive idleTTL keeps sessions for the life of the process.
func NewMemorySessionStore(idleTTL time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]*memoryEntry),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Load returns the stored session state.
func (store *MemorySessionStore) Load(ctx context.Context, sessionID string) (SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionState{}, fmt.Errorf("session_store.load.memory: %w", ErrEmptySessionID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.purgeIdleLocked()
	entry, ok := store.entries[sessionID]
	if !ok {
		return SessionState{}, fmt.Errorf("session_store.load.memory: %w", ErrSessionNotFound)
	}
	entry.TouchedUnix = store.now().Unix()
	return entry.State, nil
}

// Save replaces the session state in a single step.
func (store *MemorySessionStore) Save(ctx context.Context, state SessionState) error {
	if strings.TrimSpace(state.SessionID) == "" {
		return fmt.Errorf("session_store.save.memory: %w", ErrEmptySessionID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.entries[state.SessionID] = &memoryEntry{
		State:       state,
		TouchedUnix: store.now().Unix(),
	}
	return nil
}

// Delete forgets the session; deleting an unknown session is not an error.
func (store *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, sessionID)
	return nil
}

// Len reports the number of live sessions.
func (store *MemorySessionStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeIdleLocked()
	return len(store.entries)
}

func (store *MemorySessionStore) purgeIdleLocked() {
	if store.idleTTL <= 0 || len(store.entries) == 0 {
		return
	}
	cutoff := store.now().Add(-store.idleTTL).Unix()
	for sessionID, entry := range store.entries {
		if entry.TouchedUnix < cutoff {
			delete(store.entries, sessionID)
		}
	}
}
