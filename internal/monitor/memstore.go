package monitor

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process state store and deferred queue. It backs
// running without a database and the simulation path; state does not
// survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[StateKey]TargetState
	pending map[string]PendingNotification
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[StateKey]TargetState),
		pending: make(map[string]PendingNotification),
	}
}

func (m *MemoryStore) GetState(_ context.Context, key StateKey) (TargetState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[key]
	return state, ok, nil
}

func (m *MemoryStore) SaveState(_ context.Context, key StateKey, state TargetState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state
	return nil
}

func (m *MemoryStore) ListPending(_ context.Context) ([]PendingNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]PendingNotification, 0, len(m.pending))
	for _, entry := range m.pending {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ScheduledAt.Equal(entries[j].ScheduledAt) {
			return entries[i].ScheduledAt.Before(entries[j].ScheduledAt)
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (m *MemoryStore) SavePending(_ context.Context, entry PendingNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Mirror the storage unique constraint: one entry per (key, kind).
	for id, existing := range m.pending {
		if existing.Key == entry.Key && existing.Kind == entry.Kind {
			delete(m.pending, id)
		}
	}
	m.pending[entry.ID] = entry
	return nil
}

func (m *MemoryStore) DeletePending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

var (
	_ StateStore   = (*MemoryStore)(nil)
	_ PendingQueue = (*MemoryStore)(nil)
)
