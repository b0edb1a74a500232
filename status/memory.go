package status

import (
	"context"
	"sync"
	"time"
)

type Change struct {
	Key    Key
	Status Status
}

// MemoryStore is a Store that keeps statuses in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	status  map[Key]Status
	history []Change
	stamps  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		status: map[Key]Status{},
		stamps: map[string]time.Time{},
	}
}

func (m *MemoryStore) Set(ctx context.Context, key Key, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status[key] = s
	m.history = append(m.history, Change{Key: key, Status: s})

	return nil
}

func (m *MemoryStore) Statuses(ctx context.Context, keys []Key) (map[Key]Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[Key]Status, len(keys))
	for _, key := range keys {
		statuses[key] = m.status[key]
	}

	return statuses, nil
}

func (m *MemoryStore) Stamp(ctx context.Context, cell string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamps[cell] = t

	return nil
}

// History returns every status change in the order it was made.
func (m *MemoryStore) History() []Change {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Change(nil), m.history...)
}

func (m *MemoryStore) Stamped(cell string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.stamps[cell]

	return t, ok
}
