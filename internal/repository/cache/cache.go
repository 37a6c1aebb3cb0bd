// Package cache holds the local walk cache. The cache is the durability
// floor: a completed walk lands here synchronously and stays visible even
// when every remote write fails.
package cache

import (
	"sort"
	"sync"

	"example.com/walks/internal/domain"
)

// Store is the local cache contract. Writes are last-write-wins by walk id.
// Only the sync engine mutates the cache.
type Store interface {
	Put(w domain.Walk) error
	// Get returns (nil, nil) when the id is not cached.
	Get(id string) (*domain.Walk, error)
	// ByOwner returns the owner's walks newest-first.
	ByOwner(ownerID string) ([]domain.Walk, error)
	Delete(id string) error
	Close() error
}

// Memory is a map-backed Store used in tests and single-run tools.
type Memory struct {
	mu    sync.RWMutex
	walks map[string]domain.Walk
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{walks: make(map[string]domain.Walk)}
}

func (m *Memory) Put(w domain.Walk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walks[w.ID] = w
	return nil
}

func (m *Memory) Get(id string) (*domain.Walk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.walks[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *Memory) ByOwner(ownerID string) ([]domain.Walk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Walk, 0)
	for _, w := range m.walks {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.walks, id)
	return nil
}

func (m *Memory) Close() error { return nil }

func sortNewestFirst(walks []domain.Walk) {
	sort.Slice(walks, func(i, j int) bool {
		if walks[i].CreatedAt.Equal(walks[j].CreatedAt) {
			return walks[i].ID > walks[j].ID
		}
		return walks[i].CreatedAt.After(walks[j].CreatedAt)
	})
}
