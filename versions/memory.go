package versions

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in memory.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	// failures makes the next n Put calls fail with failErr.
	failures int
	failErr  error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Snapshot)}
}

// FailNext makes the next n writes fail with err.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures, m.failErr = n, err
}

func (m *MemoryStore) Put(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return m.failErr
	}
	if _, ok := m.snapshots[s.Key]; ok {
		return ErrExists
	}
	m.snapshots[s.Key] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[key]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
