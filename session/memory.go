package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store using an in-memory map.
// Entries live until process exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Info
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Info),
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, data *Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[data.ID] = *data
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.sessions[id]
	if !exists {
		return nil, nil
	}
	return &data, nil
}

// List implements Store. IDs are sorted.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Snapshot copies the current contents.
func (s *MemoryStore) Snapshot() map[string]Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Info, len(s.sessions))
	for id, data := range s.sessions {
		out[id] = data
	}
	return out
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]Info)
	return nil
}

var _ Store = (*MemoryStore)(nil)
