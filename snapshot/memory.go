package snapshot

import (
	"context"
	"sync"
	"time"
)

// inMemoryStore implements Store using an in-memory map.
type inMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	ttl       time.Duration
	now       func() time.Time
}

// Save implements Store.
func (s *inMemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *snap
	stored.SavedAt = s.now()
	if prev, ok := s.snapshots[snap.NotebookID]; ok {
		stored.Version = prev.Version + 1
	} else {
		stored.Version = 1
	}
	snap.SavedAt = stored.SavedAt
	snap.Version = stored.Version

	s.snapshots[snap.NotebookID] = &stored
	return nil
}

// Load implements Store. A missing or stale snapshot is nil, not an
// error.
func (s *inMemoryStore) Load(ctx context.Context, notebookID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.snapshots[notebookID]
	if !ok {
		return nil, nil
	}
	if s.now().Sub(stored.SavedAt) > s.ttl {
		return nil, nil
	}
	copied := *stored
	return &copied, nil
}

// Delete implements Store.
func (s *inMemoryStore) Delete(ctx context.Context, notebookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, notebookID)
	return nil
}

// Close implements Store.
func (s *inMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = nil
	return nil
}
