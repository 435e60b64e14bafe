package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the artifact in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
	puts int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Name returns the backend identifier.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Get returns a copy of the stored artifact.
func (s *MemoryStore) Get(ctx context.Context) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return nil, false, nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, true, nil
}

// Put replaces the stored artifact.
func (s *MemoryStore) Put(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.puts++
	return nil
}

// Puts returns how many times Put was called.
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
