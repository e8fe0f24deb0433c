package category

import (
	"context"
	"sync"
)

// Store is the key/value persistence behind an Index.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	vals map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: map[string][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = append([]byte(nil), value...)
	return nil
}
