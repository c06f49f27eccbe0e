package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps records in process memory. Used in tests and for
// throwaway runs where nothing must survive a restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]map[string][]byte),
	}
}

func (s *MemoryStorage) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.records[namespace][key]
	if !exists {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStorage) Put(ctx context.Context, namespace, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, exists := s.records[namespace]
	if !exists {
		ns = make(map[string][]byte)
		s.records[namespace] = ns
	}
	ns[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
