// Package memory provides a process-local storage.Slot. Every handle created
// from the same Store shares its values, like tabs of one browser profile.
package memory

import (
	"context"
	"sync"

	"kasse/internal/storage"
)

type Store struct {
	mu     sync.Mutex
	values map[string][]byte
}

var _ storage.Slot = (*Store)(nil)

func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrSlotEmpty
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Close() error { return nil }
