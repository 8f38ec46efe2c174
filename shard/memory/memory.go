// Package memory is an in-process shard store.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/ppopth/ecstore/shard"
)

// Store keeps shards in a map. Stored and returned bytes are copies.
type Store struct {
	mu     sync.RWMutex
	shards map[string]map[int][]byte
	closed bool
}

var _ shard.Store = (*Store)(nil)

func New() *Store {
	return &Store{shards: make(map[string]map[int][]byte)}
}

func (s *Store) Put(_ context.Context, objectID string, index int, data []byte) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return shard.ErrClosed
	}
	obj, ok := s.shards[objectID]
	if !ok {
		obj = make(map[int][]byte)
		s.shards[objectID] = obj
	}
	obj[index] = slices.Clone(data)
	return nil
}

func (s *Store) Get(_ context.Context, objectID string, index int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, shard.ErrClosed
	}
	data, ok := s.shards[objectID][index]
	if !ok {
		return nil, shard.ErrNotFound
	}
	return slices.Clone(data), nil
}

func (s *Store) Delete(_ context.Context, objectID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return shard.ErrClosed
	}
	obj := s.shards[objectID]
	delete(obj, index)
	if len(obj) == 0 {
		delete(s.shards, objectID)
	}
	return nil
}

func (s *Store) ListPresence(_ context.Context, objectID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, shard.ErrClosed
	}
	indices := make([]int, 0, len(s.shards[objectID]))
	for index := range s.shards[objectID] {
		indices = append(indices, index)
	}
	slices.Sort(indices)
	return indices, nil
}

// Corrupt flips the first byte of a stored shard. It reports whether the
// shard existed.
func (s *Store) Corrupt(objectID string, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.shards[objectID][index]
	if !ok || len(data) == 0 {
		return false
	}
	data[0] ^= 0xff
	return true
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.shards = nil
	return nil
}
