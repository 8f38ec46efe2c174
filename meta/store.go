package meta

import (
	"context"
	"slices"
	"sync"
)

// Store persists object metadata.
type Store interface {
	Put(ctx context.Context, obj *Object) error
	// Get returns ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*Object, error)
	// Delete removes the record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns all known ids in ascending order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

func (s *MemoryStore) Put(_ context.Context, obj *Object) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID] = obj.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return obj.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
