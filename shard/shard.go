// Package shard defines the storage capability the object layer needs for
// individual shards, and the errors shared by its backends.
package shard

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the shard is absent.
	ErrNotFound = errors.New("shard: not found")
	// ErrClosed is returned by a store used after Close.
	ErrClosed = errors.New("shard: store is closed")
)

// Store persists shard bytes keyed by object id and shard index.
type Store interface {
	// Put stores a shard, replacing any previous bytes at that index.
	Put(ctx context.Context, objectID string, index int, data []byte) error
	// Get returns the shard bytes or ErrNotFound.
	Get(ctx context.Context, objectID string, index int) ([]byte, error)
	// Delete removes a shard. Deleting an absent shard is not an error.
	Delete(ctx context.Context, objectID string, index int) error
	// ListPresence returns the indices present for an object in ascending
	// order. An unknown object has no indices.
	ListPresence(ctx context.Context, objectID string) ([]int, error)
	Close() error
}

// ValidateKey checks an object id and shard index before they reach a
// backend.
func ValidateKey(objectID string, index int) error {
	if objectID == "" {
		return fmt.Errorf("shard: empty object id")
	}
	if index < 0 {
		return fmt.Errorf("shard: negative index %d", index)
	}
	return nil
}

// DeleteAll removes every present shard of an object.
func DeleteAll(ctx context.Context, s Store, objectID string) error {
	indices, err := s.ListPresence(ctx, objectID)
	if err != nil {
		return err
	}
	for _, index := range indices {
		if err := s.Delete(ctx, objectID, index); err != nil {
			return err
		}
	}
	return nil
}
