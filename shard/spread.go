package shard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Spread places shard i of every object on backend i mod len(backends), so
// that losing one backend costs each object at most ceil(n/len) shards.
type Spread struct {
	backends []Store
}

var _ Store = (*Spread)(nil)

// NewSpread returns a store over the given backends. It takes ownership of
// them: Close closes every backend.
func NewSpread(backends ...Store) (*Spread, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("shard: spread needs at least one backend")
	}
	return &Spread{backends: backends}, nil
}

// Backend returns the store holding shard index.
func (s *Spread) Backend(index int) Store {
	return s.backends[index%len(s.backends)]
}

func (s *Spread) Put(ctx context.Context, objectID string, index int, data []byte) error {
	if err := ValidateKey(objectID, index); err != nil {
		return err
	}
	return s.Backend(index).Put(ctx, objectID, index, data)
}

func (s *Spread) Get(ctx context.Context, objectID string, index int) ([]byte, error) {
	if err := ValidateKey(objectID, index); err != nil {
		return nil, err
	}
	return s.Backend(index).Get(ctx, objectID, index)
}

func (s *Spread) Delete(ctx context.Context, objectID string, index int) error {
	if err := ValidateKey(objectID, index); err != nil {
		return err
	}
	return s.Backend(index).Delete(ctx, objectID, index)
}

// ListPresence asks every backend and keeps the indices each one is
// responsible for. An unreachable backend contributes nothing.
func (s *Spread) ListPresence(ctx context.Context, objectID string) ([]int, error) {
	var (
		mu      sync.Mutex
		indices []int
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	for b, backend := range s.backends {
		g.Go(func() error {
			found, err := backend.ListPresence(gctx, objectID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed++
				return nil
			}
			for _, index := range found {
				if index%len(s.backends) == b {
					indices = append(indices, index)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed == len(s.backends) {
		return nil, fmt.Errorf("shard: no backend answered for %s", objectID)
	}
	slices.Sort(indices)
	return slices.Compact(indices), nil
}

func (s *Spread) Close() error {
	var errs []error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
