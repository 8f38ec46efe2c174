// Package storetest is a conformance suite for shard.Store implementations.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/ppopth/ecstore/shard"
)

// Run exercises s through the shard.Store contract. The store must start
// empty. Run does not close it.
func Run(t *testing.T, s shard.Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		if _, err := s.Get(ctx, "none", 0); !errors.Is(err, shard.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		indices, err := s.ListPresence(ctx, "none")
		if err != nil {
			t.Fatal(err)
		}
		if len(indices) != 0 {
			t.Errorf("expected no indices, got %v", indices)
		}
	})

	t.Run("put get", func(t *testing.T) {
		data := []byte("shard zero")
		if err := s.Put(ctx, "obj-1", 0, data); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "obj-1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("expected %q, got %q", data, got)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		if err := s.Put(ctx, "obj-1", 0, []byte("replaced")); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "obj-1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "replaced" {
			t.Errorf("expected the new bytes, got %q", got)
		}
	})

	t.Run("presence", func(t *testing.T) {
		for _, index := range []int{11, 3, 7} {
			if err := s.Put(ctx, "obj-2", index, []byte{byte(index)}); err != nil {
				t.Fatal(err)
			}
		}
		indices, err := s.ListPresence(ctx, "obj-2")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(indices, []int{3, 7, 11}) {
			t.Errorf("expected [3 7 11], got %v", indices)
		}
	})

	t.Run("objects are isolated", func(t *testing.T) {
		if _, err := s.Get(ctx, "obj-2", 0); !errors.Is(err, shard.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		indices, err := s.ListPresence(ctx, "obj-1")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(indices, []int{0}) {
			t.Errorf("expected [0], got %v", indices)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, "obj-2", 7); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "obj-2", 7); err != nil {
			t.Errorf("deleting an absent shard failed: %v", err)
		}
		if _, err := s.Get(ctx, "obj-2", 7); !errors.Is(err, shard.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := shard.DeleteAll(ctx, s, "obj-2"); err != nil {
			t.Fatal(err)
		}
		indices, err := s.ListPresence(ctx, "obj-2")
		if err != nil {
			t.Fatal(err)
		}
		if len(indices) != 0 {
			t.Errorf("expected no indices after DeleteAll, got %v", indices)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		if err := s.Put(ctx, "", 0, []byte("x")); err == nil {
			t.Errorf("expected an error for an empty object id")
		}
		if err := s.Put(ctx, "obj-3", -1, []byte("x")); err == nil {
			t.Errorf("expected an error for a negative index")
		}
	})

	t.Run("binary data", func(t *testing.T) {
		data := make([]byte, 70000)
		for i := range data {
			data[i] = byte(i * 31)
		}
		if err := s.Put(ctx, "obj-4", 47, data); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "obj-4", 47)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("binary shard corrupted in the store")
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				data := []byte(fmt.Sprintf("shard %d", index))
				if err := s.Put(ctx, "obj-5", index, data); err != nil {
					errs <- err
					return
				}
				got, err := s.Get(ctx, "obj-5", index)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(got, data) {
					errs <- fmt.Errorf("shard %d: got %q", index, got)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
		indices, err := s.ListPresence(ctx, "obj-5")
		if err != nil {
			t.Fatal(err)
		}
		if len(indices) != 16 {
			t.Errorf("expected 16 shards, got %d", len(indices))
		}
	})
}
