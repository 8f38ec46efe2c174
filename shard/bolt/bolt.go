// Package bolt stores shards in a bbolt database, one bucket per object.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/ppopth/ecstore/shard"

	logging "github.com/ipfs/go-log/v2"
	bolt "go.etcd.io/bbolt"
)

var log = logging.Logger("shard/bolt")

// Store is a shard.Store backed by a bbolt file.
type Store struct {
	db *bolt.DB
}

var _ shard.Store = (*Store)(nil)

// Open opens or creates the shard database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("shard/bolt: open %s: %w", path, err)
	}
	log.Debugf("opened shard database %s", path)
	return &Store{db: db}, nil
}

// Keys are big-endian so a cursor walks indices in ascending order.
func indexKey(index int) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], uint32(index))
	return key[:]
}

func (s *Store) Put(_ context.Context, objectID string, index int, data []byte) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(objectID))
		if err != nil {
			return err
		}
		return b.Put(indexKey(index), data)
	})
}

func (s *Store) Get(_ context.Context, objectID string, index int) ([]byte, error) {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(objectID))
		if b == nil {
			return shard.ErrNotFound
		}
		v := b.Get(indexKey(index))
		if v == nil {
			return shard.ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		data = slices.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Delete(_ context.Context, objectID string, index int) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(objectID))
		if b == nil {
			return nil
		}
		if err := b.Delete(indexKey(index)); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return tx.DeleteBucket([]byte(objectID))
		}
		return nil
	})
}

func (s *Store) ListPresence(_ context.Context, objectID string) ([]int, error) {
	if objectID == "" {
		return nil, fmt.Errorf("shard: empty object id")
	}
	var indices []int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(objectID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			indices = append(indices, int(binary.BigEndian.Uint32(k)))
			return nil
		})
	})
	return indices, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
