// Package redis stores shards in Redis, one hash per object keyed by shard
// index.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/ppopth/ecstore/shard"

	logging "github.com/ipfs/go-log/v2"
	"github.com/redis/go-redis/v9"
)

var log = logging.Logger("shard/redis")

// DefaultKeyPrefix is prepended to object ids to form hash keys.
const DefaultKeyPrefix = "ecstore:shards:"

// Options holds configuration for connecting to a Redis server.
type Options struct {
	// Address is the host:port of the Redis server. Ignored when URL is set.
	Address  string
	Password string
	DB       int
	// URL is a redis:// URI; it takes precedence over the fields above.
	URL string
	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string
}

// DefaultOptions returns localhost defaults.
func DefaultOptions() Options {
	return Options{
		Address:   "localhost:6379",
		KeyPrefix: DefaultKeyPrefix,
	}
}

// Store is a shard.Store backed by a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

var _ shard.Store = (*Store)(nil)

// Open creates a client and checks connectivity with PING.
func Open(ctx context.Context, options Options) (*Store, error) {
	var opts *redis.Options
	if options.URL != "" {
		var err error
		opts, err = redis.ParseURL(options.URL)
		if err != nil {
			return nil, fmt.Errorf("shard/redis: parse url: %w", err)
		}
	} else {
		opts = &redis.Options{
			Addr:     options.Address,
			Password: options.Password,
			DB:       options.DB,
		}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("shard/redis: ping %s: %w", opts.Addr, err)
	}
	log.Infof("connected to redis at %s db %d", opts.Addr, opts.DB)
	return NewWithClient(client, options.KeyPrefix), nil
}

// NewWithClient wraps an existing client. The store takes ownership of it.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(objectID string) string {
	return s.prefix + objectID
}

func (s *Store) Put(ctx context.Context, objectID string, index int, data []byte) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(objectID), strconv.Itoa(index), data).Err(); err != nil {
		return fmt.Errorf("shard/redis: put %s/%d: %w", objectID, index, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, objectID string, index int) ([]byte, error) {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.key(objectID), strconv.Itoa(index)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shard.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("shard/redis: get %s/%d: %w", objectID, index, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, objectID string, index int) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.key(objectID), strconv.Itoa(index)).Err(); err != nil {
		return fmt.Errorf("shard/redis: delete %s/%d: %w", objectID, index, err)
	}
	return nil
}

func (s *Store) ListPresence(ctx context.Context, objectID string) ([]int, error) {
	if objectID == "" {
		return nil, fmt.Errorf("shard: empty object id")
	}
	fields, err := s.client.HKeys(ctx, s.key(objectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("shard/redis: list %s: %w", objectID, err)
	}
	indices := make([]int, 0, len(fields))
	for _, field := range fields {
		index, err := strconv.Atoi(field)
		if err != nil {
			log.Warnf("ignoring non-numeric field %q in %s", field, s.key(objectID))
			continue
		}
		indices = append(indices, index)
	}
	slices.Sort(indices)
	return indices, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
