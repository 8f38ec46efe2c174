package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ppopth/ecstore/checksum"
	"github.com/ppopth/ecstore/compress"
	"github.com/ppopth/ecstore/config"
	"github.com/ppopth/ecstore/ec"
	"github.com/ppopth/ecstore/ec/encode/rs"
	"github.com/ppopth/ecstore/meta"
	"github.com/ppopth/ecstore/shard"
	shardbolt "github.com/ppopth/ecstore/shard/bolt"
	"github.com/ppopth/ecstore/shard/httpnode"
	"github.com/ppopth/ecstore/shard/memory"
	"github.com/ppopth/ecstore/shard/quic"
	shardredis "github.com/ppopth/ecstore/shard/redis"

	"github.com/libp2p/go-libp2p/core/peer"
)

// openObjectStore builds the object store described by cfg.
func openObjectStore(ctx context.Context, cfg *config.Config) (*ec.ObjectStore, error) {
	var coderOpts []rs.Option
	if cfg.Erasure.Parallelism > 0 {
		coderOpts = append(coderOpts, rs.WithParallelism(cfg.Erasure.Parallelism))
	}
	coder, err := rs.NewFromConfig(rs.Config{
		DataShards:   cfg.Erasure.DataShards,
		ParityShards: cfg.Erasure.ParityShards,
		MaxInputSize: cfg.Erasure.MaxInputSize,
	}, coderOpts...)
	if err != nil {
		return nil, err
	}

	algorithm, err := checksum.Parse(cfg.Object.Checksum)
	if err != nil {
		coder.Close()
		return nil, err
	}
	tag, err := compress.Parse(cfg.Object.Compression)
	if err != nil {
		coder.Close()
		return nil, err
	}

	shards, err := openShardStore(ctx, cfg)
	if err != nil {
		coder.Close()
		return nil, err
	}
	metas, err := openMetaStore(cfg)
	if err != nil {
		coder.Close()
		shards.Close()
		return nil, err
	}

	store, err := ec.NewObjectStore(coder, shards, metas, ec.WithParams(ec.Params{
		Checksum:      algorithm,
		Compression:   tag,
		RepairOnRead:  cfg.Object.RepairOnRead,
		IOConcurrency: cfg.Object.IOConcurrency,
	}))
	if err != nil {
		coder.Close()
		shards.Close()
		metas.Close()
		return nil, err
	}
	return store, nil
}

func openShardStore(ctx context.Context, cfg *config.Config) (shard.Store, error) {
	switch cfg.Shards.Backend {
	case config.BackendMemory:
		return memory.New(), nil

	case config.BackendBolt:
		if err := ensureDir(cfg.Shards.Bolt.Path); err != nil {
			return nil, err
		}
		return shardbolt.Open(cfg.Shards.Bolt.Path)

	case config.BackendRedis:
		r := cfg.Shards.Redis
		return shardredis.Open(ctx, shardredis.Options{
			Address:   r.Address,
			Password:  r.Password,
			DB:        r.DB,
			URL:       r.URL,
			KeyPrefix: r.KeyPrefix,
		})

	case config.BackendHTTP:
		timeout, err := cfg.RequestTimeout()
		if err != nil {
			return nil, err
		}
		client := &http.Client{Timeout: timeout}
		nodes := make([]shard.Store, len(cfg.Shards.HTTP))
		for i, url := range cfg.Shards.HTTP {
			nodes[i] = httpnode.NewClient(url, client)
		}
		return shard.NewSpread(nodes...)

	case config.BackendQUIC:
		key, err := quic.LoadOrCreateKey(cfg.Shards.IdentityFile)
		if err != nil {
			return nil, err
		}
		var nodes []shard.Store
		closeAll := func() {
			for _, node := range nodes {
				node.Close()
			}
		}
		for _, node := range cfg.Shards.QUIC {
			opts := []quic.ClientOption{quic.WithClientIdentity(key)}
			if node.PeerID != "" {
				id, err := peer.Decode(node.PeerID)
				if err != nil {
					closeAll()
					return nil, fmt.Errorf("node %s: %w", node.Address, err)
				}
				opts = append(opts, quic.WithExpectedPeer(id))
			}
			client, err := quic.Dial(ctx, node.Address, opts...)
			if err != nil {
				closeAll()
				return nil, err
			}
			nodes = append(nodes, client)
		}
		return shard.NewSpread(nodes...)

	default:
		return nil, fmt.Errorf("unknown shard backend %q", cfg.Shards.Backend)
	}
}

func openMetaStore(cfg *config.Config) (meta.Store, error) {
	switch cfg.Metadata.Backend {
	case config.BackendMemory:
		return meta.NewMemoryStore(), nil
	case config.BackendBolt:
		if err := ensureDir(cfg.Metadata.Path); err != nil {
			return nil, err
		}
		return meta.NewBoltStore(cfg.Metadata.Path)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Metadata.Backend)
	}
}

// openNodeStore opens the local store a serving shard node keeps its shards
// in.
func openNodeStore(cfg *config.Config) (shard.Store, error) {
	switch cfg.Serve.Store {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendBolt:
		if err := ensureDir(cfg.Serve.StorePath); err != nil {
			return nil, err
		}
		return shardbolt.Open(cfg.Serve.StorePath)
	default:
		return nil, fmt.Errorf("unknown node store %q", cfg.Serve.Store)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
