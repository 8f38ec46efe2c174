// Package meta holds the per-object metadata record and the stores that
// persist it.
package meta

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no metadata exists for an object id.
var ErrNotFound = errors.New("meta: object not found")

// Object describes one erasure coded object. It carries everything needed to
// check, reconstruct and heal the object from its shards.
type Object struct {
	ID           string `cbor:"id" json:"id"`
	OriginalSize int    `cbor:"original_size" json:"original_size"` // Bytes handed to the coder, after compression
	ShardSize    int    `cbor:"shard_size" json:"shard_size"`
	DataShards   int    `cbor:"data_shards" json:"data_shards"`
	ParityShards int    `cbor:"parity_shards" json:"parity_shards"`

	ChecksumAlgorithm string   `cbor:"checksum_algorithm" json:"checksum_algorithm"`
	ShardChecksums    []string `cbor:"shard_checksums" json:"shard_checksums"` // One hex digest per shard index
	ObjectChecksum    string   `cbor:"object_checksum" json:"object_checksum"` // Digest of the uncompressed bytes

	Compression      string `cbor:"compression" json:"compression"`
	IsCompressed     bool   `cbor:"is_compressed" json:"is_compressed"`
	UncompressedSize int    `cbor:"uncompressed_size,omitempty" json:"uncompressed_size,omitempty"`

	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
}

// TotalShards returns n.
func (o *Object) TotalShards() int {
	return o.DataShards + o.ParityShards
}

// Size returns the size of the object as the user stored it.
func (o *Object) Size() int {
	if o.IsCompressed {
		return o.UncompressedSize
	}
	return o.OriginalSize
}

// Validate checks that the record is internally consistent.
func (o *Object) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("meta: empty object id")
	}
	if o.DataShards <= 0 || o.ParityShards <= 0 {
		return fmt.Errorf("meta: object %s: invalid shard counts %d+%d", o.ID, o.DataShards, o.ParityShards)
	}
	if o.OriginalSize <= 0 || o.ShardSize <= 0 {
		return fmt.Errorf("meta: object %s: invalid sizes %d/%d", o.ID, o.OriginalSize, o.ShardSize)
	}
	if o.ShardSize*o.DataShards < o.OriginalSize {
		return fmt.Errorf("meta: object %s: %d shards of %d bytes cannot hold %d bytes",
			o.ID, o.DataShards, o.ShardSize, o.OriginalSize)
	}
	if len(o.ShardChecksums) != o.TotalShards() {
		return fmt.Errorf("meta: object %s: %d shard checksums for %d shards",
			o.ID, len(o.ShardChecksums), o.TotalShards())
	}
	if o.IsCompressed && o.UncompressedSize <= 0 {
		return fmt.Errorf("meta: object %s: compressed without an uncompressed size", o.ID)
	}
	return nil
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	c := *o
	c.ShardChecksums = append([]string(nil), o.ShardChecksums...)
	return &c
}
