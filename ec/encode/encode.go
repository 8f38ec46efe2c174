package encode

import "github.com/ppopth/ecstore/ec/encode/rs"

// Coder defines the interface for erasure coding engines used by the healing
// and object layers.
type Coder interface {
	// DataShards returns k, the number of shards needed to reconstruct.
	DataShards() int
	// ParityShards returns m, the number of redundant shards.
	ParityShards() int
	// TotalShards returns n = k + m.
	TotalShards() int
	// Encode splits data into k padded data shards and computes m parity shards.
	Encode(data []byte) (*rs.ShardSet, error)
	// Reconstruct recovers the original bytes from any k shards of the set.
	Reconstruct(set *rs.ShardSet, originalSize int) ([]byte, error)
	// ReconstructShards fills the requested absent shards of the set in place.
	ReconstructShards(set *rs.ShardSet, indices []int) error
	// Close releases the coder; later calls fail with rs.ErrClosed.
	Close() error
}

var _ Coder = (*rs.Coder)(nil)
