package rs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned by New when the shard counts are out
	// of bounds.
	ErrInvalidConfiguration = errors.New("rs: invalid configuration")

	// ErrInvalidInput is returned for empty, oversized or malformed input. It
	// is reported before any matrix work is done.
	ErrInvalidInput = errors.New("rs: invalid input")

	// ErrInsufficientShards is matched by every *InsufficientShardsError.
	ErrInsufficientShards = errors.New("rs: insufficient shards")

	// ErrInternalConsistency means a k×k submatrix of the generator matrix
	// failed to invert. A correctly built generator matrix makes this
	// unreachable, so it points at a construction or arithmetic bug rather
	// than at the data.
	ErrInternalConsistency = errors.New("rs: internal consistency failure")

	// ErrClosed is returned by any operation started after Close.
	ErrClosed = errors.New("rs: coder is closed")
)

// InsufficientShardsError reports how many shards were needed and how many
// were available.
type InsufficientShardsError struct {
	Required  int
	Available int
}

func (e *InsufficientShardsError) Error() string {
	return fmt.Sprintf("rs: insufficient shards: have %d, need %d", e.Available, e.Required)
}

// Is lets errors.Is(err, ErrInsufficientShards) match.
func (e *InsufficientShardsError) Is(target error) bool {
	return target == ErrInsufficientShards
}
