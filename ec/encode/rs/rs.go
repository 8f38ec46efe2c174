package rs

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ppopth/ecstore/ec/field"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/semaphore"
)

var log = logging.Logger("rs")

// Shard count bounds enforced by New.
const (
	MinDataShards   = 2
	MaxDataShards   = 32
	MinParityShards = 1
	MaxParityShards = 16
	MaxTotalShards  = 48

	// DefaultMaxInputSize is the largest input Encode accepts unless
	// overridden with WithMaxInputSize.
	DefaultMaxInputSize = 1 << 30
)

// Config is the configuration surface consumed by the coder.
type Config struct {
	DataShards   int // k
	ParityShards int // m
	MaxInputSize int // Largest accepted Encode input, 0 means DefaultMaxInputSize
}

// TotalShards returns n = k + m.
func (c Config) TotalShards() int {
	return c.DataShards + c.ParityShards
}

// Validate checks the shard count bounds.
func (c Config) Validate() error {
	k, m := c.DataShards, c.ParityShards
	if k < MinDataShards || k > MaxDataShards {
		return fmt.Errorf("%w: data shards %d not in [%d, %d]", ErrInvalidConfiguration, k, MinDataShards, MaxDataShards)
	}
	if m < MinParityShards || m > MaxParityShards {
		return fmt.Errorf("%w: parity shards %d not in [%d, %d]", ErrInvalidConfiguration, m, MinParityShards, MaxParityShards)
	}
	if k+m > MaxTotalShards {
		return fmt.Errorf("%w: total shards %d exceeds %d", ErrInvalidConfiguration, k+m, MaxTotalShards)
	}
	if m > k {
		return fmt.Errorf("%w: parity shards %d exceed data shards %d", ErrInvalidConfiguration, m, k)
	}
	if c.MaxInputSize < 0 {
		return fmt.Errorf("%w: negative max input size %d", ErrInvalidConfiguration, c.MaxInputSize)
	}
	return nil
}

// Option configures a Coder during construction
type Option func(*Coder) error

// WithMaxInputSize sets the largest input Encode accepts.
func WithMaxInputSize(n int) Option {
	return func(c *Coder) error {
		if n <= 0 {
			return fmt.Errorf("%w: max input size must be positive", ErrInvalidConfiguration)
		}
		c.maxInputSize = n
		return nil
	}
}

// WithParallelism sets how many goroutines a single call may use to compute
// shard rows. 1 disables intra-call parallelism.
func WithParallelism(n int) Option {
	return func(c *Coder) error {
		if n <= 0 {
			return fmt.Errorf("%w: parallelism must be positive", ErrInvalidConfiguration)
		}
		c.parallelism = n
		return nil
	}
}

// WithMaxConcurrentCalls bounds how many Encode/Reconstruct calls run at
// once. Calls share no mutable state, so this only caps peak scratch memory.
func WithMaxConcurrentCalls(n int) Option {
	return func(c *Coder) error {
		if n <= 0 {
			return fmt.Errorf("%w: max concurrent calls must be positive", ErrInvalidConfiguration)
		}
		c.calls = semaphore.NewWeighted(int64(n))
		return nil
	}
}

// Coder is a systematic Reed-Solomon erasure coder over GF(2^8).
//
// The generator matrix and parity coefficients are computed once in New and
// are read-only afterwards, so a Coder is safe for concurrent use. Each call
// works on call-local buffers.
type Coder struct {
	dataShards   int
	parityShards int
	totalShards  int
	maxInputSize int
	parallelism  int

	generator field.Matrix // n×k, rows 0..k-1 are the identity
	parity    field.Matrix // rows k..n-1 of generator

	calls *semaphore.Weighted // nil when calls are unbounded

	closeMu sync.RWMutex // Held shared by in-flight calls, exclusively by Close
	closed  atomic.Bool
}

// New creates a coder with k data shards and m parity shards.
func New(dataShards, parityShards int, opts ...Option) (*Coder, error) {
	return NewFromConfig(Config{DataShards: dataShards, ParityShards: parityShards}, opts...)
}

// NewFromConfig creates a coder from a Config. Options are applied after the
// config values.
func NewFromConfig(cfg Config, opts ...Option) (*Coder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coder{
		dataShards:   cfg.DataShards,
		parityShards: cfg.ParityShards,
		totalShards:  cfg.TotalShards(),
		maxInputSize: DefaultMaxInputSize,
		parallelism:  runtime.GOMAXPROCS(0),
	}
	if cfg.MaxInputSize > 0 {
		c.maxInputSize = cfg.MaxInputSize
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	generator, err := buildGeneratorMatrix(c.dataShards, c.totalShards)
	if err != nil {
		return nil, err
	}
	if err := verifyGenerator(generator, c.dataShards); err != nil {
		return nil, err
	}
	c.generator = generator
	c.parity = generator[c.dataShards:]

	log.Debugf("created coder with %d data and %d parity shards", c.dataShards, c.parityShards)
	return c, nil
}

// DataShards returns k.
func (c *Coder) DataShards() int {
	return c.dataShards
}

// ParityShards returns m.
func (c *Coder) ParityShards() int {
	return c.parityShards
}

// TotalShards returns n.
func (c *Coder) TotalShards() int {
	return c.totalShards
}

// MaxInputSize returns the largest input Encode accepts.
func (c *Coder) MaxInputSize() int {
	return c.maxInputSize
}

// ShardSize returns the shard size Encode produces for an input of the given
// length.
func (c *Coder) ShardSize(inputSize int) int {
	return (inputSize + c.dataShards - 1) / c.dataShards
}

// GeneratorMatrix returns a copy of the n×k generator matrix.
func (c *Coder) GeneratorMatrix() (field.Matrix, error) {
	release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return c.generator.Clone(), nil
}

// acquire admits a call unless the coder is closed. The closed flag is
// checked again after taking the read lock, since Close may have won the race
// in between. The returned func must be called when the call finishes.
func (c *Coder) acquire() (func(), error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.closeMu.RLock()
	if c.closed.Load() {
		c.closeMu.RUnlock()
		return nil, ErrClosed
	}
	if c.calls != nil {
		// Acquire with a background context cannot fail.
		_ = c.calls.Acquire(context.Background(), 1)
	}
	return func() {
		if c.calls != nil {
			c.calls.Release(1)
		}
		c.closeMu.RUnlock()
	}, nil
}

// Close moves the coder to its terminal state. It waits for in-flight calls,
// then drops the matrices. Calling Close more than once is a no-op.
func (c *Coder) Close() error {
	if c.closed.Load() {
		return nil
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Swap(true) {
		return nil
	}
	c.generator = nil
	c.parity = nil
	log.Debugf("closed coder with %d data and %d parity shards", c.dataShards, c.parityShards)
	return nil
}
