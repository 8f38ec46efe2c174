package heal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ppopth/ecstore/checksum"
	"github.com/ppopth/ecstore/ec/encode"
	"github.com/ppopth/ecstore/ec/encode/rs"
	"github.com/ppopth/ecstore/meta"
	"github.com/ppopth/ecstore/shard"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("heal")

// DefaultIOConcurrency bounds the shard reads and writes one HealObject call
// runs at once.
const DefaultIOConcurrency = 8

var (
	// ErrWriteChecksum means a regenerated shard does not match the checksum
	// recorded when the object was written. Nothing is written back.
	ErrWriteChecksum = errors.New("heal: regenerated shard fails its checksum")

	// ErrCodeMismatch means the object was encoded with different shard
	// counts than the healer's coder.
	ErrCodeMismatch = errors.New("heal: object shard counts differ from the coder")
)

// CoderFunc returns the coder for an object's shard counts.
type CoderFunc func(dataShards, parityShards int) (encode.Coder, error)

// Option configures a Healer.
type Option func(*Healer)

// WithCoderFunc lets HealObject handle objects written with other shard
// counts than the healer's own coder. Without it such objects fail with
// ErrCodeMismatch.
func WithCoderFunc(f CoderFunc) Option {
	return func(h *Healer) {
		h.coderFunc = f
	}
}

// WithIOConcurrency sets how many shard reads or writes HealObject runs in
// parallel.
func WithIOConcurrency(n int) Option {
	return func(h *Healer) {
		if n > 0 {
			h.ioConcurrency = n
		}
	}
}

// Healer classifies object health and regenerates missing shards. Operations
// are per object and a Healer may be shared across goroutines.
type Healer struct {
	coder         encode.Coder
	coderFunc     CoderFunc
	ioConcurrency int
}

func New(coder encode.Coder, opts ...Option) *Healer {
	h := &Healer{
		coder:         coder,
		ioConcurrency: DefaultIOConcurrency,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Status classifies an object from its present shard indices. It has no side
// effects.
func (h *Healer) Status(present []int) HealthStatus {
	return NewHealthStatus(present, h.coder.TotalShards(), h.coder.DataShards())
}

// CoderFor returns the coder matching obj's shard counts.
func (h *Healer) CoderFor(obj *meta.Object) (encode.Coder, error) {
	if obj.DataShards == h.coder.DataShards() && obj.ParityShards == h.coder.ParityShards() {
		return h.coder, nil
	}
	if h.coderFunc != nil {
		coder, err := h.coderFunc(obj.DataShards, obj.ParityShards)
		if err != nil {
			return nil, err
		}
		if coder.DataShards() != obj.DataShards || coder.ParityShards() != obj.ParityShards {
			return nil, fmt.Errorf("%w: object %s is %d+%d, coder is %d+%d", ErrCodeMismatch,
				obj.ID, obj.DataShards, obj.ParityShards, coder.DataShards(), coder.ParityShards())
		}
		return coder, nil
	}
	return nil, fmt.Errorf("%w: object %s is %d+%d, coder is %d+%d", ErrCodeMismatch,
		obj.ID, obj.DataShards, obj.ParityShards, h.coder.DataShards(), h.coder.ParityShards())
}

// Result lists the shards a heal regenerated.
type Result struct {
	Status HealthStatus // Status before healing
	Shards []rs.Shard   // Regenerated shards, ascending by index
}

// Indices returns the regenerated shard indices.
func (r *Result) Indices() []int {
	indices := make([]int, len(r.Shards))
	for i, s := range r.Shards {
		indices[i] = s.Index
	}
	return indices
}

// Heal regenerates the shards missing from set.
//
// A critical set fails with an *rs.InsufficientShardsError. A healthy set is
// left alone and no shards are returned. A degraded set is reconstructed to
// the original bytes, which are encoded again; only the shards at the missing
// indices are returned, so present shards are never rewritten. The set is not
// modified.
func (h *Healer) Heal(set *rs.ShardSet, originalSize int) (*Result, error) {
	return heal(h.coder, set, originalSize)
}

func heal(coder encode.Coder, set *rs.ShardSet, originalSize int) (*Result, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: nil shard set", rs.ErrInvalidInput)
	}
	status := NewHealthStatus(set.Present(), coder.TotalShards(), coder.DataShards())
	result := &Result{Status: status}

	switch status.Classification {
	case Critical:
		return nil, &rs.InsufficientShardsError{Required: status.MinimumRequired, Available: status.Available}
	case Healthy:
		return result, nil
	}

	data, err := coder.Reconstruct(set, originalSize)
	if err != nil {
		return nil, err
	}
	full, err := coder.Encode(data)
	if err != nil {
		return nil, err
	}
	if full.ShardSize() != set.ShardSize() {
		return nil, fmt.Errorf("%w: re-encoded shard size %d, stored shards are %d bytes",
			rs.ErrInternalConsistency, full.ShardSize(), set.ShardSize())
	}
	for _, index := range status.Missing {
		s, _ := full.Shard(index)
		result.Shards = append(result.Shards, s)
	}
	return result, nil
}

// ObjectReport describes one HealObject call.
type ObjectReport struct {
	ObjectID  string       `json:"objectID"`
	Status    HealthStatus `json:"status"`    // Status after dropping corrupt shards
	Corrupt   []int        `json:"corrupt"`   // Stored shards that failed their checksum
	Rewritten []int        `json:"rewritten"` // Shards written back
}

// HealObject heals one object in store.
//
// Present shards are fetched in parallel. A shard whose bytes fail the
// recorded checksum, or whose size is wrong, is treated as absent. Every
// regenerated shard is checked against its recorded checksum before any
// write; a mismatch fails the call with ErrWriteChecksum and nothing is
// written. Only missing and corrupt shards are written.
func (h *Healer) HealObject(ctx context.Context, store shard.Store, obj *meta.Object) (*ObjectReport, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	coder, err := h.CoderFor(obj)
	if err != nil {
		return nil, err
	}
	algorithm, err := checksum.Parse(obj.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}

	set, corrupt, err := h.fetch(ctx, store, obj, algorithm)
	if err != nil {
		return nil, err
	}
	report := &ObjectReport{
		ObjectID: obj.ID,
		Status:   NewHealthStatus(set.Present(), obj.TotalShards(), obj.DataShards),
		Corrupt:  corrupt,
	}
	if report.Status.Classification == Critical {
		log.Warnf("object %s is critical: %s", obj.ID, report.Status)
		return report, &rs.InsufficientShardsError{Required: report.Status.MinimumRequired, Available: report.Status.Available}
	}

	result, err := heal(coder, set, obj.OriginalSize)
	if err != nil {
		return report, err
	}
	if len(result.Shards) == 0 {
		return report, nil
	}

	for _, s := range result.Shards {
		ok, err := algorithm.Verify(s.Data, obj.ShardChecksums[s.Index])
		if err != nil {
			return report, err
		}
		if !ok {
			log.Errorf("object %s: regenerated shard %d does not match its recorded checksum", obj.ID, s.Index)
			return report, fmt.Errorf("%w: object %s shard %d", ErrWriteChecksum, obj.ID, s.Index)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.ioConcurrency)
	for _, s := range result.Shards {
		g.Go(func() error {
			return store.Put(gctx, obj.ID, s.Index, s.Data)
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("heal: write back object %s: %w", obj.ID, err)
	}
	report.Rewritten = result.Indices()
	log.Infof("healed object %s: rewrote shards %v", obj.ID, report.Rewritten)
	return report, nil
}

// Inspect reads every present shard of obj and classifies the object by the
// shards that pass verification. It returns the indices that failed.
func (h *Healer) Inspect(ctx context.Context, store shard.Store, obj *meta.Object) (HealthStatus, []int, error) {
	if err := obj.Validate(); err != nil {
		return HealthStatus{}, nil, err
	}
	algorithm, err := checksum.Parse(obj.ChecksumAlgorithm)
	if err != nil {
		return HealthStatus{}, nil, err
	}
	set, corrupt, err := h.fetch(ctx, store, obj, algorithm)
	if err != nil {
		return HealthStatus{}, nil, err
	}
	return NewHealthStatus(set.Present(), obj.TotalShards(), obj.DataShards), corrupt, nil
}

// fetch reads the present shards of obj into a set, dropping the ones that
// fail verification. It returns the indices of the dropped shards.
func (h *Healer) fetch(ctx context.Context, store shard.Store, obj *meta.Object, algorithm checksum.Algorithm) (*rs.ShardSet, []int, error) {
	present, err := store.ListPresence(ctx, obj.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("heal: list shards of %s: %w", obj.ID, err)
	}

	n := obj.TotalShards()
	set := rs.NewShardSet(n)
	var (
		mu      sync.Mutex
		corrupt []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.ioConcurrency)
	for _, index := range present {
		if index < 0 || index >= n {
			log.Warnf("object %s: ignoring stray shard index %d", obj.ID, index)
			continue
		}
		g.Go(func() error {
			data, err := store.Get(gctx, obj.ID, index)
			if errors.Is(err, shard.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("heal: read %s/%d: %w", obj.ID, index, err)
			}
			ok, err := VerifyShard(obj, algorithm, index, data)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				log.Warnf("object %s: shard %d failed verification, treating it as missing", obj.ID, index)
				corrupt = append(corrupt, index)
				return nil
			}
			set.Set(index, data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	slices.Sort(corrupt)
	return set, corrupt, nil
}

// VerifyShard checks a stored shard against the size and checksum recorded
// in obj.
func VerifyShard(obj *meta.Object, algorithm checksum.Algorithm, index int, data []byte) (bool, error) {
	if index < 0 || index >= len(obj.ShardChecksums) {
		return false, fmt.Errorf("heal: object %s has no checksum for shard %d", obj.ID, index)
	}
	if len(data) != obj.ShardSize {
		return false, nil
	}
	return algorithm.Verify(data, obj.ShardChecksums[index])
}
