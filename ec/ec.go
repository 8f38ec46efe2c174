// Package ec stores objects as erasure coded shards. It ties the coder to a
// shard store and a metadata store, and heals objects on read or in the
// background.
package ec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/ppopth/ecstore/checksum"
	"github.com/ppopth/ecstore/compress"
	"github.com/ppopth/ecstore/ec/encode"
	"github.com/ppopth/ecstore/ec/encode/rs"
	"github.com/ppopth/ecstore/heal"
	"github.com/ppopth/ecstore/meta"
	"github.com/ppopth/ecstore/shard"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("ec")

// ErrObjectChecksum means the reconstructed bytes do not match the checksum
// recorded on Put.
var ErrObjectChecksum = errors.New("ec: object checksum mismatch")

// IDFunc generates identifiers for new objects
type IDFunc func() string

// Option configures an object store during construction
type Option func(*ObjectStore) error

// Params are the tunables of an object store.
type Params struct {
	// Checksum algorithm recorded for new objects.
	Checksum checksum.Algorithm
	// Compression tried on Put. Objects that do not shrink are stored as is.
	Compression compress.Tag
	// Whether Get writes back shards it found missing or corrupt.
	RepairOnRead bool
	// Shard reads and writes one call runs in parallel.
	IOConcurrency int
}

// NewObjectStore creates an object store. It takes ownership of the coder and
// both stores: Close closes all three.
//
// New objects are written with the coder's shard counts. Objects written with
// other counts are read and healed with Reed-Solomon coders built on demand.
func NewObjectStore(coder encode.Coder, shards shard.Store, metas meta.Store, opts ...Option) (*ObjectStore, error) {
	if coder == nil {
		return nil, fmt.Errorf("coder is required")
	}
	if shards == nil || metas == nil {
		return nil, fmt.Errorf("shard and metadata stores are required")
	}

	s := &ObjectStore{
		coder:  coder,
		coders: make(map[[2]int]*rs.Coder),
		shards: shards,
		metas:  metas,
		locks:  newKeyLock(),
		idFunc: uuid.NewString,
		now:    time.Now,
		params: Params{
			Checksum:      checksum.Default,
			Compression:   compress.None,
			IOConcurrency: heal.DefaultIOConcurrency,
		},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.healer = heal.New(coder,
		heal.WithIOConcurrency(s.params.IOConcurrency),
		heal.WithCoderFunc(s.coderFor))
	return s, nil
}

// WithParams replaces every tunable at once.
func WithParams(params Params) Option {
	return func(s *ObjectStore) error {
		if _, err := checksum.Parse(string(params.Checksum)); err != nil {
			return err
		}
		if params.IOConcurrency <= 0 {
			return fmt.Errorf("io concurrency must be positive")
		}
		s.params = params
		return nil
	}
}

// WithChecksum sets the checksum algorithm for new objects (default blake3).
func WithChecksum(algorithm checksum.Algorithm) Option {
	return func(s *ObjectStore) error {
		if _, err := checksum.Parse(string(algorithm)); err != nil {
			return err
		}
		s.params.Checksum = algorithm
		return nil
	}
}

// WithCompression sets the compression tried on Put (default none).
func WithCompression(tag compress.Tag) Option {
	return func(s *ObjectStore) error {
		s.params.Compression = tag
		return nil
	}
}

// WithRepairOnRead makes Get write back shards it found missing or corrupt.
func WithRepairOnRead(enabled bool) Option {
	return func(s *ObjectStore) error {
		s.params.RepairOnRead = enabled
		return nil
	}
}

// WithIOConcurrency bounds the parallel shard reads and writes of one call.
func WithIOConcurrency(n int) Option {
	return func(s *ObjectStore) error {
		if n <= 0 {
			return fmt.Errorf("io concurrency must be positive")
		}
		s.params.IOConcurrency = n
		return nil
	}
}

// WithIDFunc sets how object ids are generated (default random UUIDs).
func WithIDFunc(f IDFunc) Option {
	return func(s *ObjectStore) error {
		s.idFunc = f
		return nil
	}
}

// ObjectStore writes objects as n shards and reads them back from any k.
// It is safe for concurrent use. Heal, read repair and Delete of the same
// object never overlap.
type ObjectStore struct {
	coder    encode.Coder
	codersMu sync.Mutex
	coders   map[[2]int]*rs.Coder // Keyed by {k, m}
	shards   shard.Store
	metas    meta.Store
	healer   *heal.Healer
	locks    *keyLock

	params Params
	idFunc IDFunc
	now    func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// Params returns the tunables in effect.
func (s *ObjectStore) Params() Params {
	return s.params
}

// Healer returns the healer bound to the store's coder.
func (s *ObjectStore) Healer() *heal.Healer {
	return s.healer
}

// Put encodes data, writes all n shards and then the metadata record. On
// failure the shards already written are removed and no record is left.
func (s *ObjectStore) Put(ctx context.Context, data []byte) (*meta.Object, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty object", rs.ErrInvalidInput)
	}
	algorithm := s.params.Checksum
	objectChecksum, err := algorithm.Sum(data)
	if err != nil {
		return nil, err
	}

	payload, tag, err := compress.Auto(data, s.params.Compression)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	set, err := s.coder.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	obj := &meta.Object{
		ID:                s.idFunc(),
		OriginalSize:      len(payload),
		ShardSize:         set.ShardSize(),
		DataShards:        s.coder.DataShards(),
		ParityShards:      s.coder.ParityShards(),
		ChecksumAlgorithm: algorithm.String(),
		ShardChecksums:    make([]string, set.Len()),
		ObjectChecksum:    objectChecksum,
		Compression:       tag.String(),
		IsCompressed:      tag != compress.None,
		CreatedAt:         s.now().UTC(),
	}
	if obj.IsCompressed {
		obj.UncompressedSize = len(data)
	}
	shards := set.Shards()
	for _, sh := range shards {
		if obj.ShardChecksums[sh.Index], err = algorithm.Sum(sh.Data); err != nil {
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.IOConcurrency)
	for _, sh := range shards {
		g.Go(func() error {
			if err := s.shards.Put(gctx, obj.ID, sh.Index, sh.Data); err != nil {
				return fmt.Errorf("write shard %d: %w", sh.Index, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ctx, obj)
		return nil, fmt.Errorf("ec: put %s: %w", obj.ID, err)
	}
	if err := s.metas.Put(ctx, obj); err != nil {
		s.discard(ctx, obj)
		return nil, fmt.Errorf("ec: put %s metadata: %w", obj.ID, err)
	}

	log.Debugf("stored object %s: %d bytes as %d+%d shards of %d bytes (%s)",
		obj.ID, len(data), obj.DataShards, obj.ParityShards, obj.ShardSize, obj.Compression)
	return obj.Clone(), nil
}

// discard removes the shards of a failed Put.
func (s *ObjectStore) discard(ctx context.Context, obj *meta.Object) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < obj.TotalShards(); i++ {
		if err := s.shards.Delete(ctx, obj.ID, i); err != nil {
			log.Warnf("object %s: failed to remove shard %d after a failed put: %v", obj.ID, i, err)
		}
	}
}

// Stat returns the metadata record of an object.
func (s *ObjectStore) Stat(ctx context.Context, id string) (*meta.Object, error) {
	return s.metas.Get(ctx, id)
}

// List returns every object id in ascending order.
func (s *ObjectStore) List(ctx context.Context) ([]string, error) {
	return s.metas.List(ctx)
}

// Get reads an object back.
//
// The data shards are read first; parity shards are read only when some data
// shard is missing, unreadable or fails its checksum. Such shards count as
// absent. The reconstructed bytes are decompressed and checked against the
// object checksum.
func (s *ObjectStore) Get(ctx context.Context, id string) ([]byte, error) {
	obj, err := s.metas.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := obj.Validate(); err != nil {
		return nil, fmt.Errorf("ec: get %s: %w", id, err)
	}
	coder, err := s.healer.CoderFor(obj)
	if err != nil {
		return nil, err
	}
	algorithm, err := checksum.Parse(obj.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}

	set := rs.NewShardSet(obj.TotalShards())
	bad, err := s.read(ctx, obj, algorithm, set, indexRange(0, obj.DataShards))
	if err != nil {
		return nil, err
	}
	if set.PresentCount() < obj.DataShards {
		more, err := s.read(ctx, obj, algorithm, set, indexRange(obj.DataShards, obj.TotalShards()))
		if err != nil {
			return nil, err
		}
		bad = append(bad, more...)
	}
	if present := set.PresentCount(); present < obj.DataShards {
		log.Warnf("object %s: only %d of %d required shards are readable", id, present, obj.DataShards)
		return nil, fmt.Errorf("ec: get %s: %w", id, &rs.InsufficientShardsError{Required: obj.DataShards, Available: present})
	}

	payload, err := coder.Reconstruct(set, obj.OriginalSize)
	if err != nil {
		return nil, fmt.Errorf("ec: get %s: %w", id, err)
	}
	data := payload
	if obj.IsCompressed {
		tag, err := compress.Parse(obj.Compression)
		if err != nil {
			return nil, err
		}
		if data, err = compress.Decompress(payload, tag, obj.UncompressedSize); err != nil {
			return nil, fmt.Errorf("ec: get %s: %w", id, err)
		}
	}
	ok, err := algorithm.Verify(data, obj.ObjectChecksum)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Errorf("object %s: reconstructed bytes fail the object checksum", id)
		return nil, fmt.Errorf("%w: object %s", ErrObjectChecksum, id)
	}

	if len(bad) > 0 && s.params.RepairOnRead {
		s.repair(ctx, id, bad)
	}
	return data, nil
}

// read fetches the shards at indices into set. Shards that are missing,
// unreadable or fail verification are left out and returned.
func (s *ObjectStore) read(ctx context.Context, obj *meta.Object, algorithm checksum.Algorithm, set *rs.ShardSet, indices []int) ([]int, error) {
	var (
		mu  sync.Mutex
		bad []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.IOConcurrency)
	for _, index := range indices {
		g.Go(func() error {
			data, err := s.shards.Get(gctx, obj.ID, index)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			ok := false
			switch {
			case errors.Is(err, shard.ErrNotFound):
			case err != nil:
				log.Warnf("object %s: failed to read shard %d: %v", obj.ID, index, err)
			default:
				if ok, err = heal.VerifyShard(obj, algorithm, index, data); err != nil {
					return err
				}
				if !ok {
					log.Warnf("object %s: shard %d failed verification, treating it as missing", obj.ID, index)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if ok {
				set.Set(index, data)
			} else {
				bad = append(bad, index)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(bad)
	return bad, nil
}

// repair heals an object after a read found bad shards. Failures are logged
// since the read itself succeeded.
func (s *ObjectStore) repair(ctx context.Context, id string, bad []int) {
	report, err := s.Heal(ctx, id)
	switch {
	case errors.Is(err, meta.ErrNotFound):
		log.Debugf("object %s: deleted before read repair", id)
	case err != nil:
		log.Warnf("object %s: read repair of shards %v failed: %v", id, bad, err)
	default:
		log.Debugf("object %s: read repair rewrote shards %v", id, report.Rewritten)
	}
}

// Delete removes an object's metadata and then its shards. Deleting an unknown
// object returns meta.ErrNotFound. It waits for a heal of the same object to
// finish, so no shard is written back after Delete returns.
func (s *ObjectStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	obj, err := s.metas.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.metas.Delete(ctx, id); err != nil {
		return fmt.Errorf("ec: delete %s metadata: %w", id, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.IOConcurrency)
	for i := 0; i < obj.TotalShards(); i++ {
		g.Go(func() error {
			return s.shards.Delete(gctx, id, i)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ec: delete %s shards: %w", id, err)
	}
	log.Debugf("deleted object %s", id)
	return nil
}

// Status classifies an object by which shards the store reports present. It
// does not read shard bytes; use Verify for that.
func (s *ObjectStore) Status(ctx context.Context, id string) (heal.HealthStatus, error) {
	obj, err := s.metas.Get(ctx, id)
	if err != nil {
		return heal.HealthStatus{}, err
	}
	present, err := s.shards.ListPresence(ctx, id)
	if err != nil {
		return heal.HealthStatus{}, fmt.Errorf("ec: status %s: %w", id, err)
	}
	return heal.NewHealthStatus(present, obj.TotalShards(), obj.DataShards), nil
}

// Verify reads every shard of an object and classifies it by the shards that
// pass their checksum. It also returns the indices that failed.
func (s *ObjectStore) Verify(ctx context.Context, id string) (heal.HealthStatus, []int, error) {
	obj, err := s.metas.Get(ctx, id)
	if err != nil {
		return heal.HealthStatus{}, nil, err
	}
	return s.healer.Inspect(ctx, s.shards, obj)
}

// Heal regenerates the missing and corrupt shards of an object. The record
// is read under the object's lock, so an object deleted concurrently returns
// meta.ErrNotFound and is not touched.
func (s *ObjectStore) Heal(ctx context.Context, id string) (*heal.ObjectReport, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	obj, err := s.metas.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.healer.HealObject(ctx, s.shards, obj)
}

// Close closes the coders and both stores. Later calls return the first
// result.
func (s *ObjectStore) Close() error {
	s.closeOnce.Do(func() {
		errs := []error{s.coder.Close()}
		s.codersMu.Lock()
		for _, c := range s.coders {
			errs = append(errs, c.Close())
		}
		clear(s.coders)
		s.codersMu.Unlock()
		s.closeErr = errors.Join(append(errs, s.shards.Close(), s.metas.Close())...)
	})
	return s.closeErr
}

// coderFor returns a coder for objects written with k data and m parity
// shards. Coders are built once per pair and kept until Close. They only
// re-encode objects that were stored before, so their input size is not
// capped.
func (s *ObjectStore) coderFor(k, m int) (encode.Coder, error) {
	s.codersMu.Lock()
	defer s.codersMu.Unlock()
	if c, ok := s.coders[[2]int{k, m}]; ok {
		return c, nil
	}
	c, err := rs.New(k, m, rs.WithMaxInputSize(math.MaxInt))
	if err != nil {
		return nil, fmt.Errorf("ec: coder for %d+%d objects: %w", k, m, err)
	}
	log.Debugf("built a %d+%d coder for existing objects", k, m)
	s.coders[[2]int{k, m}] = c
	return c, nil
}

func indexRange(from, to int) []int {
	indices := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		indices = append(indices, i)
	}
	return indices
}
