package ec

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ppopth/ecstore/ec/encode/rs"
	"github.com/ppopth/ecstore/heal"
	"github.com/ppopth/ecstore/meta"

	"golang.org/x/sync/errgroup"
)

// Scrub defaults.
const (
	DefaultScrubInterval   = time.Hour
	DefaultScrubWorkers    = 4
	DefaultScrubRetryAfter = 6 * time.Hour
)

type ScrubParams struct {
	// Time between the starts of two background passes.
	Interval time.Duration
	// Objects healed at once.
	Workers int
	// How long a critical object is left out of later passes. Reads still
	// fail for it in the meantime; this only keeps it from flooding the log.
	RetryAfter time.Duration
}

// DefaultScrubParams returns the defaults.
func DefaultScrubParams() ScrubParams {
	return ScrubParams{
		Interval:   DefaultScrubInterval,
		Workers:    DefaultScrubWorkers,
		RetryAfter: DefaultScrubRetryAfter,
	}
}

// ScrubReport summarizes one pass. Id lists are sorted.
type ScrubReport struct {
	Checked  int      `json:"checked"`
	Healthy  int      `json:"healthy"`
	Healed   []string `json:"healed"`
	Critical []string `json:"critical"`
	Skipped  []string `json:"skipped"` // Critical in a recent pass
	Failed   []string `json:"failed"`
}

// Scrubber walks every object, reads all of its shards and rewrites the ones
// that are missing or fail their checksum.
type Scrubber struct {
	store    *ObjectStore
	params   ScrubParams
	critical *heal.TimeCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
}

func NewScrubber(store *ObjectStore, params ScrubParams) (*Scrubber, error) {
	if params.Interval <= 0 || params.Workers <= 0 || params.RetryAfter <= 0 {
		return nil, fmt.Errorf("scrub interval, workers and retry-after must be positive")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scrubber{
		store:    store,
		params:   params,
		critical: heal.NewTimeCache(params.RetryAfter),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// RunOnce makes one pass over the object ids known when it starts.
func (sc *Scrubber) RunOnce(ctx context.Context) (*ScrubReport, error) {
	ids, err := sc.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrub: list objects: %w", err)
	}

	var (
		mu     sync.Mutex
		report ScrubReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sc.params.Workers)
	for _, id := range ids {
		if sc.critical.Has(id) {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		g.Go(func() error {
			res, err := sc.scrubObject(gctx, id)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case scrubGone:
				return nil
			case scrubHealthy:
				report.Healthy++
			case scrubHealed:
				report.Healed = append(report.Healed, id)
			case scrubCritical:
				report.Critical = append(report.Critical, id)
			case scrubFailed:
				log.Warnf("scrub: object %s: %v", id, err)
				report.Failed = append(report.Failed, id)
			}
			report.Checked++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.Sort(report.Healed)
	slices.Sort(report.Critical)
	slices.Sort(report.Failed)
	log.Infof("scrub: checked %d objects: %d healthy, %d healed, %d critical, %d skipped, %d failed",
		report.Checked, report.Healthy, len(report.Healed), len(report.Critical), len(report.Skipped), len(report.Failed))
	return &report, nil
}

type scrubResult int

const (
	scrubGone scrubResult = iota
	scrubHealthy
	scrubHealed
	scrubCritical
	scrubFailed
)

func (sc *Scrubber) scrubObject(ctx context.Context, id string) (scrubResult, error) {
	report, err := sc.store.Heal(ctx, id)
	switch {
	case errors.Is(err, meta.ErrNotFound):
		// Deleted since the pass started.
		return scrubGone, nil
	case errors.Is(err, rs.ErrInsufficientShards):
		log.Errorf("scrub: object %s is critical and cannot be healed: %v", id, err)
		sc.critical.Add(id)
		return scrubCritical, nil
	case err != nil:
		return scrubFailed, err
	case len(report.Rewritten) > 0:
		return scrubHealed, nil
	default:
		return scrubHealthy, nil
	}
}

// Start runs a pass every interval in the background until Close. Calling
// Start more than once has no effect.
func (sc *Scrubber) Start() {
	sc.start.Do(func() {
		sc.wg.Add(1)
		go sc.loop()
	})
}

func (sc *Scrubber) loop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			return
		case <-ticker.C:
			if _, err := sc.RunOnce(sc.ctx); err != nil && sc.ctx.Err() == nil {
				log.Warnf("scrub pass failed: %v", err)
			}
		}
	}
}

// Close stops the background loop and waits for a running pass to end.
func (sc *Scrubber) Close() error {
	sc.cancel()
	sc.wg.Wait()
	return sc.critical.Close()
}
