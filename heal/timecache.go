package heal

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired TimeCache entries are dropped.
const DefaultSweepInterval = 1 * time.Minute

// TimeCache is a set of keys that expire ttl after they were added. The
// scrubber keeps objects it failed to heal here so it does not retry them on
// every pass.
type TimeCache struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lk  sync.Mutex
	m   map[string]time.Time
	ttl time.Duration
	now func() time.Time
}

func NewTimeCache(ttl time.Duration) *TimeCache {
	return newTimeCache(ttl, DefaultSweepInterval, time.Now)
}

func newTimeCache(ttl, sweepInterval time.Duration, now func() time.Time) *TimeCache {
	ctx, cancel := context.WithCancel(context.Background())

	tc := &TimeCache{
		ctx:    ctx,
		cancel: cancel,

		m:   make(map[string]time.Time),
		ttl: ttl,
		now: now,
	}

	tc.wg.Add(1)
	go tc.background(sweepInterval)

	return tc
}

// Has reports whether key is present and not yet expired.
func (tc *TimeCache) Has(key string) bool {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	expiry, ok := tc.m[key]
	return ok && tc.now().Before(expiry)
}

// Add inserts key unless it is already present. The expiry of an existing
// key is not extended.
func (tc *TimeCache) Add(key string) {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	if expiry, ok := tc.m[key]; !ok || !tc.now().Before(expiry) {
		tc.m[key] = tc.now().Add(tc.ttl)
	}
}

// Remove drops key.
func (tc *TimeCache) Remove(key string) {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	delete(tc.m, key)
}

// Len returns the number of entries, including expired ones not yet swept.
func (tc *TimeCache) Len() int {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	return len(tc.m)
}

func (tc *TimeCache) background(sweepInterval time.Duration) {
	defer tc.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tc.sweep(tc.now())

		case <-tc.ctx.Done():
			return
		}
	}
}

func (tc *TimeCache) sweep(now time.Time) {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	for k, expiry := range tc.m {
		if !now.Before(expiry) {
			delete(tc.m, k)
		}
	}
}

func (tc *TimeCache) Close() error {
	tc.cancel()
	tc.wg.Wait()
	return nil
}
