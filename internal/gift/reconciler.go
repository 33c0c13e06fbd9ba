// Package gift reconciles cumulative gift combo counters into monotonic
// increments. Upstream delivery duplicates and reorders combo messages, so
// the raw counter cannot be trusted as-is.
package gift

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long an idle combo entry survives before the sweep
// evicts it.
const DefaultTTL = 10 * time.Second

// DefaultSweepInterval is the period of the eviction sweep.
const DefaultSweepInterval = 10 * time.Second

type comboKey struct {
	roomID  int64
	giftID  int64
	groupID int64
}

type comboState struct {
	count  int64
	seenAt time.Time
}

// Observation is one raw gift sighting.
type Observation struct {
	RoomID     int64
	GiftID     int64
	GroupID    int64
	Cumulative int64
	ComboEnd   bool
}

// Reconciler holds the per-combo counter cache. A single mutex over the
// whole observation makes compare-then-upsert atomic; per-key state is
// tiny, so contention is not a concern at barrage rates.
type Reconciler struct {
	mu    sync.Mutex
	cache map[comboKey]comboState

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

func NewReconciler(ttl, sweepInterval time.Duration, logger *zap.Logger) *Reconciler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Reconciler{
		cache:         make(map[comboKey]comboState),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		now:           time.Now,
		logger:        logger,
	}
}

// Observe applies one sighting and returns the increment to emit. ok is
// false when the event must be dropped: an explicit combo end, or a stale
// counter already covered by a larger sighting.
func (r *Reconciler) Observe(obs Observation) (increment int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := comboKey{roomID: obs.RoomID, giftID: obs.GiftID, groupID: obs.GroupID}

	// An end signal carries no new count; it only closes the tracked combo.
	// With no live entry it falls through and is treated as a fresh sighting.
	if obs.ComboEnd {
		if _, exists := r.cache[key]; exists {
			if obs.GroupID > 0 {
				delete(r.cache, key)
			}
			return 0, false
		}
	}

	curr := obs.Cumulative
	if curr <= 0 {
		curr = 1
	}

	var last int64
	if state, exists := r.cache[key]; exists {
		last = state.count
	}

	// A smaller or equal counter means a bigger one was already processed.
	if curr <= last {
		return 0, false
	}

	if obs.GroupID > 0 {
		r.cache[key] = comboState{count: curr, seenAt: r.now()}
	}
	return curr - last, true
}

// Len reports the number of live combo entries.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Run drives the periodic eviction sweep until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("gift reconciler stopping")
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reconciler) sweep() {
	deadline := r.now().Add(-r.ttl)

	r.mu.Lock()
	evicted := 0
	for key, state := range r.cache {
		if state.seenAt.Before(deadline) {
			delete(r.cache, key)
			evicted++
		}
	}
	remaining := len(r.cache)
	r.mu.Unlock()

	if evicted > 0 {
		r.logger.Debug("evicted idle gift combos",
			zap.Int("evicted", evicted),
			zap.Int("remaining", remaining),
		)
	}
}
