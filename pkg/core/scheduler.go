package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semcore-ai/semmem-go/pkg/intelligence"
	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// backfillBatchSize bounds how many pending records one scheduler pass
// tries to re-embed per owner.
const backfillBatchSize = 32

// DecayScheduler runs the periodic forgetting pass: importance decay,
// capacity eviction, and embedding backfill for pending records.
//
// The scheduler is idempotent. Decay is keyed by each record's
// LastDecayedAt watermark, so re-running a pass within the same window
// (after a crash, or two schedulers racing) changes nothing a second
// time. Deletions take the same per-owner lock as ingest, so a record is
// never removed out from under a concurrent consolidation check.
//
// Example:
//
//	scheduler := core.NewDecayScheduler(engine)
//	scheduler.Start()
//	defer scheduler.Stop()
type DecayScheduler struct {
	engine *Engine
	policy intelligence.DecayPolicy
	cap    int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDecayScheduler creates a scheduler over the engine's store using the
// decay tunables from the engine config.
func NewDecayScheduler(engine *Engine) *DecayScheduler {
	cfg := engine.config.Engine
	return &DecayScheduler{
		engine: engine,
		policy: intelligence.DecayPolicy{
			Factor:     cfg.DecayFactor,
			Floor:      cfg.DecayFloor,
			StaleAfter: cfg.DecayWindow,
			Interval:   cfg.DecayInterval,
		},
		cap:  cfg.OwnerCap,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the scheduler loop in a background goroutine. The first
// pass runs after one full interval.
func (s *DecayScheduler) Start() {
	go s.run()
}

// Stop terminates the scheduler loop and waits for an in-flight pass to
// finish. Safe to call more than once.
func (s *DecayScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *DecayScheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunOnce(context.Background()); err != nil {
				s.engine.logger.Warn("decay pass failed", "err", err)
			}
		case <-s.stop:
			return
		}
	}
}

// RunOnce executes one full decay/eviction/backfill pass over every owner
// with live records. Exposed so operators can trigger a pass on demand
// and tests can drive the scheduler synchronously.
func (s *DecayScheduler) RunOnce(ctx context.Context) error {
	runID := uuid.NewString()
	now := s.engine.clock.Now()

	owners, err := s.engine.store.Owners(ctx)
	if err != nil {
		return NewEngineError("RunOnce", err)
	}

	for _, ownerID := range owners {
		if err := ctx.Err(); err != nil {
			return NewEngineError("RunOnce", err)
		}
		s.runOwner(ctx, ownerID, now, runID)
	}
	return nil
}

// runOwner applies decay, eviction, and backfill to one owner. Failures
// are logged and skipped so one bad owner cannot stall the whole pass.
func (s *DecayScheduler) runOwner(ctx context.Context, ownerID string, now time.Time, runID string) {
	lock := s.engine.locks.get(ownerID)
	lock.Lock()
	defer lock.Unlock()

	decayed, err := s.engine.store.ApplyDecay(ctx, ownerID, s.policy.Update(now))
	if err != nil {
		s.engine.logger.Warn("decay failed", "run", runID, "owner", ownerID, "err", err)
		return
	}

	evicted := s.evict(ctx, ownerID, now, runID)
	backfilled := s.backfillPending(ctx, ownerID, now, runID)

	if decayed > 0 || evicted > 0 || backfilled > 0 {
		s.engine.logger.Info("decay pass",
			"run", runID, "owner", ownerID,
			"decayed", decayed, "evicted", evicted, "backfilled", backfilled)
	}
}

// evict deletes the lowest-scoring records until the owner is back under
// the cap, never touching records accessed within the decay window.
func (s *DecayScheduler) evict(ctx context.Context, ownerID string, now time.Time, runID string) int64 {
	if s.cap <= 0 {
		return 0
	}

	count, err := s.engine.store.Count(ctx, ownerID)
	if err != nil || count <= s.cap {
		return 0
	}

	recs, err := s.engine.store.List(ctx, ownerID, &storage.ListOptions{IncludePending: true})
	if err != nil {
		s.engine.logger.Warn("eviction listing failed", "run", runID, "owner", ownerID, "err", err)
		return 0
	}

	protectAfter := now.Add(-s.policy.StaleAfter)
	candidates := intelligence.EvictionCandidates(recs, s.engine.ranking, now, protectAfter)

	over := count - s.cap
	if over > int64(len(candidates)) {
		// Everything above the cap is protected by recent access; evict
		// what we can and leave the rest for a later pass.
		over = int64(len(candidates))
	}
	if over == 0 {
		return 0
	}

	ids := make([]int64, over)
	for i := int64(0); i < over; i++ {
		ids[i] = candidates[i].ID
	}

	n, err := s.engine.store.DeleteWhere(ctx, ownerID, &storage.DeleteFilter{IDs: ids})
	if err != nil {
		s.engine.logger.Warn("eviction failed", "run", runID, "owner", ownerID, "err", err)
		return 0
	}
	return n
}

// backfillPending retries embedding for records stored without one. A
// record that embeds successfully becomes active and visible to
// similarity search.
func (s *DecayScheduler) backfillPending(ctx context.Context, ownerID string, now time.Time, runID string) int64 {
	recs, err := s.engine.store.List(ctx, ownerID, &storage.ListOptions{
		PendingOnly: true,
		Limit:       backfillBatchSize,
	})
	if err != nil {
		s.engine.logger.Warn("backfill listing failed", "run", runID, "owner", ownerID, "err", err)
		return 0
	}

	var backfilled int64
	for _, rec := range recs {
		emb, err := s.engine.embedder.Embed(ctx, rec.Content)
		if err != nil {
			// Gateway still down; the next pass will retry.
			s.engine.logger.Debug("backfill embedding failed", "run", runID, "owner", ownerID, "id", rec.ID, "err", err)
			continue
		}

		rec.Embedding = emb
		rec.State = storage.StateActive
		rec.UpdatedAt = now
		if err := s.engine.store.Update(ctx, rec); err != nil {
			s.engine.logger.Warn("backfill update failed", "run", runID, "owner", ownerID, "id", rec.ID, "err", err)
			continue
		}
		backfilled++
	}
	return backfilled
}
