package intelligence

import (
	"sort"
	"time"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// DecayPolicy controls the periodic forgetting pass. Memories that have not
// been accessed recently lose importance multiplicatively until they hit the
// floor, mirroring the exponential shape of the Ebbinghaus forgetting curve.
type DecayPolicy struct {
	// Factor multiplies the importance of every stale record per pass.
	// Must be in (0, 1).
	Factor float64

	// Floor is the minimum importance decay can produce. Records never
	// decay below it, so even long-forgotten memories stay rankable.
	Floor float64

	// StaleAfter is how long a record may go unaccessed before it is
	// considered stale and subject to decay.
	StaleAfter time.Duration

	// Interval is the scheduler cadence between decay passes. It also
	// bounds the idempotency window: a record already decayed within the
	// current window is skipped by the store.
	Interval time.Duration
}

// DefaultDecayPolicy returns the standard forgetting configuration:
// a 2% importance loss per daily pass for records untouched for a week,
// floored at 0.01.
func DefaultDecayPolicy() DecayPolicy {
	return DecayPolicy{
		Factor:     0.98,
		Floor:      0.01,
		StaleAfter: 7 * 24 * time.Hour,
		Interval:   24 * time.Hour,
	}
}

// Valid reports whether the policy parameters are usable.
func (p DecayPolicy) Valid() bool {
	return p.Factor > 0 && p.Factor < 1 &&
		p.Floor >= 0 && p.Floor < 1 &&
		p.StaleAfter > 0 && p.Interval > 0
}

// Update builds the storage-level decay instruction for a pass running at
// now. The window start makes repeated application within one interval a
// no-op, so a crashed and restarted scheduler cannot double-decay.
func (p DecayPolicy) Update(now time.Time) *storage.DecayUpdate {
	return &storage.DecayUpdate{
		Factor:       p.Factor,
		Floor:        p.Floor,
		AccessCutoff: now.Add(-p.StaleAfter),
		WindowStart:  now.Add(-p.Interval),
		RunAt:        now,
	}
}

// EvictionCandidates orders records for capacity eviction, lowest score
// first. The score is the ranking formula with the similarity term left
// out (there is no query at eviction time) and the remaining weights
// renormalized, so the same importance/recency trade-off that governs
// retrieval also governs what gets evicted. Records accessed after
// protectAfter are excluded entirely so a hot memory is never evicted.
func EvictionCandidates(recs []*storage.Record, policy *RankingPolicy, now, protectAfter time.Time) []*storage.Record {
	lastTouched := func(rec *storage.Record) time.Time {
		if rec.LastAccessedAt != nil {
			return *rec.LastAccessedAt
		}
		return rec.CreatedAt
	}

	wSum := policy.WImportance + policy.WRecency
	score := func(rec *storage.Record) float64 {
		c := &Candidate{
			Importance:     rec.Importance,
			LastAccessedAt: rec.LastAccessedAt,
			CreatedAt:      rec.CreatedAt,
		}
		s := policy.WImportance*rec.Importance + policy.WRecency*policy.RecencyFactor(c, now)
		if wSum > 0 {
			s /= wSum
		}
		return s
	}

	candidates := make([]*storage.Record, 0, len(recs))
	for _, rec := range recs {
		if lastTouched(rec).After(protectAfter) {
			continue
		}
		candidates = append(candidates, rec)
	}

	scores := make(map[int64]float64, len(candidates))
	for _, rec := range candidates {
		scores[rec.ID] = score(rec)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if scores[a.ID] != scores[b.ID] {
			return scores[a.ID] < scores[b.ID]
		}
		at, bt := lastTouched(a), lastTouched(b)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return candidates
}
