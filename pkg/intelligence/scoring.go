// Package intelligence provides the memory ranking, consolidation, decay,
// and importance evaluation policies used by the engine.
package intelligence

import (
	"math"
	"sort"
	"time"
)

// RankingPolicy combines similarity, importance, and recency into a single
// ordering. It is the one place that governs what the caller sees first.
//
// The combined score is:
//
//	score = wSim * (s+1)/2 + wImp * i + wRec * exp(-age/halfLife)
//
// where s is raw cosine similarity in [-1,1], i is importance in [0,1], and
// age is the time since the record was last accessed (or created, if never
// accessed). The weights must sum to 1 so the score stays in [0,1].
type RankingPolicy struct {
	// WSimilarity weights the normalized cosine similarity.
	WSimilarity float64

	// WImportance weights the record's importance score.
	WImportance float64

	// WRecency weights the exponential recency factor.
	WRecency float64

	// HalfLife controls how fast the recency factor falls off.
	HalfLife time.Duration
}

// DefaultRankingPolicy returns the standard weighting: similarity dominates,
// importance and recency refine, with a 14-day half-life.
func DefaultRankingPolicy() *RankingPolicy {
	return &RankingPolicy{
		WSimilarity: 0.6,
		WImportance: 0.25,
		WRecency:    0.15,
		HalfLife:    14 * 24 * time.Hour,
	}
}

// Valid reports whether the weights are non-negative and sum to 1 (within
// floating point tolerance) and the half-life is positive.
func (p *RankingPolicy) Valid() bool {
	if p.WSimilarity < 0 || p.WImportance < 0 || p.WRecency < 0 {
		return false
	}
	if p.HalfLife <= 0 {
		return false
	}
	sum := p.WSimilarity + p.WImportance + p.WRecency
	return math.Abs(sum-1.0) < 1e-9
}

// Candidate is one scored retrieval candidate.
type Candidate struct {
	// ID identifies the underlying record, used for deterministic tie-breaks.
	ID int64

	// Similarity is the raw cosine similarity in [-1, 1].
	Similarity float64

	// Importance is the record's importance in [0, 1].
	Importance float64

	// LastAccessedAt is when the record was last surfaced (nil if never).
	LastAccessedAt *time.Time

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	// Score is the combined score, filled in by Rank or Score.
	Score float64
}

// Score computes the combined score for one candidate at the given time.
func (p *RankingPolicy) Score(c *Candidate, now time.Time) float64 {
	return p.WSimilarity*NormalizeSimilarity(c.Similarity) +
		p.WImportance*c.Importance +
		p.WRecency*p.RecencyFactor(c, now)
}

// RecencyFactor computes exp(-age/halfLife) for a candidate, where age is
// measured from LastAccessedAt, or CreatedAt if the record was never
// accessed. The factor is clamped to [0, 1]; a reference time in the future
// (clock skew) counts as age zero.
func (p *RankingPolicy) RecencyFactor(c *Candidate, now time.Time) float64 {
	ref := c.CreatedAt
	if c.LastAccessedAt != nil {
		ref = *c.LastAccessedAt
	}

	age := now.Sub(ref)
	if age <= 0 {
		return 1.0
	}

	return math.Exp(-float64(age) / float64(p.HalfLife))
}

// Rank scores all candidates at the given time and sorts them descending by
// score with deterministic tie-breaks: higher importance, then more recent
// CreatedAt, then ID ascending.
func (p *RankingPolicy) Rank(candidates []*Candidate, now time.Time) {
	for _, c := range candidates {
		c.Score = p.Score(c, now)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// NormalizeSimilarity maps raw cosine similarity from [-1, 1] into [0, 1].
func NormalizeSimilarity(s float64) float64 {
	n := (s + 1) / 2
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
