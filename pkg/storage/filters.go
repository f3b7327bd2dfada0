package storage

import (
	"math"
	"sort"
)

// MatchesFilters reports whether a record passes every set field of the
// filter. A nil filter matches everything.
func MatchesFilters(rec *Record, f *Filters) bool {
	if f == nil {
		return true
	}

	if len(f.MemoryTypes) > 0 {
		found := false
		for _, mt := range f.MemoryTypes {
			if rec.MemoryType == mt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// Subset match: the record must carry every requested tag.
	for _, want := range f.Tags {
		found := false
		for _, have := range rec.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.MinImportance > 0 && rec.Importance < f.MinImportance {
		return false
	}

	if f.ConversationRef != "" && rec.ConversationRef != f.ConversationRef {
		return false
	}

	if !f.CreatedAfter.IsZero() && rec.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && rec.CreatedAt.After(f.CreatedBefore) {
		return false
	}

	return true
}

// MatchesDeleteFilter reports whether a record is selected by the delete
// filter. A nil filter selects everything.
func MatchesDeleteFilter(rec *Record, f *DeleteFilter) bool {
	if f == nil {
		return true
	}

	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if rec.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.ConversationRef != "" && rec.ConversationRef != f.ConversationRef {
		return false
	}

	if f.MaxImportance > 0 && rec.Importance > f.MaxImportance {
		return false
	}

	if !f.NotAccessedSince.IsZero() {
		last := rec.CreatedAt
		if rec.LastAccessedAt != nil {
			last = *rec.LastAccessedAt
		}
		if !last.Before(f.NotAccessedSince) {
			return false
		}
	}

	return true
}

// SortByScore orders records by similarity descending with deterministic
// tie-breaks (higher importance, more recent CreatedAt, ID ascending) and
// truncates to k results. k <= 0 means no truncation.
//
// Backends that compute similarity in process (SQLite, MySQL, in-memory)
// share this so every backend returns the same ordering for the same data.
func SortByScore(recs []*Record, k int) []*Record {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
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

	if k > 0 && len(recs) > k {
		recs = recs[:k]
	}
	return recs
}

// Cosine computes the cosine similarity of two vectors, in [-1, 1].
// Returns 0 for mismatched dimensions or zero-norm vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
