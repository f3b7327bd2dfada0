package intelligence

import (
	"time"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// VariantsKey is the metadata key under which merged duplicate contents are
// accumulated. The record's own content is never overwritten by a merge, so
// every phrasing the owner ever ingested stays recoverable.
const VariantsKey = "variants"

// DecisionKind is the outcome of comparing a candidate memory against its
// owner's nearest existing neighbor.
type DecisionKind string

const (
	// DecideInsert stores the candidate as a new record.
	DecideInsert DecisionKind = "insert"

	// DecideMerge folds the candidate into an existing record.
	DecideMerge DecisionKind = "merge"

	// DecideReject drops the candidate before embedding (validation failure).
	DecideReject DecisionKind = "reject"
)

// Decision is the ephemeral result of a consolidation check. It is never
// persisted.
type Decision struct {
	// Kind is the decision outcome.
	Kind DecisionKind

	// MergeInto is the ID of the existing record to merge into
	// (only set for DecideMerge).
	MergeInto int64

	// Similarity is the nearest-neighbor similarity that drove the decision.
	Similarity float64

	// Reason explains a rejection (only set for DecideReject).
	Reason string
}

// Consolidator detects near-duplicate memories at ingest time and decides
// whether to merge them into an existing record rather than store a
// redundant copy. The policy deliberately favors few, enriched memories.
type Consolidator struct {
	// threshold is the cosine similarity at or above which a candidate is
	// considered a duplicate of its nearest neighbor.
	threshold float64
}

// NewConsolidator creates a consolidator with the given similarity
// threshold. A zero threshold defaults to 0.92.
func NewConsolidator(threshold float64) *Consolidator {
	if threshold == 0 {
		threshold = 0.92
	}
	return &Consolidator{threshold: threshold}
}

// Threshold returns the configured duplicate-detection threshold.
func (c *Consolidator) Threshold() float64 {
	return c.threshold
}

// Decide compares the candidate's nearest-neighbor similarity against the
// threshold. nearest may be nil when the owner has no active records yet.
func (c *Consolidator) Decide(nearest *storage.Record) Decision {
	if nearest == nil {
		return Decision{Kind: DecideInsert}
	}
	if nearest.Score >= c.threshold {
		return Decision{
			Kind:       DecideMerge,
			MergeInto:  nearest.ID,
			Similarity: nearest.Score,
		}
	}
	return Decision{Kind: DecideInsert, Similarity: nearest.Score}
}

// Merge folds a duplicate candidate into an existing record:
//
//   - the new content is appended to the record's variants metadata list
//   - importance is boosted to the max of the existing importance and the
//     candidate's importance
//   - UpdatedAt is refreshed
//
// The existing content and embedding are left untouched. Returns the
// mutated record for persistence by the caller.
func (c *Consolidator) Merge(existing *storage.Record, newContent string, newImportance float64, now time.Time) *storage.Record {
	if existing.Metadata == nil {
		existing.Metadata = make(map[string]interface{})
	}

	var variants []interface{}
	if v, ok := existing.Metadata[VariantsKey].([]interface{}); ok {
		variants = v
	}
	variants = append(variants, newContent)
	existing.Metadata[VariantsKey] = variants

	if newImportance > existing.Importance {
		existing.Importance = newImportance
	}
	existing.UpdatedAt = now

	return existing
}

// Variants extracts the accumulated duplicate contents from a record's
// metadata. Returns nil when the record was never merged into.
func Variants(rec *storage.Record) []string {
	if rec.Metadata == nil {
		return nil
	}
	raw, ok := rec.Metadata[VariantsKey].([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
