// Package storage provides interfaces and types for memory record storage backends.
//
// It defines the VectorStore interface that all backends must satisfy, along
// with the Record type, query filters, and the sentinel errors shared by
// every implementation.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by VectorStore implementations.
var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrOwnerMismatch indicates that a caller attempted to access a record
	// belonging to a different owner. Always fatal to that single call.
	ErrOwnerMismatch = errors.New("owner mismatch")

	// ErrInvalidDimension indicates that an embedding's length does not match
	// the dimension the store was configured with.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrMissingOwner indicates that an operation requiring owner scoping was
	// called without an owner ID.
	ErrMissingOwner = errors.New("owner id is required")
)

// RecordState describes the lifecycle state of a stored record.
type RecordState string

const (
	// StateActive is a record with a valid embedding, visible to similarity search.
	StateActive RecordState = "active"

	// StatePending is a record stored without an embedding (embedding gateway
	// failure at ingest time). Pending records are visible to List but
	// excluded from Query until backfilled.
	StatePending RecordState = "pending"
)

// Record represents a memory record stored in a vector store.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors core.MemoryRecord.
type Record struct {
	// ID is the unique identifier of the record, assigned at creation.
	ID int64

	// OwnerID identifies the user who owns this record. Every store
	// operation is scoped to exactly one owner.
	OwnerID string

	// ConversationRef is an optional back-reference to the originating
	// conversation. Lookup only, not ownership.
	ConversationRef string

	// Content is the text content of the memory.
	Content string

	// Embedding is the vector embedding for similarity search.
	// Nil when State is StatePending.
	Embedding []float64

	// State is the lifecycle state (active or pending).
	State RecordState

	// MemoryType categorizes the memory (episodic, semantic, procedural).
	MemoryType string

	// Importance is the normalized importance score in [0.0, 1.0].
	Importance float64

	// AccessCount is the number of times the record has been surfaced by
	// retrieval. Monotonically non-decreasing.
	AccessCount int64

	// LastAccessedAt is when the record was last surfaced (nil if never).
	LastAccessedAt *time.Time

	// LastDecayedAt is the decay idempotency watermark (nil if never decayed).
	LastDecayedAt *time.Time

	// Tags is an optional set of string tags. Display order is preserved.
	Tags []string

	// Metadata contains opaque structured information. Not interpreted by
	// the store except for filter pass-through.
	Metadata map[string]interface{}

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	// UpdatedAt is when the record was last mutated (including access
	// tracking and decay).
	UpdatedAt time.Time

	// Score is the cosine similarity from the most recent Query, in [-1, 1].
	// Only populated on Query results.
	Score float64
}

// QueryOptions contains options for similarity search.
type QueryOptions struct {
	// K is the maximum number of results to return.
	K int

	// MinScore drops results whose cosine similarity is below this value.
	// Zero means no cut; anti-correlated results pass through unfiltered.
	MinScore float64

	// Filters constrains the candidate set before similarity ranking.
	Filters *Filters
}

// Filters constrains Query and List to records matching all set fields.
type Filters struct {
	// MemoryTypes restricts to records whose MemoryType is in the set.
	MemoryTypes []string

	// Tags restricts to records carrying every listed tag (subset match).
	Tags []string

	// MinImportance restricts to records with Importance >= the threshold.
	MinImportance float64

	// ConversationRef restricts to records from one conversation.
	ConversationRef string

	// CreatedAfter / CreatedBefore restrict by creation time (zero = unset).
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// ListOptions contains options for metadata listing.
type ListOptions struct {
	// Filters constrains the listing (may be nil).
	Filters *Filters

	// IncludePending includes records in pending state.
	IncludePending bool

	// PendingOnly restricts the listing to pending records.
	PendingOnly bool

	// Limit sets the maximum number of results (0 = no limit).
	Limit int

	// Offset sets the number of results to skip (for pagination).
	Offset int
}

// DeleteFilter selects records for DeleteWhere.
type DeleteFilter struct {
	// IDs restricts deletion to the listed record IDs.
	IDs []int64

	// ConversationRef deletes all records back-referencing one conversation.
	ConversationRef string

	// MaxImportance deletes records with Importance <= the threshold
	// (ignored when zero).
	MaxImportance float64

	// NotAccessedSince deletes records whose LastAccessedAt (or CreatedAt if
	// never accessed) is before the cutoff (ignored when zero).
	NotAccessedSince time.Time
}

// DecayUpdate describes one idempotent decay pass over an owner's records.
//
// A record is decayed when it is active, has not been accessed since
// AccessCutoff, and its LastDecayedAt watermark is either unset or before
// WindowStart. Re-running the same pass is a no-op for already-decayed
// records because RunAt advances the watermark past WindowStart.
type DecayUpdate struct {
	// Factor multiplies the importance of each decayed record.
	Factor float64

	// Floor is the minimum importance after decay. Never zero, so ordering
	// stays stable.
	Floor float64

	// AccessCutoff protects recently accessed records from decay.
	AccessCutoff time.Time

	// WindowStart keys the idempotency watermark.
	WindowStart time.Time

	// RunAt is written to LastDecayedAt for every decayed record.
	RunAt time.Time
}

// VectorStore defines the interface for memory record storage backends.
//
// All backends (SQLite, PostgreSQL, MySQL, in-memory) must implement this
// interface. Every operation is scoped to a single owner; implementations
// must never let one owner's call observe or mutate another owner's records.
type VectorStore interface {
	// Insert persists a record. The record's embedding length must equal the
	// store's configured dimension unless the record is pending, otherwise
	// ErrInvalidDimension is returned.
	Insert(ctx context.Context, rec *Record) error

	// Query performs cosine similarity search over the owner's active
	// records, returning at most opts.K results ordered by similarity
	// descending. Ties are broken by higher importance, then more recent
	// CreatedAt, then ID ascending.
	Query(ctx context.Context, ownerID string, embedding []float64, opts *QueryOptions) ([]*Record, error)

	// List retrieves the owner's records by metadata, without similarity.
	// Results are ordered by CreatedAt descending, then ID descending.
	List(ctx context.Context, ownerID string, opts *ListOptions) ([]*Record, error)

	// Get retrieves a record by ID, scoped to the owner. Returns
	// ErrNotFound if no record with the ID exists, ErrOwnerMismatch if it
	// exists but belongs to a different owner.
	Get(ctx context.Context, id int64, ownerID string) (*Record, error)

	// Update rewrites a record's mutable fields (content, embedding, state,
	// importance, tags, metadata, UpdatedAt), matched by ID and owner.
	Update(ctx context.Context, rec *Record) error

	// TouchBatch increments AccessCount by the given amount and sets
	// LastAccessedAt to now for each listed record. Missing IDs are
	// skipped; TouchBatch never fails because a record was deleted
	// concurrently.
	TouchBatch(ctx context.Context, ownerID string, increments map[int64]int64, now time.Time) error

	// ApplyDecay runs one idempotent decay pass and reports how many
	// records were decayed.
	ApplyDecay(ctx context.Context, ownerID string, upd *DecayUpdate) (int64, error)

	// Delete removes a record by ID, scoped to the owner.
	Delete(ctx context.Context, id int64, ownerID string) error

	// DeleteWhere removes all owner records matching the filter and reports
	// how many were removed.
	DeleteWhere(ctx context.Context, ownerID string, filter *DeleteFilter) (int64, error)

	// Count reports the number of live records for an owner (all states).
	Count(ctx context.Context, ownerID string) (int64, error)

	// Owners lists every owner ID with at least one live record.
	Owners(ctx context.Context) ([]string, error)

	// Close closes the store and releases resources.
	Close() error
}
