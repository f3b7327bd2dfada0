// Package core provides the semantic memory engine: ingestion with
// near-duplicate consolidation, ranked retrieval, decay-driven eviction,
// and token-budgeted context assembly.
package core

import "time"

// MemoryType categorizes a memory record.
//
// The set is extensible: the engine validates against the known types but
// stores the value as a plain string.
type MemoryType string

const (
	// TypeEpisodic describes a specific event or exchange.
	TypeEpisodic MemoryType = "episodic"

	// TypeSemantic describes a fact or preference.
	TypeSemantic MemoryType = "semantic"

	// TypeProcedural describes how to do something.
	TypeProcedural MemoryType = "procedural"
)

// ValidMemoryType reports whether t is a known memory type.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	}
	return false
}

// MemoryRecord represents a single memory owned by one user.
//
// Example:
//
//	record := &core.MemoryRecord{
//	    ID:         1234567890,
//	    OwnerID:    "user_001",
//	    Content:    "User prefers Python over JavaScript",
//	    MemoryType: core.TypeSemantic,
//	    Importance: 0.8,
//	}
type MemoryRecord struct {
	// ID is the unique identifier of the record, assigned at creation.
	ID int64 `json:"id"`

	// OwnerID identifies the user who owns this record.
	OwnerID string `json:"owner_id"`

	// ConversationRef is an optional back-reference to the originating
	// conversation.
	ConversationRef string `json:"conversation_ref,omitempty"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Embedding is the vector embedding for similarity search.
	// Omitted from JSON to reduce payload size. Nil while pending.
	Embedding []float64 `json:"embedding,omitempty"`

	// Pending indicates the record was stored without an embedding
	// (embedding gateway failure) and is excluded from similarity search.
	Pending bool `json:"pending,omitempty"`

	// MemoryType categorizes the memory (episodic, semantic, procedural).
	MemoryType MemoryType `json:"memory_type"`

	// Importance is the normalized importance score in [0.0, 1.0].
	Importance float64 `json:"importance"`

	// AccessCount is the number of times the record has been surfaced.
	AccessCount int64 `json:"access_count"`

	// LastAccessedAt is when the record was last surfaced (nil if never).
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// Tags is an optional set of string tags, display order preserved.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional structured information. The engine
	// stores merged duplicate contents under the "variants" key.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last mutated.
	UpdatedAt time.Time `json:"updated_at"`

	// Score is the combined relevance score from retrieval operations,
	// in [0.0, 1.0]. Higher scores indicate better matches.
	Score float64 `json:"score,omitempty"`
}

// Message is one turn of recent dialogue passed to AssembleContext.
type Message struct {
	// Role is the speaker role (e.g. "user", "assistant").
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// FragmentKind identifies the source of a context fragment.
type FragmentKind string

const (
	// FragmentMessage is a fragment sourced from recent dialogue.
	FragmentMessage FragmentKind = "message"

	// FragmentMemory is a fragment sourced from a stored memory.
	FragmentMemory FragmentKind = "memory"
)

// Fragment is one included piece of an assembled context block.
type Fragment struct {
	// Kind identifies whether the fragment is a message or a memory.
	Kind FragmentKind `json:"kind"`

	// Content is the fragment text.
	Content string `json:"content"`

	// Tokens is the counted token cost of the fragment.
	Tokens int `json:"tokens"`

	// MemoryID is the source record ID for memory fragments (0 for messages).
	MemoryID int64 `json:"memory_id,omitempty"`

	// Role is the speaker role for message fragments (empty for memories).
	Role string `json:"role,omitempty"`
}

// ContextBlock is the result of AssembleContext: an ordered list of
// fragments that fits the caller's token budget.
type ContextBlock struct {
	// Fragments is the ordered list of included fragments: ranked memories
	// first, then recent messages in conversation order.
	Fragments []Fragment `json:"fragments"`

	// TotalTokens is the summed token cost of all included fragments.
	TotalTokens int `json:"total_tokens"`

	// MemoriesOmitted is true when memory retrieval was skipped or cut
	// short (embedding failure or deadline), so the block was assembled
	// from recent messages alone.
	MemoriesOmitted bool `json:"memories_omitted,omitempty"`
}

// Stats summarizes one owner's stored memories.
type Stats struct {
	// TotalRecords is the owner's live record count, all states included.
	TotalRecords int64 `json:"total_records"`

	// PendingRecords is the number of records awaiting embedding backfill.
	PendingRecords int64 `json:"pending_records"`

	// ByType counts records per memory type.
	ByType map[MemoryType]int64 `json:"by_type"`

	// AverageImportance is the mean importance across all records
	// (0 when the owner has no records).
	AverageImportance float64 `json:"average_importance"`
}
