package core

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/semcore-ai/semmem-go/pkg/embedder"
	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// Option configures an Engine at construction time.
type Option func(*engineOptions)

// engineOptions holds injectable engine dependencies.
type engineOptions struct {
	store    storage.VectorStore
	embedder embedder.Provider
	logger   *log.Logger
	clock    Clock
	counter  TokenCounter
}

// WithStore injects a pre-constructed vector store, bypassing the
// VectorStore section of the config. Used by embedded callers and tests.
func WithStore(store storage.VectorStore) Option {
	return func(o *engineOptions) {
		o.store = store
	}
}

// WithEmbedderProvider injects a pre-constructed embedding provider,
// bypassing the Embedder section of the config.
func WithEmbedderProvider(p embedder.Provider) Option {
	return func(o *engineOptions) {
		o.embedder = p
	}
}

// WithLogger sets the engine logger. The default logs to stderr with a
// "semmem" prefix.
func WithLogger(logger *log.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock injects the engine's time source. Used by tests to control
// decay and recency deterministically.
func WithClock(clock Clock) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithTokenCounter sets the token counting function used by
// AssembleContext. The default is a chars/4 heuristic.
func WithTokenCounter(counter TokenCounter) Option {
	return func(o *engineOptions) {
		o.counter = counter
	}
}

// IngestOption configures a single Ingest call.
type IngestOption func(*ingestOptions)

// ingestOptions holds parameters for Ingest.
type ingestOptions struct {
	conversationRef string
	memoryType      MemoryType
	importance      float64
	importanceSet   bool
	tags            []string
	metadata        map[string]interface{}
}

// applyIngestOptions applies the options to a default ingestOptions.
func applyIngestOptions(opts []IngestOption) *ingestOptions {
	o := &ingestOptions{
		memoryType: TypeSemantic,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithConversationRef records the originating conversation of a memory.
func WithConversationRef(ref string) IngestOption {
	return func(o *ingestOptions) {
		o.conversationRef = ref
	}
}

// WithMemoryType sets the memory type. The default is TypeSemantic.
func WithMemoryType(t MemoryType) IngestOption {
	return func(o *ingestOptions) {
		o.memoryType = t
	}
}

// WithImportance supplies an importance hint in [0, 1]. Without it the
// engine scores content with its rule-based evaluator.
func WithImportance(importance float64) IngestOption {
	return func(o *ingestOptions) {
		o.importance = importance
		o.importanceSet = true
	}
}

// WithTags attaches tags to the memory.
func WithTags(tags ...string) IngestOption {
	return func(o *ingestOptions) {
		o.tags = tags
	}
}

// WithMetadata attaches opaque metadata to the memory.
func WithMetadata(metadata map[string]interface{}) IngestOption {
	return func(o *ingestOptions) {
		o.metadata = metadata
	}
}

// RetrieveOption configures a single Retrieve call.
type RetrieveOption func(*retrieveOptions)

// retrieveOptions holds parameters for Retrieve.
type retrieveOptions struct {
	k               int
	minScore        float64
	memoryTypes     []MemoryType
	tags            []string
	minImportance   float64
	conversationRef string
	createdAfter    time.Time
	createdBefore   time.Time
	includePending  bool
}

// applyRetrieveOptions applies the options to a default retrieveOptions.
func applyRetrieveOptions(opts []RetrieveOption) *retrieveOptions {
	o := &retrieveOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// storageFilters converts the retrieve filters to their storage form.
// Returns nil when no filter is set.
func (o *retrieveOptions) storageFilters() *storage.Filters {
	if len(o.memoryTypes) == 0 && len(o.tags) == 0 && o.minImportance == 0 &&
		o.conversationRef == "" && o.createdAfter.IsZero() && o.createdBefore.IsZero() {
		return nil
	}

	types := make([]string, len(o.memoryTypes))
	for i, t := range o.memoryTypes {
		types[i] = string(t)
	}

	return &storage.Filters{
		MemoryTypes:     types,
		Tags:            o.tags,
		MinImportance:   o.minImportance,
		ConversationRef: o.conversationRef,
		CreatedAfter:    o.createdAfter,
		CreatedBefore:   o.createdBefore,
	}
}

// WithK limits the number of results. The default is the configured
// candidate count.
func WithK(k int) RetrieveOption {
	return func(o *retrieveOptions) {
		o.k = k
	}
}

// WithPendingIncluded includes records stored without an embedding in
// metadata listings. Only meaningful when Retrieve is called without a
// query text; similarity search always skips pending records.
func WithPendingIncluded() RetrieveOption {
	return func(o *retrieveOptions) {
		o.includePending = true
	}
}

// WithMinScore drops results whose raw cosine similarity is below the
// threshold.
func WithMinScore(minScore float64) RetrieveOption {
	return func(o *retrieveOptions) {
		o.minScore = minScore
	}
}

// WithMemoryTypes restricts results to the given memory types.
func WithMemoryTypes(types ...MemoryType) RetrieveOption {
	return func(o *retrieveOptions) {
		o.memoryTypes = types
	}
}

// WithTagFilter restricts results to records carrying every listed tag.
func WithTagFilter(tags ...string) RetrieveOption {
	return func(o *retrieveOptions) {
		o.tags = tags
	}
}

// WithMinImportance restricts results to records at or above the
// importance threshold.
func WithMinImportance(min float64) RetrieveOption {
	return func(o *retrieveOptions) {
		o.minImportance = min
	}
}

// WithConversationFilter restricts results to one conversation.
func WithConversationFilter(ref string) RetrieveOption {
	return func(o *retrieveOptions) {
		o.conversationRef = ref
	}
}

// WithCreatedBetween restricts results by creation time. A zero bound is
// open-ended.
func WithCreatedBetween(after, before time.Time) RetrieveOption {
	return func(o *retrieveOptions) {
		o.createdAfter = after
		o.createdBefore = before
	}
}

// AssembleOption configures a single AssembleContext call.
type AssembleOption func(*assembleOptions)

// assembleOptions holds parameters for AssembleContext.
type assembleOptions struct {
	candidateCount int
	memoryTypes    []MemoryType
}

// applyAssembleOptions applies the options to a default assembleOptions.
func applyAssembleOptions(opts []AssembleOption) *assembleOptions {
	o := &assembleOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithCandidateCount overrides how many memory candidates assembly
// considers before packing.
func WithCandidateCount(n int) AssembleOption {
	return func(o *assembleOptions) {
		o.candidateCount = n
	}
}

// WithAssembleMemoryTypes restricts assembly candidates to the given
// memory types.
func WithAssembleMemoryTypes(types ...MemoryType) AssembleOption {
	return func(o *assembleOptions) {
		o.memoryTypes = types
	}
}
