package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/charmbracelet/log"

	"github.com/semcore-ai/semmem-go/pkg/embedder"
	openaiEmbedder "github.com/semcore-ai/semmem-go/pkg/embedder/openai"
	"github.com/semcore-ai/semmem-go/pkg/intelligence"
	"github.com/semcore-ai/semmem-go/pkg/storage"
	memoryStore "github.com/semcore-ai/semmem-go/pkg/storage/memory"
	mysqlStore "github.com/semcore-ai/semmem-go/pkg/storage/mysql"
	postgresStore "github.com/semcore-ai/semmem-go/pkg/storage/postgres"
	sqliteStore "github.com/semcore-ai/semmem-go/pkg/storage/sqlite"
)

// Engine is the semantic memory engine.
//
// It provides a complete interface for storing, retrieving, and ranking a
// user's long-term memories with support for:
//   - Vector similarity retrieval with metadata filtering
//   - Near-duplicate consolidation at ingest time
//   - Combined similarity/importance/recency ranking
//   - Asynchronous, coalesced access tracking
//   - Token-budgeted context assembly
//
// The engine is thread-safe and can be used concurrently from multiple
// goroutines. Within one owner, ingest calls serialize on a per-owner lock
// so two near-duplicates cannot both decide to insert; retrieval never
// takes that lock and may observe a slightly stale index.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	engine, _ := core.NewEngine(config)
//	defer engine.Close()
//
//	record, _ := engine.Ingest(ctx, "user_001", "User prefers Python over JavaScript",
//	    core.WithImportance(0.8),
//	)
type Engine struct {
	// config contains the engine configuration.
	config *Config

	// store is the vector store for memory persistence.
	store storage.VectorStore

	// embedder is the embedding provider for vector generation.
	embedder embedder.Provider

	// consolidator decides insert-vs-merge for near-duplicate memories.
	consolidator *intelligence.Consolidator

	// ranking combines similarity, importance, and recency into one order.
	ranking *intelligence.RankingPolicy

	// evaluator scores importance when the caller supplies no hint.
	evaluator *intelligence.ImportanceEvaluator

	// node generates unique IDs for memories.
	node *snowflake.Node

	// locks serializes consolidation and deletion per owner.
	locks *ownerLocks

	// touch applies access bookkeeping asynchronously.
	touch *touchQueue

	// clock is the injectable time source.
	clock Clock

	// counter is the token counting function for context assembly.
	counter TokenCounter

	// logger is the engine logger.
	logger *log.Logger

	// closed flips once Close has run.
	closed atomic.Bool
}

// NewEngine creates a new memory engine.
//
// The engine is initialized with:
//   - Vector store (SQLite, PostgreSQL, MySQL, or in-memory)
//   - Embedding provider (OpenAI), wrapped with bounded retry and an
//     optional embedding cache
//   - Consolidation, ranking, and importance policies from the config
//
// Dependencies can be injected with WithStore / WithEmbedderProvider /
// WithClock / WithLogger / WithTokenCounter; injected providers are used
// as-is, without the retry and cache wrappers.
//
// Parameters:
//   - cfg: Configuration containing storage, embedding, and engine settings
//   - opts: Optional dependency overrides
//
// Returns a new Engine instance, or an error if initialization fails.
func NewEngine(cfg *Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Engine.applyDefaults()

	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "semmem"})
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.counter == nil {
		o.counter = DefaultTokenCounter
	}

	store := o.store
	if store == nil {
		var err error
		store, err = initStorage(cfg.VectorStore)
		if err != nil {
			return nil, err
		}
	}

	provider := o.embedder
	if provider == nil {
		var err error
		provider, err = initEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewEngineError("NewEngine", err)
	}

	engine := &Engine{
		config:       cfg,
		store:        store,
		embedder:     provider,
		consolidator: intelligence.NewConsolidator(cfg.Engine.DedupThreshold),
		ranking: &intelligence.RankingPolicy{
			WSimilarity: cfg.Engine.SimilarityWeight,
			WImportance: cfg.Engine.ImportanceWeight,
			WRecency:    cfg.Engine.RecencyWeight,
			HalfLife:    cfg.Engine.HalfLife,
		},
		evaluator: intelligence.NewImportanceEvaluator(),
		node:      node,
		locks:     newOwnerLocks(),
		clock:     o.clock,
		counter:   o.counter,
		logger:    o.logger,
	}
	engine.touch = newTouchQueue(store, o.clock, o.logger, cfg.Engine.TouchFlushInterval)

	return engine, nil
}

// Ingest stores one memory for an owner.
//
// The method:
//  1. Validates the input (rejected before embedding is attempted)
//  2. Generates an embedding; on gateway failure after retries the record
//     is stored in pending state instead of failing the call
//  3. Checks the owner's nearest existing neighbor under the per-owner
//     lock; at or above the dedup threshold the new content is merged into
//     the existing record's variants instead of creating a new one
//
// When no importance hint is supplied, the rule-based evaluator scores
// the content.
//
// Returns the created or merged record, or an error for invalid input.
//
// Example:
//
//	record, err := engine.Ingest(ctx, "user_001", "User prefers Python over JavaScript",
//	    core.WithMemoryType(core.TypeSemantic),
//	    core.WithImportance(0.8),
//	    core.WithTags("language", "preference"),
//	)
func (e *Engine) Ingest(ctx context.Context, ownerID, content string, opts ...IngestOption) (*MemoryRecord, error) {
	if e.closed.Load() {
		return nil, NewEngineError("Ingest", ErrEngineClosed)
	}

	o := applyIngestOptions(opts)

	if ownerID == "" || content == "" {
		return nil, NewEngineError("Ingest", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > e.config.Engine.MaxContentLength {
		return nil, NewEngineError("Ingest", ErrContentTooLong)
	}
	if !ValidMemoryType(o.memoryType) {
		return nil, NewEngineError("Ingest", ErrInvalidMemoryType)
	}
	if o.importanceSet && (o.importance < 0 || o.importance > 1) {
		return nil, NewEngineError("Ingest", ErrImportanceOutOfRange)
	}

	importance := o.importance
	if !o.importanceSet {
		importance = e.evaluator.Evaluate(content, o.metadata)
	}

	emb, err := e.embedder.Embed(ctx, content)
	pending := false
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewEngineError("Ingest", ctx.Err())
		}
		// Transient gateway failure: store the memory without an embedding
		// rather than losing it. The scheduler backfills pending records.
		e.logger.Warn("embedding failed, storing pending", "owner", ownerID, "err", err)
		emb = nil
		pending = true
	}

	lock := e.locks.get(ownerID)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock.Now()

	if !pending {
		nearest, err := e.nearestNeighbor(ctx, ownerID, emb)
		if err != nil {
			return nil, NewEngineError("Ingest", err)
		}

		decision := e.consolidator.Decide(nearest)
		if decision.Kind == intelligence.DecideMerge {
			merged := e.consolidator.Merge(nearest, content, importance, now)
			if err := e.store.Update(ctx, merged); err != nil {
				return nil, NewEngineError("Ingest", err)
			}
			e.logger.Debug("memory merged", "owner", ownerID, "id", merged.ID, "similarity", decision.Similarity)
			return fromStorageRecord(merged), nil
		}
	}

	rec := &storage.Record{
		ID:              e.node.Generate().Int64(),
		OwnerID:         ownerID,
		ConversationRef: o.conversationRef,
		Content:         content,
		Embedding:       emb,
		State:           storage.StateActive,
		MemoryType:      string(o.memoryType),
		Importance:      importance,
		Tags:            o.tags,
		Metadata:        o.metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if pending {
		rec.State = storage.StatePending
	}

	if err := e.store.Insert(ctx, rec); err != nil {
		return nil, NewEngineError("Ingest", err)
	}

	return fromStorageRecord(rec), nil
}

// nearestNeighbor returns the owner's most similar active record, or nil
// when the owner has none.
func (e *Engine) nearestNeighbor(ctx context.Context, ownerID string, emb []float64) (*storage.Record, error) {
	recs, err := e.store.Query(ctx, ownerID, emb, &storage.QueryOptions{K: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Retrieve returns an owner's memories ranked by combined similarity,
// importance, and recency.
//
// With a query text, candidates come from similarity search; without one,
// the owner's records are listed by recency instead. Results respect the
// optional filters (memory types, tags, minimum importance, conversation,
// time range) and are limited to k records (the configured candidate
// count when unset). Returned records carry the combined score in Score.
//
// Every returned record is access-tracked asynchronously.
//
// Example:
//
//	results, err := engine.Retrieve(ctx, "user_001", "What language does the user like?",
//	    core.WithK(5),
//	    core.WithMemoryTypes(core.TypeSemantic),
//	)
func (e *Engine) Retrieve(ctx context.Context, ownerID, queryText string, opts ...RetrieveOption) ([]*MemoryRecord, error) {
	if e.closed.Load() {
		return nil, NewEngineError("Retrieve", ErrEngineClosed)
	}
	if ownerID == "" {
		return nil, NewEngineError("Retrieve", ErrInvalidInput)
	}

	o := applyRetrieveOptions(opts)
	k := o.k
	if k <= 0 {
		k = e.config.Engine.CandidateCount
	}

	if queryText == "" {
		recs, err := e.store.List(ctx, ownerID, &storage.ListOptions{
			Filters:        o.storageFilters(),
			IncludePending: o.includePending,
			Limit:          k,
		})
		if err != nil {
			return nil, NewEngineError("Retrieve", err)
		}
		out := fromStorageRecords(recs)
		e.trackAccess(ownerID, out)
		return out, nil
	}

	queryEmb, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, NewEngineError("Retrieve", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}

	// Over-fetch so combined ranking can reorder beyond the raw
	// similarity cut.
	candidateK := k
	if e.config.Engine.CandidateCount > candidateK {
		candidateK = e.config.Engine.CandidateCount
	}

	recs, err := e.store.Query(ctx, ownerID, queryEmb, &storage.QueryOptions{
		K:        candidateK,
		MinScore: o.minScore,
		Filters:  o.storageFilters(),
	})
	if err != nil {
		return nil, NewEngineError("Retrieve", err)
	}

	out := e.rankRecords(recs, k)
	e.trackAccess(ownerID, out)
	return out, nil
}

// rankRecords applies the ranking policy to similarity-search results and
// returns at most k converted records with combined scores.
func (e *Engine) rankRecords(recs []*storage.Record, k int) []*MemoryRecord {
	byID := make(map[int64]*storage.Record, len(recs))
	candidates := make([]*intelligence.Candidate, 0, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
		candidates = append(candidates, &intelligence.Candidate{
			ID:             rec.ID,
			Similarity:     rec.Score,
			Importance:     rec.Importance,
			LastAccessedAt: rec.LastAccessedAt,
			CreatedAt:      rec.CreatedAt,
		})
	}

	e.ranking.Rank(candidates, e.clock.Now())

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]*MemoryRecord, 0, k)
	for _, c := range candidates[:k] {
		m := fromStorageRecord(byID[c.ID])
		m.Score = c.Score
		out = append(out, m)
	}
	return out
}

// trackAccess enqueues asynchronous access bookkeeping for the records.
func (e *Engine) trackAccess(ownerID string, recs []*MemoryRecord) {
	if len(recs) == 0 {
		return
	}
	ids := make([]int64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	e.touch.Enqueue(ownerID, ids...)
}

// Get retrieves one record by ID, scoped to the owner.
func (e *Engine) Get(ctx context.Context, ownerID string, id int64) (*MemoryRecord, error) {
	if e.closed.Load() {
		return nil, NewEngineError("Get", ErrEngineClosed)
	}

	rec, err := e.store.Get(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewEngineError("Get", ErrNotFound)
		}
		return nil, NewEngineError("Get", err)
	}
	return fromStorageRecord(rec), nil
}

// Delete removes one record by ID, scoped to the owner.
//
// Returns true when a record was deleted, false when it did not exist
// (benign, logged at debug). Cross-owner attempts fail.
func (e *Engine) Delete(ctx context.Context, ownerID string, id int64) (bool, error) {
	if e.closed.Load() {
		return false, NewEngineError("Delete", ErrEngineClosed)
	}
	if ownerID == "" {
		return false, NewEngineError("Delete", ErrInvalidInput)
	}

	lock := e.locks.get(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.Delete(ctx, id, ownerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Debug("delete of missing record", "owner", ownerID, "id", id)
			return false, nil
		}
		return false, NewEngineError("Delete", err)
	}
	return true, nil
}

// DeleteWhere removes all owner records matching the filter and reports
// how many were removed. Used by the excluded API layer for explicit
// cascades (e.g. deleting a conversation's memories).
func (e *Engine) DeleteWhere(ctx context.Context, ownerID string, filter *storage.DeleteFilter) (int64, error) {
	if e.closed.Load() {
		return 0, NewEngineError("DeleteWhere", ErrEngineClosed)
	}
	if ownerID == "" {
		return 0, NewEngineError("DeleteWhere", ErrInvalidInput)
	}

	lock := e.locks.get(ownerID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.DeleteWhere(ctx, ownerID, filter)
	if err != nil {
		return 0, NewEngineError("DeleteWhere", err)
	}
	return n, nil
}

// Stats summarizes an owner's stored memories: totals, pending count,
// per-type counts, and average importance.
func (e *Engine) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	if e.closed.Load() {
		return nil, NewEngineError("Stats", ErrEngineClosed)
	}
	if ownerID == "" {
		return nil, NewEngineError("Stats", ErrInvalidInput)
	}

	recs, err := e.store.List(ctx, ownerID, &storage.ListOptions{IncludePending: true})
	if err != nil {
		return nil, NewEngineError("Stats", err)
	}

	stats := &Stats{
		ByType: make(map[MemoryType]int64),
	}
	var importanceSum float64
	for _, rec := range recs {
		stats.TotalRecords++
		if rec.State == storage.StatePending {
			stats.PendingRecords++
		}
		stats.ByType[MemoryType(rec.MemoryType)]++
		importanceSum += rec.Importance
	}
	if stats.TotalRecords > 0 {
		stats.AverageImportance = importanceSum / float64(stats.TotalRecords)
	}
	return stats, nil
}

// Close closes the engine and releases all resources.
//
// This method:
//   - Flushes and stops the async touch queue
//   - Closes the vector store connection
//   - Closes the embedder provider
//
// Returns the first error encountered during cleanup, or nil if all
// resources were closed successfully.
//
// Example:
//
//	defer engine.Close()
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.touch.Close()

	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// initStorage initializes the storage backend.
func initStorage(cfg VectorStoreConfig) (storage.VectorStore, error) {
	switch cfg.Provider {
	case "sqlite":
		dbPath, err := configString(cfg.Config, "db_path")
		if err != nil {
			return nil, err
		}
		tableName, err := configString(cfg.Config, "table_name")
		if err != nil {
			return nil, err
		}
		dims, err := configInt(cfg.Config, "embedding_model_dims")
		if err != nil {
			return nil, err
		}
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             dbPath,
			TableName:          tableName,
			EmbeddingModelDims: dims,
		})
	case "postgres":
		host, err := configString(cfg.Config, "host")
		if err != nil {
			return nil, err
		}
		port, err := configInt(cfg.Config, "port")
		if err != nil {
			return nil, err
		}
		user, err := configString(cfg.Config, "user")
		if err != nil {
			return nil, err
		}
		password, err := configString(cfg.Config, "password")
		if err != nil {
			return nil, err
		}
		dbName, err := configString(cfg.Config, "db_name")
		if err != nil {
			return nil, err
		}
		tableName, err := configString(cfg.Config, "table_name")
		if err != nil {
			return nil, err
		}
		dims, err := configInt(cfg.Config, "embedding_model_dims")
		if err != nil {
			return nil, err
		}
		sslMode := "disable"
		if s, ok := cfg.Config["ssl_mode"].(string); ok {
			sslMode = s
		}
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               host,
			Port:               port,
			User:               user,
			Password:           password,
			DBName:             dbName,
			TableName:          tableName,
			EmbeddingModelDims: dims,
			SSLMode:            sslMode,
		})
	case "mysql":
		host, err := configString(cfg.Config, "host")
		if err != nil {
			return nil, err
		}
		port, err := configInt(cfg.Config, "port")
		if err != nil {
			return nil, err
		}
		user, err := configString(cfg.Config, "user")
		if err != nil {
			return nil, err
		}
		password, err := configString(cfg.Config, "password")
		if err != nil {
			return nil, err
		}
		dbName, err := configString(cfg.Config, "db_name")
		if err != nil {
			return nil, err
		}
		tableName, err := configString(cfg.Config, "table_name")
		if err != nil {
			return nil, err
		}
		dims, err := configInt(cfg.Config, "embedding_model_dims")
		if err != nil {
			return nil, err
		}
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:               host,
			Port:               port,
			User:               user,
			Password:           password,
			DBName:             dbName,
			TableName:          tableName,
			EmbeddingModelDims: dims,
		})
	case "memory":
		dims, err := configInt(cfg.Config, "embedding_model_dims")
		if err != nil {
			return nil, err
		}
		return memoryStore.NewClient(&memoryStore.Config{
			EmbeddingModelDims: dims,
		}), nil
	default:
		return nil, NewEngineError("initStorage", ErrInvalidConfig)
	}
}

// configString reads a required string key from a provider config map.
func configString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", NewEngineError("initStorage", fmt.Errorf("%w: missing %s", ErrInvalidConfig, key))
	}
	s, ok := v.(string)
	if !ok {
		return "", NewEngineError("initStorage", fmt.Errorf("%w: %s must be a string", ErrInvalidConfig, key))
	}
	return s, nil
}

// configInt reads a required integer key from a provider config map.
// JSON-decoded configs carry numbers as float64, so both forms are
// accepted.
func configInt(m map[string]interface{}, key string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, NewEngineError("initStorage", fmt.Errorf("%w: missing %s", ErrInvalidConfig, key))
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, NewEngineError("initStorage", fmt.Errorf("%w: %s must be an integer", ErrInvalidConfig, key))
		}
		return int(i), nil
	default:
		return 0, NewEngineError("initStorage", fmt.Errorf("%w: %s must be an integer", ErrInvalidConfig, key))
	}
}

// initEmbedder initializes the embedder provider, wrapping it with the
// optional embedding cache and bounded retry.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	var provider embedder.Provider
	switch cfg.Provider {
	case "openai":
		client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, NewEngineError("initEmbedder", err)
		}
		provider = client
	default:
		return nil, NewEngineError("initEmbedder", ErrInvalidConfig)
	}

	if cfg.CacheSize > 0 {
		cached, err := embedder.WithCache(provider, &embedder.CacheConfig{MaxEntries: cfg.CacheSize})
		if err != nil {
			return nil, NewEngineError("initEmbedder", err)
		}
		provider = cached
	}

	return embedder.WithRetry(provider, &embedder.RetryConfig{MaxAttempts: cfg.MaxRetries}), nil
}
