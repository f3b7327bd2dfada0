package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semcore-ai/semmem-go/pkg/intelligence"
	"github.com/semcore-ai/semmem-go/pkg/storage"
)

func TestIngestValidation(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.Engine.MaxContentLength = 20
	})
	ctx := context.Background()

	t.Run("empty owner", func(t *testing.T) {
		_, err := te.engine.Ingest(ctx, "", "content")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := te.engine.Ingest(ctx, "user_001", "")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("content too long", func(t *testing.T) {
		_, err := te.engine.Ingest(ctx, "user_001", "this content is longer than twenty runes")
		assert.ErrorIs(t, err, ErrContentTooLong)
	})

	t.Run("unknown memory type", func(t *testing.T) {
		_, err := te.engine.Ingest(ctx, "user_001", "short content", WithMemoryType("divinatory"))
		assert.ErrorIs(t, err, ErrInvalidMemoryType)
	})

	t.Run("importance out of range", func(t *testing.T) {
		_, err := te.engine.Ingest(ctx, "user_001", "short content", WithImportance(1.5))
		assert.ErrorIs(t, err, ErrImportanceOutOfRange)

		_, err = te.engine.Ingest(ctx, "user_001", "short content", WithImportance(-0.1))
		assert.ErrorIs(t, err, ErrImportanceOutOfRange)
	})

	t.Run("validation rejected before embedding", func(t *testing.T) {
		calls := te.embedder.callCount()
		_, err := te.engine.Ingest(ctx, "", "content")
		require.Error(t, err)
		assert.Equal(t, calls, te.embedder.callCount())
	})
}

func TestIngestStoresRecord(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("User prefers Python over JavaScript", []float64{1, 0, 0})

	rec, err := te.engine.Ingest(ctx, "user_001", "User prefers Python over JavaScript",
		WithMemoryType(TypeSemantic),
		WithImportance(0.8),
		WithTags("language", "preference"),
		WithConversationRef("conv-42"),
	)
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, "user_001", rec.OwnerID)
	assert.Equal(t, TypeSemantic, rec.MemoryType)
	assert.Equal(t, 0.8, rec.Importance)
	assert.Equal(t, []string{"language", "preference"}, rec.Tags)
	assert.Equal(t, "conv-42", rec.ConversationRef)
	assert.False(t, rec.Pending)
	assert.Equal(t, te.clock.Now(), rec.CreatedAt)

	got, err := te.engine.Get(ctx, "user_001", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
}

func TestIngestEvaluatesImportanceWithoutHint(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("had a sandwich", []float64{1, 0, 0})
	te.embedder.set("remember this password", []float64{0, 1, 0})

	plain, err := te.engine.Ingest(ctx, "user_001", "had a sandwich")
	require.NoError(t, err)
	assert.Equal(t, 0.5, plain.Importance)

	flagged, err := te.engine.Ingest(ctx, "user_001", "remember this password")
	require.NoError(t, err)
	assert.Greater(t, flagged.Importance, plain.Importance)
	assert.LessOrEqual(t, flagged.Importance, 1.0)
}

func TestIngestDefaultsToSemanticType(t *testing.T) {
	te := newTestEngine(t)

	rec, err := te.engine.Ingest(context.Background(), "user_001", "some fact")
	require.NoError(t, err)
	assert.Equal(t, TypeSemantic, rec.MemoryType)
}

func TestIngestPendingOnEmbeddingFailure(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.setFail(true)

	rec, err := te.engine.Ingest(ctx, "user_001", "stored despite gateway outage")
	require.NoError(t, err)
	assert.True(t, rec.Pending)
	assert.Nil(t, rec.Embedding)

	// Pending records are invisible to similarity search.
	te.embedder.setFail(false)
	te.embedder.set("query", []float64{1, 0, 0})
	results, err := te.engine.Retrieve(ctx, "user_001", "query")
	require.NoError(t, err)
	assert.Empty(t, results)

	stats, err := te.engine.Stats(ctx, "user_001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, int64(1), stats.PendingRecords)
}

func TestRetrieveIncludesPendingByMetadata(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.setFail(true)

	rec, err := te.engine.Ingest(ctx, "user_001", "noted during the outage")
	require.NoError(t, err)
	require.True(t, rec.Pending)

	// The default recency listing hides pending records.
	results, err := te.engine.Retrieve(ctx, "user_001", "")
	require.NoError(t, err)
	assert.Empty(t, results)

	// The owner can still list the memory back before backfill runs.
	results, err = te.engine.Retrieve(ctx, "user_001", "", WithPendingIncluded())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].ID)
	assert.True(t, results[0].Pending)
}

func TestIngestConsolidatesNearDuplicates(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("User prefers Python over JavaScript", []float64{1, 0, 0})
	te.embedder.set("User really likes Python more than JS", []float64{0.97, 0.24, 0})
	te.embedder.set("User ate lunch at noon", []float64{0, 1, 0})

	first, err := te.engine.Ingest(ctx, "user_001", "User prefers Python over JavaScript",
		WithImportance(0.8),
	)
	require.NoError(t, err)

	merged, err := te.engine.Ingest(ctx, "user_001", "User really likes Python more than JS")
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, "User prefers Python over JavaScript", merged.Content)
	assert.GreaterOrEqual(t, merged.Importance, 0.8)

	variants, ok := merged.Metadata[intelligence.VariantsKey]
	require.True(t, ok)
	require.Len(t, variants, 1)
	assert.Equal(t, "User really likes Python more than JS", variants.([]interface{})[0])

	// A dissimilar memory still gets its own record.
	other, err := te.engine.Ingest(ctx, "user_001", "User ate lunch at noon")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	stats, err := te.engine.Stats(ctx, "user_001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
}

func TestRetrieveRanksRelevantFirst(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("User prefers Python over JavaScript", []float64{1, 0, 0})
	te.embedder.set("User ate lunch at noon", []float64{0, 1, 0})
	te.embedder.set("What language does the user like?", []float64{0.99, 0.14, 0})

	_, err := te.engine.Ingest(ctx, "user_001", "User prefers Python over JavaScript",
		WithImportance(0.8),
	)
	require.NoError(t, err)
	_, err = te.engine.Ingest(ctx, "user_001", "User ate lunch at noon",
		WithImportance(0.3),
	)
	require.NoError(t, err)

	results, err := te.engine.Retrieve(ctx, "user_001", "What language does the user like?",
		WithK(5),
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "User prefers Python over JavaScript", results[0].Content)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.GreaterOrEqual(t, results[0].Score, 0.0)
	assert.LessOrEqual(t, results[0].Score, 1.0)
}

func TestRetrieveRespectsK(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("alpha fact", []float64{1, 0, 0})
	te.embedder.set("beta fact", []float64{0, 1, 0})
	te.embedder.set("gamma fact", []float64{0, 0, 1})
	for _, content := range []string{"alpha fact", "beta fact", "gamma fact"} {
		_, err := te.engine.Ingest(ctx, "user_001", content)
		require.NoError(t, err)
	}

	te.embedder.set("query", []float64{1, 0, 0})
	results, err := te.engine.Retrieve(ctx, "user_001", "query", WithK(2), WithMinScore(-1))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
}

func TestRetrieveWithoutQueryListsByRecency(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("older fact", []float64{1, 0, 0})
	te.embedder.set("newer fact", []float64{0, 1, 0})

	_, err := te.engine.Ingest(ctx, "user_001", "older fact")
	require.NoError(t, err)
	te.clock.Advance(time.Minute)
	_, err = te.engine.Ingest(ctx, "user_001", "newer fact")
	require.NoError(t, err)

	results, err := te.engine.Retrieve(ctx, "user_001", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer fact", results[0].Content)
	assert.Equal(t, "older fact", results[1].Content)
}

func TestRetrieveFilters(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("likes hiking", []float64{1, 0, 0})
	te.embedder.set("went hiking yesterday", []float64{0, 1, 0})
	te.embedder.set("outdoors", []float64{0.7, 0.7, 0})

	_, err := te.engine.Ingest(ctx, "user_001", "likes hiking",
		WithMemoryType(TypeSemantic), WithTags("hobby"),
	)
	require.NoError(t, err)
	_, err = te.engine.Ingest(ctx, "user_001", "went hiking yesterday",
		WithMemoryType(TypeEpisodic),
	)
	require.NoError(t, err)

	results, err := te.engine.Retrieve(ctx, "user_001", "outdoors",
		WithMemoryTypes(TypeEpisodic),
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TypeEpisodic, results[0].MemoryType)

	results, err = te.engine.Retrieve(ctx, "user_001", "outdoors",
		WithTagFilter("hobby"),
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "likes hiking", results[0].Content)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.engine.Ingest(ctx, "user_001", "some fact")
	require.NoError(t, err)

	te.embedder.setFail(true)
	_, err = te.engine.Retrieve(ctx, "user_001", "query")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestOwnershipIsolation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("alice secret", []float64{1, 0, 0})
	rec, err := te.engine.Ingest(ctx, "alice", "alice secret")
	require.NoError(t, err)

	te.embedder.set("secret", []float64{1, 0, 0})
	results, err := te.engine.Retrieve(ctx, "bob", "secret")
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = te.engine.Get(ctx, "bob", rec.ID)
	assert.ErrorIs(t, err, storage.ErrOwnerMismatch)

	deleted, err := te.engine.Delete(ctx, "bob", rec.ID)
	require.Error(t, err)
	assert.False(t, deleted)

	// Alice's record survived Bob's attempt.
	_, err = te.engine.Get(ctx, "alice", rec.ID)
	assert.NoError(t, err)
}

func TestGetNotFound(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.engine.Get(context.Background(), "user_001", 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteReportsExistence(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	rec, err := te.engine.Ingest(ctx, "user_001", "ephemeral fact")
	require.NoError(t, err)

	deleted, err := te.engine.Delete(ctx, "user_001", rec.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	// Deleting a missing record is benign.
	deleted, err = te.engine.Delete(ctx, "user_001", rec.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteWhereByConversation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("first fact", []float64{1, 0, 0})
	te.embedder.set("second fact", []float64{0, 1, 0})
	te.embedder.set("third fact", []float64{0, 0, 1})

	_, err := te.engine.Ingest(ctx, "user_001", "first fact", WithConversationRef("conv-1"))
	require.NoError(t, err)
	_, err = te.engine.Ingest(ctx, "user_001", "second fact", WithConversationRef("conv-1"))
	require.NoError(t, err)
	_, err = te.engine.Ingest(ctx, "user_001", "third fact", WithConversationRef("conv-2"))
	require.NoError(t, err)

	n, err := te.engine.DeleteWhere(ctx, "user_001", &storage.DeleteFilter{ConversationRef: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := te.engine.Stats(ctx, "user_001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
}

func TestStats(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("a fact", []float64{1, 0, 0})
	te.embedder.set("an event", []float64{0, 1, 0})

	_, err := te.engine.Ingest(ctx, "user_001", "a fact",
		WithMemoryType(TypeSemantic), WithImportance(0.8),
	)
	require.NoError(t, err)
	_, err = te.engine.Ingest(ctx, "user_001", "an event",
		WithMemoryType(TypeEpisodic), WithImportance(0.4),
	)
	require.NoError(t, err)

	stats, err := te.engine.Stats(ctx, "user_001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
	assert.Equal(t, int64(0), stats.PendingRecords)
	assert.Equal(t, int64(1), stats.ByType[TypeSemantic])
	assert.Equal(t, int64(1), stats.ByType[TypeEpisodic])
	assert.InDelta(t, 0.6, stats.AverageImportance, 1e-9)
}

func TestStatsEmptyOwner(t *testing.T) {
	te := newTestEngine(t)

	stats, err := te.engine.Stats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalRecords)
	assert.Equal(t, 0.0, stats.AverageImportance)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, te.engine.Close())
	// Close is idempotent.
	require.NoError(t, te.engine.Close())

	_, err := te.engine.Ingest(ctx, "user_001", "content")
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = te.engine.Retrieve(ctx, "user_001", "query")
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = te.engine.Get(ctx, "user_001", 1)
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = te.engine.Delete(ctx, "user_001", 1)
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = te.engine.Stats(ctx, "user_001")
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	_, err := NewEngine(&Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
