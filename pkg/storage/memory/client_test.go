package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

func newTestClient() *Client {
	return NewClient(&Config{EmbeddingModelDims: 3})
}

func activeRecord(id int64, owner string, emb []float64) *storage.Record {
	now := time.Now()
	return &storage.Record{
		ID:         id,
		OwnerID:    owner,
		Content:    "content",
		Embedding:  emb,
		State:      storage.StateActive,
		MemoryType: "semantic",
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestInsertValidatesDimension(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	err := c.Insert(ctx, activeRecord(1, "u1", []float64{1, 0}))
	assert.ErrorIs(t, err, storage.ErrInvalidDimension)

	err = c.Insert(ctx, activeRecord(2, "u1", []float64{1, 0, 0}))
	assert.NoError(t, err)
}

func TestInsertPendingSkipsDimensionCheck(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	rec := activeRecord(1, "u1", nil)
	rec.State = storage.StatePending

	require.NoError(t, c.Insert(ctx, rec))
}

func TestInsertRequiresOwner(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	err := c.Insert(ctx, activeRecord(1, "", []float64{1, 0, 0}))
	assert.ErrorIs(t, err, storage.ErrMissingOwner)
}

func TestQueryOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "alice", []float64{1, 0, 0})))
	require.NoError(t, c.Insert(ctx, activeRecord(2, "bob", []float64{1, 0, 0})))

	results, err := c.Query(ctx, "alice", []float64{1, 0, 0}, &storage.QueryOptions{K: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].OwnerID)
}

func TestQueryExcludesPending(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "u1", []float64{1, 0, 0})))
	pending := activeRecord(2, "u1", nil)
	pending.State = storage.StatePending
	require.NoError(t, c.Insert(ctx, pending))

	results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{K: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)

	// Pending records remain reachable by listing.
	listed, err := c.List(ctx, "u1", &storage.ListOptions{PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(2), listed[0].ID)
}

func TestQuerySimilarityOrderAndScore(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "u1", []float64{1, 0, 0})))
	require.NoError(t, c.Insert(ctx, activeRecord(2, "u1", []float64{0, 1, 0})))
	require.NoError(t, c.Insert(ctx, activeRecord(3, "u1", []float64{0.9, 0.1, 0})))

	results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(3), results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestQueryDeterministicTieBreaks(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	created := time.Now().Truncate(time.Second)

	mk := func(id int64, importance float64, createdAt time.Time) *storage.Record {
		rec := activeRecord(id, "u1", []float64{1, 0, 0})
		rec.Importance = importance
		rec.CreatedAt = createdAt
		return rec
	}

	// All identical similarity. Importance, then CreatedAt desc, then ID asc.
	require.NoError(t, c.Insert(ctx, mk(4, 0.5, created)))
	require.NoError(t, c.Insert(ctx, mk(2, 0.5, created)))
	require.NoError(t, c.Insert(ctx, mk(3, 0.5, created.Add(time.Minute))))
	require.NoError(t, c.Insert(ctx, mk(1, 0.9, created)))

	results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{K: 10})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, int64(1), results[0].ID) // highest importance
	assert.Equal(t, int64(3), results[1].ID) // most recent
	assert.Equal(t, int64(2), results[2].ID) // ID ascending
	assert.Equal(t, int64(4), results[3].ID)
}

func TestQueryMinScore(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "u1", []float64{1, 0, 0})))
	require.NoError(t, c.Insert(ctx, activeRecord(2, "u1", []float64{0, 1, 0})))

	results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{K: 10, MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestQueryZeroMinScoreKeepsAntiCorrelated(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "u1", []float64{-1, 0, 0})))

	// An unset MinScore applies no similarity cut. The owner's only record
	// comes back even though its similarity is negative.
	results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{K: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	assert.InDelta(t, -1.0, results[0].Score, 1e-9)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	a := activeRecord(1, "u1", []float64{1, 0, 0})
	a.MemoryType = "episodic"
	a.Tags = []string{"work", "project"}
	a.Importance = 0.9
	require.NoError(t, c.Insert(ctx, a))

	b := activeRecord(2, "u1", []float64{1, 0, 0})
	b.MemoryType = "semantic"
	b.Tags = []string{"work"}
	b.Importance = 0.2
	require.NoError(t, c.Insert(ctx, b))

	t.Run("memory type", func(t *testing.T) {
		results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{
			K:       10,
			Filters: &storage.Filters{MemoryTypes: []string{"episodic"}},
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(1), results[0].ID)
	})

	t.Run("tag subset", func(t *testing.T) {
		results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{
			K:       10,
			Filters: &storage.Filters{Tags: []string{"work", "project"}},
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(1), results[0].ID)
	})

	t.Run("min importance", func(t *testing.T) {
		results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{
			K:       10,
			Filters: &storage.Filters{MinImportance: 0.5},
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(1), results[0].ID)
	})
}

func TestGetOwnerChecks(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "alice", []float64{1, 0, 0})))

	_, err := c.Get(ctx, 1, "bob")
	assert.ErrorIs(t, err, storage.ErrOwnerMismatch)

	_, err = c.Get(ctx, 99, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec, err := c.Get(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
}

func TestUpdatePreservesBookkeeping(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	rec := activeRecord(1, "u1", []float64{1, 0, 0})
	require.NoError(t, c.Insert(ctx, rec))
	require.NoError(t, c.TouchBatch(ctx, "u1", map[int64]int64{1: 3}, time.Now()))

	modified := activeRecord(1, "u1", []float64{0, 1, 0})
	modified.Importance = 0.9
	modified.CreatedAt = time.Now().Add(time.Hour) // must be ignored
	require.NoError(t, c.Update(ctx, modified))

	got, err := c.Get(ctx, 1, "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Equal(t, int64(3), got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)
	assert.Equal(t, 0.9, got.Importance)
}

func TestTouchBatchSkipsMissingIDs(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "u1", []float64{1, 0, 0})))

	now := time.Now()
	err := c.TouchBatch(ctx, "u1", map[int64]int64{1: 2, 42: 1}, now)
	require.NoError(t, err)

	got, err := c.Get(ctx, 1, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, got.LastAccessedAt.Equal(now))
}

func TestTouchBatchIgnoresOtherOwners(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "alice", []float64{1, 0, 0})))

	require.NoError(t, c.TouchBatch(ctx, "bob", map[int64]int64{1: 5}, time.Now()))

	got, err := c.Get(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AccessCount)
}

func TestApplyDecayIdempotentWithinWindow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	now := time.Now()

	rec := activeRecord(1, "u1", []float64{1, 0, 0})
	rec.CreatedAt = now.Add(-30 * 24 * time.Hour)
	rec.Importance = 0.5
	require.NoError(t, c.Insert(ctx, rec))

	upd := &storage.DecayUpdate{
		Factor:       0.98,
		Floor:        0.01,
		AccessCutoff: now.Add(-7 * 24 * time.Hour),
		WindowStart:  now.Add(-time.Hour),
		RunAt:        now,
	}

	n, err := c.ApplyDecay(ctx, "u1", upd)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := c.Get(ctx, 1, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.49, got.Importance, 1e-9)

	// Re-running the same pass is a no-op: the watermark advanced.
	n, err = c.ApplyDecay(ctx, "u1", upd)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err = c.Get(ctx, 1, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.49, got.Importance, 1e-9)
}

func TestApplyDecaySkipsRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	now := time.Now()

	rec := activeRecord(1, "u1", []float64{1, 0, 0})
	rec.CreatedAt = now.Add(-30 * 24 * time.Hour)
	require.NoError(t, c.Insert(ctx, rec))
	require.NoError(t, c.TouchBatch(ctx, "u1", map[int64]int64{1: 1}, now.Add(-time.Hour)))

	n, err := c.ApplyDecay(ctx, "u1", &storage.DecayUpdate{
		Factor:       0.98,
		Floor:        0.01,
		AccessCutoff: now.Add(-7 * 24 * time.Hour),
		WindowStart:  now.Add(-time.Hour),
		RunAt:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestApplyDecayFloor(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	now := time.Now()

	rec := activeRecord(1, "u1", []float64{1, 0, 0})
	rec.CreatedAt = now.Add(-30 * 24 * time.Hour)
	rec.Importance = 0.011
	require.NoError(t, c.Insert(ctx, rec))

	_, err := c.ApplyDecay(ctx, "u1", &storage.DecayUpdate{
		Factor:       0.5,
		Floor:        0.01,
		AccessCutoff: now.Add(-7 * 24 * time.Hour),
		WindowStart:  now.Add(-time.Hour),
		RunAt:        now,
	})
	require.NoError(t, err)

	got, err := c.Get(ctx, 1, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.01, got.Importance)
}

func TestDeleteOwnerChecks(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "alice", []float64{1, 0, 0})))

	assert.ErrorIs(t, c.Delete(ctx, 1, "bob"), storage.ErrOwnerMismatch)
	assert.NoError(t, c.Delete(ctx, 1, "alice"))
	assert.ErrorIs(t, c.Delete(ctx, 1, "alice"), storage.ErrNotFound)
}

func TestDeleteWhere(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	a := activeRecord(1, "u1", []float64{1, 0, 0})
	a.ConversationRef = "conv-1"
	require.NoError(t, c.Insert(ctx, a))

	b := activeRecord(2, "u1", []float64{1, 0, 0})
	b.ConversationRef = "conv-2"
	require.NoError(t, c.Insert(ctx, b))

	other := activeRecord(3, "bob", []float64{1, 0, 0})
	other.ConversationRef = "conv-1"
	require.NoError(t, c.Insert(ctx, other))

	n, err := c.DeleteWhere(ctx, "u1", &storage.DeleteFilter{ConversationRef: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := c.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Other owners untouched.
	count, err = c.Count(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteWhereByIDs(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "u1", []float64{1, 0, 0})))
	require.NoError(t, c.Insert(ctx, activeRecord(2, "u1", []float64{1, 0, 0})))
	require.NoError(t, c.Insert(ctx, activeRecord(3, "u1", []float64{1, 0, 0})))

	n, err := c.DeleteWhere(ctx, "u1", &storage.DeleteFilter{IDs: []int64{1, 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := c.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestListPaginationAndOrder(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	base := time.Now().Truncate(time.Second)

	for i := int64(1); i <= 5; i++ {
		rec := activeRecord(i, "u1", []float64{1, 0, 0})
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, c.Insert(ctx, rec))
	}

	page, err := c.List(ctx, "u1", &storage.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	// Newest first: 5, then offset skips it.
	assert.Equal(t, int64(4), page[0].ID)
	assert.Equal(t, int64(3), page[1].ID)
}

func TestOwners(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "bob", []float64{1, 0, 0})))
	require.NoError(t, c.Insert(ctx, activeRecord(2, "alice", []float64{1, 0, 0})))

	owners, err := c.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, owners)
}

func TestQueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.Insert(ctx, activeRecord(1, "u1", []float64{1, 0, 0})))

	results, err := c.Query(ctx, "u1", []float64{1, 0, 0}, &storage.QueryOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results[0].Content = "mutated"
	results[0].Embedding[0] = 42

	got, err := c.Get(ctx, 1, "u1")
	require.NoError(t, err)
	assert.Equal(t, "content", got.Content)
	assert.Equal(t, 1.0, got.Embedding[0])
}
