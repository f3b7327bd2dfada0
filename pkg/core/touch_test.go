package core

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semcore-ai/semmem-go/pkg/storage"
	memoryStore "github.com/semcore-ai/semmem-go/pkg/storage/memory"
)

// countingStore wraps the in-memory client to observe TouchBatch calls.
type countingStore struct {
	*memoryStore.Client
	batches atomic.Int64
}

func (s *countingStore) TouchBatch(ctx context.Context, ownerID string, increments map[int64]int64, now time.Time) error {
	s.batches.Add(1)
	return s.Client.TouchBatch(ctx, ownerID, increments, now)
}

func TestTouchQueueCoalescesIncrements(t *testing.T) {
	store := &countingStore{Client: memoryStore.NewClient(&memoryStore.Config{EmbeddingModelDims: testDims})}
	ctx := context.Background()

	rec := &storage.Record{
		ID:         1,
		OwnerID:    "user_001",
		Content:    "hot record",
		Embedding:  []float64{1, 0, 0},
		State:      storage.StateActive,
		MemoryType: "semantic",
		Importance: 0.5,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.Insert(ctx, rec))

	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	q := newTouchQueue(store, clock, log.New(io.Discard), 50*time.Millisecond)

	// Three accesses land within one flush window.
	q.Enqueue("user_001", 1)
	q.Enqueue("user_001", 1)
	q.Enqueue("user_001", 1)

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, 1, "user_001")
		return err == nil && got.AccessCount == 3
	}, 2*time.Second, 5*time.Millisecond)

	// Coalesced into a single batch.
	assert.Equal(t, int64(1), store.batches.Load())

	got, err := store.Get(ctx, 1, "user_001")
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, got.LastAccessedAt.Equal(clock.Now()))

	q.Close()
}

func TestTouchQueueCloseFlushesRemainder(t *testing.T) {
	store := memoryStore.NewClient(&memoryStore.Config{EmbeddingModelDims: testDims})
	ctx := context.Background()

	rec := &storage.Record{
		ID:         1,
		OwnerID:    "user_001",
		Content:    "record",
		Embedding:  []float64{1, 0, 0},
		State:      storage.StateActive,
		MemoryType: "semantic",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.Insert(ctx, rec))

	clock := newFakeClock(time.Now())
	q := newTouchQueue(store, clock, log.New(io.Discard), time.Hour)

	q.Enqueue("user_001", 1, 1)
	q.Close()

	got, err := store.Get(ctx, 1, "user_001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
}

func TestTouchQueueSurvivesDeletedRecords(t *testing.T) {
	store := memoryStore.NewClient(&memoryStore.Config{EmbeddingModelDims: testDims})

	clock := newFakeClock(time.Now())
	q := newTouchQueue(store, clock, log.New(io.Discard), time.Hour)

	// Touching a record that no longer exists must not wedge the queue.
	q.Enqueue("user_001", 404)
	q.Close()
}

func TestTouchQueueCloseTwice(t *testing.T) {
	store := memoryStore.NewClient(&memoryStore.Config{EmbeddingModelDims: testDims})

	clock := newFakeClock(time.Now())
	q := newTouchQueue(store, clock, log.New(io.Discard), time.Hour)

	q.Close()
	assert.NotPanics(t, q.Close)
}

func TestRetrieveTracksAccessAsynchronously(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.embedder.set("tracked fact", []float64{1, 0, 0})
	te.embedder.set("query", []float64{1, 0, 0})

	rec, err := te.engine.Ingest(ctx, "user_001", "tracked fact")
	require.NoError(t, err)

	_, err = te.engine.Retrieve(ctx, "user_001", "query")
	require.NoError(t, err)
	_, err = te.engine.Retrieve(ctx, "user_001", "query")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := te.store.Get(ctx, rec.ID, "user_001")
		return err == nil && got.AccessCount == 2 && got.LastAccessedAt != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAssembleTracksOnlyIncludedMemories(t *testing.T) {
	te := newTestEngineOpts(t, []Option{WithTokenCounter(runeCounter)})
	ctx := context.Background()

	te.embedder.set("tiny", []float64{1, 0, 0})
	te.embedder.set("a very large memory that cannot possibly fit", []float64{0.866, 0.5, 0})
	te.embedder.set("query", []float64{1, 0, 0})

	small, err := te.engine.Ingest(ctx, "user_001", "tiny", WithImportance(0.9))
	require.NoError(t, err)
	big, err := te.engine.Ingest(ctx, "user_001", "a very large memory that cannot possibly fit", WithImportance(0.9))
	require.NoError(t, err)

	block, err := te.engine.AssembleContext(ctx, "user_001", "query", nil, 10)
	require.NoError(t, err)
	require.Len(t, block.Fragments, 1)
	assert.Equal(t, small.ID, block.Fragments[0].MemoryID)

	require.Eventually(t, func() bool {
		got, err := te.store.Get(ctx, small.ID, "user_001")
		return err == nil && got.AccessCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The skipped memory was never touched.
	got, err := te.store.Get(ctx, big.ID, "user_001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AccessCount)
}
