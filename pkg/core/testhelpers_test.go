package core

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	memoryStore "github.com/semcore-ai/semmem-go/pkg/storage/memory"
)

const testDims = 3

// fakeEmbedder returns deterministic vectors so tests can control which
// memories look similar. Texts registered with set get exact vectors;
// anything else gets a stable hash-derived direction.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	fail    bool
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float64)}
}

func (f *fakeEmbedder) set(text string, vector []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vector
}

func (f *fakeEmbedder) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("embedding gateway unavailable")
	}
	if v, ok := f.vectors[text]; ok {
		return append([]float64(nil), v...), nil
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	angle := float64(h.Sum64()%360) * math.Pi / 180
	return []float64{math.Cos(angle), math.Sin(angle), 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return testDims }
func (f *fakeEmbedder) Close() error    { return nil }

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *Config {
	return &Config{
		Embedder: EmbedderConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: testDims,
		},
		VectorStore: VectorStoreConfig{Provider: "memory"},
		Engine: EngineConfig{
			TouchFlushInterval: 10 * time.Millisecond,
		},
	}
}

type testEngine struct {
	engine   *Engine
	store    *memoryStore.Client
	embedder *fakeEmbedder
	clock    *fakeClock
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()
	return newTestEngineOpts(t, nil, mutate...)
}

func newTestEngineOpts(t *testing.T, extra []Option, mutate ...func(*Config)) *testEngine {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	store := memoryStore.NewClient(&memoryStore.Config{EmbeddingModelDims: testDims})
	emb := newFakeEmbedder()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	opts := []Option{
		WithStore(store),
		WithEmbedderProvider(emb),
		WithClock(clock),
		WithLogger(log.New(io.Discard)),
	}
	opts = append(opts, extra...)

	engine, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &testEngine{
		engine:   engine,
		store:    store,
		embedder: emb,
		clock:    clock,
	}
}
