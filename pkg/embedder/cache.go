package embedder

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig controls the embedding cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached embeddings. Defaults to 8192.
	MaxEntries int64
}

// CachingProvider wraps a Provider with a ristretto cache keyed by input
// text. Embeddings are deterministic for a fixed model, so a hit saves a
// full round trip to the gateway. Admission is probabilistic; a miss after
// Set is possible and simply costs one extra gateway call.
type CachingProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// WithCache wraps a provider with an embedding cache.
func WithCache(inner Provider, cfg *CacheConfig) (*CachingProvider, error) {
	maxEntries := int64(8192)
	if cfg != nil && cfg.MaxEntries > 0 {
		maxEntries = cfg.MaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &CachingProvider{
		inner: inner,
		cache: cache,
	}, nil
}

// Embed returns a cached embedding when available, otherwise delegates to
// the wrapped provider and caches the result.
func (c *CachingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.Get(text); ok {
		if embedding, ok := v.([]float64); ok {
			return embedding, nil
		}
	}

	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, embedding, 1)
	return embedding, nil
}

// EmbedBatch serves cached entries and batches only the misses through the
// wrapped provider.
func (c *CachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			if embedding, ok := v.([]float64); ok {
				out[i] = embedding
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	embeddings, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, embedding := range embeddings {
		out[missIdx[j]] = embedding
		c.cache.Set(missTexts[j], embedding, 1)
	}

	return out, nil
}

// Dimensions returns the wrapped provider's dimension.
func (c *CachingProvider) Dimensions() int { return c.inner.Dimensions() }

// Close closes the cache and the wrapped provider.
func (c *CachingProvider) Close() error {
	c.cache.Close()
	return c.inner.Close()
}
