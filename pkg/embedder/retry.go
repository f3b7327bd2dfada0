package embedder

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig controls the bounded retry behavior of a retrying provider.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Defaults to 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Each further
	// attempt doubles it. Defaults to 200ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Defaults to 5s.
	MaxBackoff time.Duration

	// AttemptTimeout bounds each individual attempt. Defaults to 10s.
	AttemptTimeout time.Duration
}

func (c *RetryConfig) withDefaults() RetryConfig {
	out := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
	if c == nil {
		return out
	}
	if c.MaxAttempts > 0 {
		out.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoff > 0 {
		out.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		out.MaxBackoff = c.MaxBackoff
	}
	if c.AttemptTimeout > 0 {
		out.AttemptTimeout = c.AttemptTimeout
	}
	return out
}

// RetryingProvider wraps a Provider with per-attempt timeouts and bounded
// exponential backoff with jitter. Exhausted retries return the last error;
// deciding what a failed embedding means (pending record, degraded context)
// is up to the caller.
type RetryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry wraps a provider with bounded retry behavior.
func WithRetry(inner Provider, cfg *RetryConfig) *RetryingProvider {
	return &RetryingProvider{
		inner: inner,
		cfg:   cfg.withDefaults(),
	}
}

// Embed retries the wrapped provider's Embed with exponential backoff.
func (r *RetryingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	var out []float64
	err := r.do(ctx, func(attemptCtx context.Context) error {
		var err error
		out, err = r.inner.Embed(attemptCtx, text)
		return err
	})
	return out, err
}

// EmbedBatch retries the wrapped provider's EmbedBatch with exponential backoff.
func (r *RetryingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var out [][]float64
	err := r.do(ctx, func(attemptCtx context.Context) error {
		var err error
		out, err = r.inner.EmbedBatch(attemptCtx, texts)
		return err
	})
	return out, err
}

// Dimensions returns the wrapped provider's dimension.
func (r *RetryingProvider) Dimensions() int { return r.inner.Dimensions() }

// Close closes the wrapped provider.
func (r *RetryingProvider) Close() error { return r.inner.Close() }

func (r *RetryingProvider) do(ctx context.Context, fn func(context.Context) error) error {
	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Full jitter keeps concurrent retries from synchronizing.
			delay := time.Duration(rand.Int63n(int64(backoff)) + 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return lastErr
}
