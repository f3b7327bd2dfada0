// Package memory provides an in-process implementation of the VectorStore
// interface.
//
// It keeps all records in a map guarded by a RWMutex and computes cosine
// similarity by exhaustive scan. It is intended for embedded single-process
// use and for tests; the SQL backends should be preferred for anything that
// must survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// Client implements storage.VectorStore with in-process maps.
type Client struct {
	mu         sync.RWMutex
	records    map[int64]*storage.Record
	dimensions int
}

// Config contains configuration for creating an in-memory store.
type Config struct {
	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int
}

// NewClient creates a new in-memory store.
func NewClient(cfg *Config) *Client {
	return &Client{
		records:    make(map[int64]*storage.Record),
		dimensions: cfg.EmbeddingModelDims,
	}
}

// Insert stores a copy of the record.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	if rec.OwnerID == "" {
		return storage.ErrMissingOwner
	}
	if rec.State != storage.StatePending && len(rec.Embedding) != c.dimensions {
		return storage.ErrInvalidDimension
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Query performs an exhaustive cosine similarity scan over the owner's
// active records.
func (c *Client) Query(ctx context.Context, ownerID string, embedding []float64, opts *storage.QueryOptions) ([]*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}
	if opts == nil {
		opts = &storage.QueryOptions{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*storage.Record
	for _, rec := range c.records {
		if rec.OwnerID != ownerID || rec.State != storage.StateActive {
			continue
		}
		if !storage.MatchesFilters(rec, opts.Filters) {
			continue
		}
		score := storage.Cosine(embedding, rec.Embedding)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		cp := cloneRecord(rec)
		cp.Score = score
		out = append(out, cp)
	}

	return storage.SortByScore(out, opts.K), nil
}

// List retrieves records by metadata, newest first.
func (c *Client) List(ctx context.Context, ownerID string, opts *storage.ListOptions) ([]*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}
	if opts == nil {
		opts = &storage.ListOptions{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*storage.Record
	for _, rec := range c.records {
		if rec.OwnerID != ownerID {
			continue
		}
		if rec.State == storage.StatePending {
			if !opts.IncludePending && !opts.PendingOnly {
				continue
			}
		} else if opts.PendingOnly {
			continue
		}
		if !storage.MatchesFilters(rec, opts.Filters) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Get retrieves a record by ID with owner checking.
func (c *Client) Get(ctx context.Context, id int64, ownerID string) (*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return nil, storage.ErrOwnerMismatch
	}
	return cloneRecord(rec), nil
}

// Update rewrites a record's mutable fields.
func (c *Client) Update(ctx context.Context, rec *storage.Record) error {
	if rec.OwnerID == "" {
		return storage.ErrMissingOwner
	}
	if rec.State != storage.StatePending && len(rec.Embedding) != c.dimensions {
		return storage.ErrInvalidDimension
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.records[rec.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if existing.OwnerID != rec.OwnerID {
		return storage.ErrOwnerMismatch
	}

	cp := cloneRecord(rec)
	cp.CreatedAt = existing.CreatedAt
	cp.AccessCount = existing.AccessCount
	cp.LastAccessedAt = existing.LastAccessedAt
	c.records[rec.ID] = cp
	return nil
}

// TouchBatch applies coalesced access bookkeeping. Missing IDs are skipped.
func (c *Client) TouchBatch(ctx context.Context, ownerID string, increments map[int64]int64, now time.Time) error {
	if ownerID == "" {
		return storage.ErrMissingOwner
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, n := range increments {
		rec, ok := c.records[id]
		if !ok || rec.OwnerID != ownerID {
			continue
		}
		rec.AccessCount += n
		t := now
		rec.LastAccessedAt = &t
		rec.UpdatedAt = now
	}
	return nil
}

// ApplyDecay runs one watermark-keyed decay pass.
func (c *Client) ApplyDecay(ctx context.Context, ownerID string, upd *storage.DecayUpdate) (int64, error) {
	if ownerID == "" {
		return 0, storage.ErrMissingOwner
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for _, rec := range c.records {
		if rec.OwnerID != ownerID || rec.State != storage.StateActive {
			continue
		}
		last := rec.CreatedAt
		if rec.LastAccessedAt != nil {
			last = *rec.LastAccessedAt
		}
		if !last.Before(upd.AccessCutoff) {
			continue
		}
		if rec.LastDecayedAt != nil && !rec.LastDecayedAt.Before(upd.WindowStart) {
			continue // already decayed within this window
		}
		rec.Importance *= upd.Factor
		if rec.Importance < upd.Floor {
			rec.Importance = upd.Floor
		}
		t := upd.RunAt
		rec.LastDecayedAt = &t
		rec.UpdatedAt = upd.RunAt
		n++
	}
	return n, nil
}

// Delete removes a record by ID with owner checking.
func (c *Client) Delete(ctx context.Context, id int64, ownerID string) error {
	if ownerID == "" {
		return storage.ErrMissingOwner
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return storage.ErrOwnerMismatch
	}
	delete(c.records, id)
	return nil
}

// DeleteWhere removes all owner records matching the filter.
func (c *Client) DeleteWhere(ctx context.Context, ownerID string, filter *storage.DeleteFilter) (int64, error) {
	if ownerID == "" {
		return 0, storage.ErrMissingOwner
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for id, rec := range c.records {
		if rec.OwnerID != ownerID {
			continue
		}
		if storage.MatchesDeleteFilter(rec, filter) {
			delete(c.records, id)
			n++
		}
	}
	return n, nil
}

// Count reports the owner's live record count.
func (c *Client) Count(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, storage.ErrMissingOwner
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int64
	for _, rec := range c.records {
		if rec.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// Owners lists every owner with at least one record.
func (c *Client) Owners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range c.records {
		seen[rec.OwnerID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for owner := range seen {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}

// Close releases resources. No-op for the in-memory store.
func (c *Client) Close() error { return nil }

func cloneRecord(rec *storage.Record) *storage.Record {
	cp := *rec
	if rec.Embedding != nil {
		cp.Embedding = append([]float64(nil), rec.Embedding...)
	}
	if rec.Tags != nil {
		cp.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	if rec.LastAccessedAt != nil {
		t := *rec.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	if rec.LastDecayedAt != nil {
		t := *rec.LastDecayedAt
		cp.LastDecayedAt = &t
	}
	return &cp
}
