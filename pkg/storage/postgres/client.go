// Package postgres provides a PostgreSQL + pgvector implementation of the
// VectorStore interface.
//
// Similarity search runs inside the database using pgvector's cosine distance
// operator, so candidate ranking scales past what an in-process scan can
// handle. The pending state is modeled as a NULL embedding column.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// Client implements storage.VectorStore using PostgreSQL with pgvector.
type Client struct {
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a PostgreSQL store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string

	// TableName is the name of the table to use.
	TableName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int

	// SSLMode is the libpq sslmode setting (default "disable").
	SSLMode string
}

// IndexType selects the pgvector index algorithm for CreateIndex.
type IndexType string

const (
	// IndexHNSW builds a Hierarchical Navigable Small World graph index.
	IndexHNSW IndexType = "hnsw"

	// IndexIVFFlat builds an inverted-file flat index.
	IndexIVFFlat IndexType = "ivfflat"
)

// NewClient creates a new PostgreSQL store and initializes the pgvector
// extension and table structure.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.NewClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres.NewClient: %w", err)
	}

	client := &Client{
		db:         db,
		tableName:  cfg.TableName,
		dimensions: cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgres.initTables: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			conversation_ref TEXT,
			content TEXT NOT NULL,
			embedding vector(%d),
			state TEXT NOT NULL DEFAULT 'active',
			memory_type TEXT NOT NULL DEFAULT 'semantic',
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_accessed_at TIMESTAMPTZ,
			last_decayed_at TIMESTAMPTZ,
			tags JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, c.tableName, c.dimensions)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres.initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner_id, state)
	`, c.tableName, c.tableName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("postgres.initTables: %w", err)
	}

	return nil
}

// CreateIndex builds a pgvector ANN index over the embedding column.
// Query results remain subject to the same ordering contract; the index only
// changes how candidates are found.
func (c *Client) CreateIndex(ctx context.Context, indexType IndexType) error {
	var query string
	switch indexType {
	case IndexHNSW:
		query = fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING hnsw (embedding vector_cosine_ops)
		`, c.tableName, c.tableName)
	case IndexIVFFlat:
		query = fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING ivfflat (embedding vector_cosine_ops)
		`, c.tableName, c.tableName)
	default:
		return fmt.Errorf("postgres.CreateIndex: unsupported index type %q", indexType)
	}

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres.CreateIndex: %w", err)
	}
	return nil
}

// Insert inserts a record. The embedding is passed in pgvector text format.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	if rec.OwnerID == "" {
		return storage.ErrMissingOwner
	}
	if rec.State != storage.StatePending && len(rec.Embedding) != c.dimensions {
		return storage.ErrInvalidDimension
	}

	tagsJSON, metadataJSON, err := encodeJSONFields(rec)
	if err != nil {
		return fmt.Errorf("postgres.Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner_id, conversation_ref, content, embedding, state, memory_type,
		 importance, access_count, last_accessed_at, last_decayed_at, tags, metadata,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		rec.ID,
		rec.OwnerID,
		nullString(rec.ConversationRef),
		rec.Content,
		vectorOrNull(rec.Embedding),
		string(rec.State),
		rec.MemoryType,
		rec.Importance,
		rec.AccessCount,
		nullTime(rec.LastAccessedAt),
		nullTime(rec.LastDecayedAt),
		tagsJSON,
		metadataJSON,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres.Insert: %w", err)
	}

	return nil
}

// Query performs similarity search using pgvector's <=> cosine distance
// operator. The ordering contract (similarity, importance, recency, id) is
// expressed directly in the ORDER BY.
func (c *Client) Query(ctx context.Context, ownerID string, embedding []float64, opts *storage.QueryOptions) ([]*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}
	if opts == nil {
		opts = &storage.QueryOptions{}
	}

	queryVector := vectorToString(embedding)

	// $1 is the query vector; filter args start at $2.
	whereClause, args := buildWhereClause(ownerID, string(storage.StateActive), opts.Filters, 2)

	if opts.MinScore > 0 {
		whereClause += fmt.Sprintf(" AND 1 - (embedding <=> $1) >= %f", opts.MinScore)
	}

	k := opts.K
	if k <= 0 {
		k = 100
	}

	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY similarity DESC, importance DESC, created_at DESC, id ASC
		LIMIT %d
	`, recordColumns, c.tableName, whereClause, k)

	allArgs := append([]interface{}{queryVector}, args...)
	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres.Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows, true)
		if err != nil {
			return nil, fmt.Errorf("postgres.Query: %w", err)
		}
		// Tag subset matching is done after JSONB decoding.
		if opts.Filters != nil && len(opts.Filters.Tags) > 0 && !storage.MatchesFilters(rec, &storage.Filters{Tags: opts.Filters.Tags}) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.Query: %w", err)
	}

	return records, nil
}

// List retrieves records by metadata, newest first.
func (c *Client) List(ctx context.Context, ownerID string, opts *storage.ListOptions) ([]*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	state := ""
	switch {
	case opts.PendingOnly:
		state = string(storage.StatePending)
	case !opts.IncludePending:
		state = string(storage.StateActive)
	}

	whereClause, args := buildWhereClause(ownerID, state, opts.Filters, 1)

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s ORDER BY created_at DESC, id DESC
	`, recordColumns, c.tableName, whereClause)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres.List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows, false)
		if err != nil {
			return nil, fmt.Errorf("postgres.List: %w", err)
		}
		if opts.Filters != nil && len(opts.Filters.Tags) > 0 && !storage.MatchesFilters(rec, &storage.Filters{Tags: opts.Filters.Tags}) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.List: %w", err)
	}

	return records, nil
}

// Get retrieves a record by ID with owner checking.
func (c *Client) Get(ctx context.Context, id int64, ownerID string) (*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, c.tableName)
	row := c.db.QueryRowContext(ctx, query, id)

	rec, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.Get: %w", err)
	}
	if rec.OwnerID != ownerID {
		return nil, storage.ErrOwnerMismatch
	}

	return rec, nil
}

// Update rewrites a record's mutable fields, matched by ID and owner.
func (c *Client) Update(ctx context.Context, rec *storage.Record) error {
	if rec.OwnerID == "" {
		return storage.ErrMissingOwner
	}
	if rec.State != storage.StatePending && len(rec.Embedding) != c.dimensions {
		return storage.ErrInvalidDimension
	}

	tagsJSON, metadataJSON, err := encodeJSONFields(rec)
	if err != nil {
		return fmt.Errorf("postgres.Update: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, embedding = $2, state = $3, memory_type = $4,
		    importance = $5, last_decayed_at = $6, tags = $7, metadata = $8, updated_at = $9
		WHERE id = $10 AND owner_id = $11
	`, c.tableName)

	result, err := c.db.ExecContext(ctx, query,
		rec.Content,
		vectorOrNull(rec.Embedding),
		string(rec.State),
		rec.MemoryType,
		rec.Importance,
		nullTime(rec.LastDecayedAt),
		tagsJSON,
		metadataJSON,
		rec.UpdatedAt,
		rec.ID,
		rec.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("postgres.Update: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres.Update: %w", err)
	}
	if affected == 0 {
		return c.classifyMiss(ctx, rec.ID)
	}

	return nil
}

// TouchBatch applies coalesced access bookkeeping in one transaction.
func (c *Client) TouchBatch(ctx context.Context, ownerID string, increments map[int64]int64, now time.Time) error {
	if ownerID == "" {
		return storage.ErrMissingOwner
	}
	if len(increments) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres.TouchBatch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		UPDATE %s
		SET access_count = access_count + $1, last_accessed_at = $2, updated_at = $3
		WHERE id = $4 AND owner_id = $5
	`, c.tableName)

	for id, n := range increments {
		if _, err := tx.ExecContext(ctx, query, n, now, now, id, ownerID); err != nil {
			return fmt.Errorf("postgres.TouchBatch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres.TouchBatch: %w", err)
	}
	return nil
}

// ApplyDecay runs one watermark-keyed decay pass in a single statement.
func (c *Client) ApplyDecay(ctx context.Context, ownerID string, upd *storage.DecayUpdate) (int64, error) {
	if ownerID == "" {
		return 0, storage.ErrMissingOwner
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET importance = GREATEST($1, importance * $2), last_decayed_at = $3, updated_at = $4
		WHERE owner_id = $5 AND state = $6
		  AND COALESCE(last_accessed_at, created_at) < $7
		  AND (last_decayed_at IS NULL OR last_decayed_at < $8)
	`, c.tableName)

	result, err := c.db.ExecContext(ctx, query,
		upd.Floor,
		upd.Factor,
		upd.RunAt,
		upd.RunAt,
		ownerID,
		string(storage.StateActive),
		upd.AccessCutoff,
		upd.WindowStart,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres.ApplyDecay: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres.ApplyDecay: %w", err)
	}
	return affected, nil
}

// Delete removes a record by ID with owner checking.
func (c *Client) Delete(ctx context.Context, id int64, ownerID string) error {
	if ownerID == "" {
		return storage.ErrMissingOwner
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND owner_id = $2", c.tableName)
	result, err := c.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("postgres.Delete: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres.Delete: %w", err)
	}
	if affected == 0 {
		return c.classifyMiss(ctx, id)
	}

	return nil
}

// DeleteWhere removes all owner records matching the filter.
func (c *Client) DeleteWhere(ctx context.Context, ownerID string, filter *storage.DeleteFilter) (int64, error) {
	if ownerID == "" {
		return 0, storage.ErrMissingOwner
	}

	whereClause, args := buildDeleteWhereClause(ownerID, filter)
	query := fmt.Sprintf("DELETE FROM %s %s", c.tableName, whereClause)

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres.DeleteWhere: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres.DeleteWhere: %w", err)
	}
	return affected, nil
}

// Count reports the owner's live record count.
func (c *Client) Count(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, storage.ErrMissingOwner
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE owner_id = $1", c.tableName)
	var n int64
	if err := c.db.QueryRowContext(ctx, query, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres.Count: %w", err)
	}
	return n, nil
}

// Owners lists every owner with at least one record.
func (c *Client) Owners(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT owner_id FROM %s ORDER BY owner_id", c.tableName)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres.Owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("postgres.Owners: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.Owners: %w", err)
	}
	return owners, nil
}

// Close closes the underlying database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) classifyMiss(ctx context.Context, id int64) error {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = $1", c.tableName)
	var n int64
	if err := c.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return storage.ErrNotFound
	}
	if n > 0 {
		return storage.ErrOwnerMismatch
	}
	return storage.ErrNotFound
}
