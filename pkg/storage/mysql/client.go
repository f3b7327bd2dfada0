// Package mysql provides a MySQL-compatible implementation of the VectorStore
// interface.
//
// Plain MySQL has no native vector operations, so embeddings are stored as
// JSON arrays in a LONGTEXT column and cosine similarity is computed in
// process after loading the owner's candidate rows. The backend works against
// any MySQL-protocol database.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// Client implements storage.VectorStore using a MySQL-protocol database.
type Client struct {
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a MySQL store.
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
}

// NewClient creates a new MySQL store.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql.NewClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("mysql.NewClient: %w", err)
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
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			owner_id VARCHAR(128) NOT NULL,
			conversation_ref VARCHAR(128),
			content LONGTEXT NOT NULL,
			embedding LONGTEXT,
			state VARCHAR(16) NOT NULL DEFAULT 'active',
			memory_type VARCHAR(32) NOT NULL DEFAULT 'semantic',
			importance DOUBLE NOT NULL DEFAULT 0.5,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_accessed_at DATETIME(6),
			last_decayed_at DATETIME(6),
			tags JSON,
			metadata JSON,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_owner_state (owner_id, state)
		)
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("mysql.initTables: %w", err)
	}

	return nil
}

// Insert inserts a record. Vectors are stored as JSON arrays.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	if rec.OwnerID == "" {
		return storage.ErrMissingOwner
	}
	if rec.State != storage.StatePending && len(rec.Embedding) != c.dimensions {
		return storage.ErrInvalidDimension
	}

	embeddingJSON, tagsJSON, metadataJSON, err := encodeJSONFields(rec)
	if err != nil {
		return fmt.Errorf("mysql.Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner_id, conversation_ref, content, embedding, state, memory_type,
		 importance, access_count, last_accessed_at, last_decayed_at, tags, metadata,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		rec.ID,
		rec.OwnerID,
		nullString(rec.ConversationRef),
		rec.Content,
		embeddingJSON,
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
		return fmt.Errorf("mysql.Insert: %w", err)
	}

	return nil
}

// Query performs similarity search with in-process cosine calculation.
func (c *Client) Query(ctx context.Context, ownerID string, embedding []float64, opts *storage.QueryOptions) ([]*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}
	if opts == nil {
		opts = &storage.QueryOptions{}
	}

	whereClause, args := buildWhereClause(ownerID, string(storage.StateActive), opts.Filters)

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s ORDER BY id
	`, recordColumns, c.tableName, whereClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql.Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql.Query: %w", err)
		}
		if opts.Filters != nil && len(opts.Filters.Tags) > 0 && !storage.MatchesFilters(rec, &storage.Filters{Tags: opts.Filters.Tags}) {
			continue
		}
		rec.Score = storage.Cosine(embedding, rec.Embedding)
		if opts.MinScore > 0 && rec.Score < opts.MinScore {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql.Query: %w", err)
	}

	return storage.SortByScore(records, opts.K), nil
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

	whereClause, args := buildWhereClause(ownerID, state, opts.Filters)

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s ORDER BY created_at DESC, id DESC
	`, recordColumns, c.tableName, whereClause)
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql.List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql.List: %w", err)
		}
		if opts.Filters != nil && len(opts.Filters.Tags) > 0 && !storage.MatchesFilters(rec, &storage.Filters{Tags: opts.Filters.Tags}) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql.List: %w", err)
	}

	return records, nil
}

// Get retrieves a record by ID with owner checking.
func (c *Client) Get(ctx context.Context, id int64, ownerID string) (*storage.Record, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwner
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, recordColumns, c.tableName)
	row := c.db.QueryRowContext(ctx, query, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql.Get: %w", err)
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

	embeddingJSON, tagsJSON, metadataJSON, err := encodeJSONFields(rec)
	if err != nil {
		return fmt.Errorf("mysql.Update: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = ?, embedding = ?, state = ?, memory_type = ?,
		    importance = ?, last_decayed_at = ?, tags = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, c.tableName)

	result, err := c.db.ExecContext(ctx, query,
		rec.Content,
		embeddingJSON,
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
		return fmt.Errorf("mysql.Update: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql.Update: %w", err)
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
		return fmt.Errorf("mysql.TouchBatch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		UPDATE %s
		SET access_count = access_count + ?, last_accessed_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, c.tableName)

	for id, n := range increments {
		if _, err := tx.ExecContext(ctx, query, n, now, now, id, ownerID); err != nil {
			return fmt.Errorf("mysql.TouchBatch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql.TouchBatch: %w", err)
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
		SET importance = GREATEST(?, importance * ?), last_decayed_at = ?, updated_at = ?
		WHERE owner_id = ? AND state = ?
		  AND COALESCE(last_accessed_at, created_at) < ?
		  AND (last_decayed_at IS NULL OR last_decayed_at < ?)
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
		return 0, fmt.Errorf("mysql.ApplyDecay: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql.ApplyDecay: %w", err)
	}
	return affected, nil
}

// Delete removes a record by ID with owner checking.
func (c *Client) Delete(ctx context.Context, id int64, ownerID string) error {
	if ownerID == "" {
		return storage.ErrMissingOwner
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND owner_id = ?", c.tableName)
	result, err := c.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("mysql.Delete: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql.Delete: %w", err)
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
		return 0, fmt.Errorf("mysql.DeleteWhere: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql.DeleteWhere: %w", err)
	}
	return affected, nil
}

// Count reports the owner's live record count.
func (c *Client) Count(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, storage.ErrMissingOwner
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE owner_id = ?", c.tableName)
	var n int64
	if err := c.db.QueryRowContext(ctx, query, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("mysql.Count: %w", err)
	}
	return n, nil
}

// Owners lists every owner with at least one record.
func (c *Client) Owners(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT owner_id FROM %s ORDER BY owner_id", c.tableName)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mysql.Owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("mysql.Owners: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql.Owners: %w", err)
	}
	return owners, nil
}

// Close closes the underlying database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) classifyMiss(ctx context.Context, id int64) error {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", c.tableName)
	var n int64
	if err := c.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return storage.ErrNotFound
	}
	if n > 0 {
		return storage.ErrOwnerMismatch
	}
	return storage.ErrNotFound
}
