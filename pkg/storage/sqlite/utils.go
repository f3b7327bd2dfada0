package sqlite

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// recordColumns is the column list shared by every SELECT.
const recordColumns = `id, owner_id, conversation_ref, content, embedding, state,
	memory_type, importance, access_count, last_accessed_at, last_decayed_at,
	tags, metadata, created_at, updated_at`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one row into a storage.Record. Embedding, tags, and
// metadata are JSON-decoded from TEXT columns.
func scanRecord(s scanner) (*storage.Record, error) {
	var (
		rec             storage.Record
		conversationRef sql.NullString
		embeddingJSON   sql.NullString
		state           string
		lastAccessedAt  sql.NullTime
		lastDecayedAt   sql.NullTime
		tagsJSON        sql.NullString
		metadataJSON    sql.NullString
	)

	err := s.Scan(
		&rec.ID,
		&rec.OwnerID,
		&conversationRef,
		&rec.Content,
		&embeddingJSON,
		&state,
		&rec.MemoryType,
		&rec.Importance,
		&rec.AccessCount,
		&lastAccessedAt,
		&lastDecayedAt,
		&tagsJSON,
		&metadataJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ConversationRef = conversationRef.String
	rec.State = storage.RecordState(state)
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		rec.LastAccessedAt = &t
	}
	if lastDecayedAt.Valid {
		t := lastDecayedAt.Time
		rec.LastDecayedAt = &t
	}

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &rec.Embedding); err != nil {
			return nil, err
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			return nil, err
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, err
		}
	}

	return &rec, nil
}

// encodeJSONFields marshals the embedding, tags, and metadata for storage.
// A pending record's embedding encodes as SQL NULL.
func encodeJSONFields(rec *storage.Record) (embedding, tags, metadata interface{}, err error) {
	embedding = nil
	if len(rec.Embedding) > 0 {
		b, err := json.Marshal(rec.Embedding)
		if err != nil {
			return nil, nil, nil, err
		}
		embedding = string(b)
	}

	tags = nil
	if len(rec.Tags) > 0 {
		b, err := json.Marshal(rec.Tags)
		if err != nil {
			return nil, nil, nil, err
		}
		tags = string(b)
	}

	metadata = nil
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, nil, nil, err
		}
		metadata = string(b)
	}

	return embedding, tags, metadata, nil
}

// buildWhereClause builds a WHERE clause from owner scoping, state, and the
// SQL-expressible filter fields. Tag subset matching is done by the caller
// after JSON decoding.
func buildWhereClause(ownerID, state string, filters *storage.Filters) (string, []interface{}) {
	conditions := []string{"owner_id = ?"}
	args := []interface{}{ownerID}

	if state != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, state)
	}

	if filters != nil {
		if len(filters.MemoryTypes) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filters.MemoryTypes)), ", ")
			conditions = append(conditions, "memory_type IN ("+placeholders+")")
			for _, mt := range filters.MemoryTypes {
				args = append(args, mt)
			}
		}
		if filters.MinImportance > 0 {
			conditions = append(conditions, "importance >= ?")
			args = append(args, filters.MinImportance)
		}
		if filters.ConversationRef != "" {
			conditions = append(conditions, "conversation_ref = ?")
			args = append(args, filters.ConversationRef)
		}
		if !filters.CreatedAfter.IsZero() {
			conditions = append(conditions, "created_at >= ?")
			args = append(args, filters.CreatedAfter)
		}
		if !filters.CreatedBefore.IsZero() {
			conditions = append(conditions, "created_at <= ?")
			args = append(args, filters.CreatedBefore)
		}
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildDeleteWhereClause builds a WHERE clause for DeleteWhere.
func buildDeleteWhereClause(ownerID string, filter *storage.DeleteFilter) (string, []interface{}) {
	conditions := []string{"owner_id = ?"}
	args := []interface{}{ownerID}

	if filter != nil {
		if len(filter.IDs) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.IDs)), ", ")
			conditions = append(conditions, "id IN ("+placeholders+")")
			for _, id := range filter.IDs {
				args = append(args, id)
			}
		}
		if filter.ConversationRef != "" {
			conditions = append(conditions, "conversation_ref = ?")
			args = append(args, filter.ConversationRef)
		}
		if filter.MaxImportance > 0 {
			conditions = append(conditions, "importance <= ?")
			args = append(args, filter.MaxImportance)
		}
		if !filter.NotAccessedSince.IsZero() {
			conditions = append(conditions, "COALESCE(last_accessed_at, created_at) < ?")
			args = append(args, filter.NotAccessedSince)
		}
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// nullString converts an empty string to SQL NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullTime converts a nil time pointer to SQL NULL.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
