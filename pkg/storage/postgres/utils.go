package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// recordColumns is the column list shared by every SELECT.
const recordColumns = `id, owner_id, conversation_ref, content, embedding, state,
	memory_type, importance, access_count, last_accessed_at, last_decayed_at,
	tags, metadata, created_at, updated_at`

// vectorToString converts a vector to pgvector text format: "[0.1,0.2,...]".
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// vectorOrNull encodes an embedding for insertion; a pending record's nil
// embedding becomes SQL NULL.
func vectorOrNull(vector []float64) interface{} {
	if len(vector) == 0 {
		return nil
	}
	return vectorToString(vector)
}

// parseVector decodes pgvector's text representation.
func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one row into a storage.Record. When withScore is true the
// row carries a trailing similarity column from Query.
func scanRecord(s scanner, withScore bool) (*storage.Record, error) {
	var (
		rec             storage.Record
		conversationRef sql.NullString
		embeddingText   sql.NullString
		state           string
		lastAccessedAt  sql.NullTime
		lastDecayedAt   sql.NullTime
		tagsJSON        []byte
		metadataJSON    []byte
	)

	dest := []interface{}{
		&rec.ID,
		&rec.OwnerID,
		&conversationRef,
		&rec.Content,
		&embeddingText,
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
	}
	if withScore {
		dest = append(dest, &rec.Score)
	}

	if err := s.Scan(dest...); err != nil {
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

	if embeddingText.Valid && embeddingText.String != "" {
		embedding, err := parseVector(embeddingText.String)
		if err != nil {
			return nil, err
		}
		rec.Embedding = embedding
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
			return nil, err
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, err
		}
	}

	return &rec, nil
}

// scanRecordRow adapts scanRecord for single-row queries.
func scanRecordRow(row *sql.Row) (*storage.Record, error) {
	return scanRecord(row, false)
}

// encodeJSONFields marshals tags and metadata for JSONB columns.
func encodeJSONFields(rec *storage.Record) (tags, metadata interface{}, err error) {
	tags = nil
	if len(rec.Tags) > 0 {
		b, err := json.Marshal(rec.Tags)
		if err != nil {
			return nil, nil, err
		}
		tags = b
	}

	metadata = nil
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, nil, err
		}
		metadata = b
	}

	return tags, metadata, nil
}

// buildWhereClause builds a WHERE clause with $N placeholders starting at
// startIdx. Tag subset matching is done by the caller after JSONB decoding.
func buildWhereClause(ownerID, state string, filters *storage.Filters, startIdx int) (string, []interface{}) {
	idx := startIdx
	next := func() string {
		p := "$" + strconv.Itoa(idx)
		idx++
		return p
	}

	conditions := []string{"owner_id = " + next()}
	args := []interface{}{ownerID}

	if state != "" {
		conditions = append(conditions, "state = "+next())
		args = append(args, state)
	}

	if filters != nil {
		if len(filters.MemoryTypes) > 0 {
			placeholders := make([]string, len(filters.MemoryTypes))
			for i, mt := range filters.MemoryTypes {
				placeholders[i] = next()
				args = append(args, mt)
			}
			conditions = append(conditions, "memory_type IN ("+strings.Join(placeholders, ", ")+")")
		}
		if filters.MinImportance > 0 {
			conditions = append(conditions, "importance >= "+next())
			args = append(args, filters.MinImportance)
		}
		if filters.ConversationRef != "" {
			conditions = append(conditions, "conversation_ref = "+next())
			args = append(args, filters.ConversationRef)
		}
		if !filters.CreatedAfter.IsZero() {
			conditions = append(conditions, "created_at >= "+next())
			args = append(args, filters.CreatedAfter)
		}
		if !filters.CreatedBefore.IsZero() {
			conditions = append(conditions, "created_at <= "+next())
			args = append(args, filters.CreatedBefore)
		}
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildDeleteWhereClause builds a WHERE clause for DeleteWhere, with $N
// placeholders starting at 1.
func buildDeleteWhereClause(ownerID string, filter *storage.DeleteFilter) (string, []interface{}) {
	idx := 1
	next := func() string {
		p := "$" + strconv.Itoa(idx)
		idx++
		return p
	}

	conditions := []string{"owner_id = " + next()}
	args := []interface{}{ownerID}

	if filter != nil {
		if len(filter.IDs) > 0 {
			placeholders := make([]string, len(filter.IDs))
			for i, id := range filter.IDs {
				placeholders[i] = next()
				args = append(args, id)
			}
			conditions = append(conditions, "id IN ("+strings.Join(placeholders, ", ")+")")
		}
		if filter.ConversationRef != "" {
			conditions = append(conditions, "conversation_ref = "+next())
			args = append(args, filter.ConversationRef)
		}
		if filter.MaxImportance > 0 {
			conditions = append(conditions, "importance <= "+next())
			args = append(args, filter.MaxImportance)
		}
		if !filter.NotAccessedSince.IsZero() {
			conditions = append(conditions, "COALESCE(last_accessed_at, created_at) < "+next())
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
