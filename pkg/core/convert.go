package core

import "github.com/semcore-ai/semmem-go/pkg/storage"

// fromStorageRecord converts a storage.Record to a core.MemoryRecord.
func fromStorageRecord(rec *storage.Record) *MemoryRecord {
	if rec == nil {
		return nil
	}

	return &MemoryRecord{
		ID:              rec.ID,
		OwnerID:         rec.OwnerID,
		ConversationRef: rec.ConversationRef,
		Content:         rec.Content,
		Embedding:       rec.Embedding,
		Pending:         rec.State == storage.StatePending,
		MemoryType:      MemoryType(rec.MemoryType),
		Importance:      rec.Importance,
		AccessCount:     rec.AccessCount,
		LastAccessedAt:  rec.LastAccessedAt,
		Tags:            rec.Tags,
		Metadata:        rec.Metadata,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

// fromStorageRecords converts a slice of storage records.
func fromStorageRecords(recs []*storage.Record) []*MemoryRecord {
	out := make([]*MemoryRecord, len(recs))
	for i, rec := range recs {
		out[i] = fromStorageRecord(rec)
	}
	return out
}
