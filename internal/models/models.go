package models

import (
	"time"
)

// DocumentStatus is the ingestion state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusExtracting DocumentStatus = "extracting"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no ingestion run is active for a document in this status.
func (s DocumentStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// InProgress reports whether an ingestion run owns the document.
func (s DocumentStatus) InProgress() bool {
	switch s {
	case StatusExtracting, StatusChunking, StatusEmbedding:
		return true
	}
	return false
}

// Document represents a file uploaded into a conversation session.
type Document struct {
	ID                string         `db:"id" json:"id"`
	SessionID         string         `db:"session_id" json:"session_id"`
	FileName          string         `db:"file_name" json:"file_name"`
	ContentType       string         `db:"content_type" json:"content_type"`
	ContentHash       string         `db:"content_hash" json:"content_hash"`
	StorageURL        string         `db:"storage_url" json:"storage_url"` // object key of the raw upload
	Status            DocumentStatus `db:"status" json:"status"`
	FailureReason     string         `db:"failure_reason" json:"failure_reason,omitempty"`
	EmbeddingProvider string         `db:"embedding_provider" json:"embedding_provider,omitempty"`
	ChunkCount        int            `db:"chunk_count" json:"chunk_count"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one retrievable span of a document's extracted text.
type DocumentChunk struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	Position    int       `db:"position" json:"position"` // sequence index inside the document
	Text        string    `db:"text" json:"text"`
	StartOffset int       `db:"start_offset" json:"start_offset"` // rune offset, inclusive
	EndOffset   int       `db:"end_offset" json:"end_offset"`     // rune offset, exclusive
	Embedding   []float32 `db:"embedding" json:"-"`
	TokenCount  int       `db:"token_count" json:"token_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// VectorEntry is one row of the vector index. It refers back to its chunk
// but does not own it.
type VectorEntry struct {
	ChunkID    string
	DocumentID string
	SessionID  string
	Position   int
	Provider   string
	Vector     []float32
}

// ScoredChunk is a single vector index hit.
type ScoredChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Position   int     `json:"position"`
	Score      float64 `json:"score"`
}

// RetrievalResult is a block of one or more adjacent chunks that grounds an answer.
// It only lives for the duration of a query.
type RetrievalResult struct {
	DocumentID string   `json:"document_id"`
	FileName   string   `json:"file_name"`
	ChunkIDs   []string `json:"chunk_ids"`
	FirstSeq   int      `json:"first_seq"`
	LastSeq    int      `json:"last_seq"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Text       string   `json:"text"`
	Score      float64  `json:"score"`
}

// Answer is the response returned to the chat transport for one query.
type Answer struct {
	Text    string            `json:"answer"`
	Agent   string            `json:"agent"`
	Sources []RetrievalResult `json:"sources"`
}
