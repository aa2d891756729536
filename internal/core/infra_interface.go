package core

import (
	"context"
	"io"

	"github.com/markdave123-py/docground/internal/models"
)

// DbClient defines all persistence operations your services will need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	FindDocumentByHash(ctx context.Context, sessionID, contentHash string) (*models.Document, error)
	ListDocumentsBySession(ctx context.Context, sessionID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// TransitionStatus moves a document to status `to` only if its current
	// status is one of `from`. It returns ErrStatusConflict otherwise.
	TransitionStatus(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error
	MarkDocumentFailed(ctx context.Context, id string, reason string) error
	MarkDocumentReady(ctx context.Context, id string, provider string, chunkCount int) error

	// ReplaceDocumentChunks swaps every chunk of a document for the given set.
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]models.DocumentChunk, error)
}

// VectorFilter narrows a vector index query.
type VectorFilter struct {
	SessionID   string
	DocumentIDs []string
	Provider    string
}

// VectorIndex stores chunk vectors and answers nearest-neighbour queries by
// cosine similarity.
type VectorIndex interface {
	// Upsert writes all entries atomically: a concurrent Query observes
	// either none or all of them.
	Upsert(ctx context.Context, entries []models.VectorEntry) error
	// Delete removes every vector of a document.
	Delete(ctx context.Context, documentID string) error
	// Query returns at most k hits ordered by score descending, ties by
	// ascending chunk position.
	Query(ctx context.Context, vector []float32, k int, filter VectorFilter) ([]models.ScoredChunk, error)
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
