package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/markdave123-py/docground/internal/config"
	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSSL(t *testing.T) {
	dsn, err := withSSL("postgres://u:p@localhost:5432/docground", "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/docground", dsn)

	_, err = withSSL("postgres://localhost/docground", "/does/not/exist.pem")
	assert.Error(t, err)

	cert := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))
	dsn, err = withSSL("postgres://localhost/docground", cert)
	require.NoError(t, err)
	assert.Contains(t, dsn, "sslmode=verify-ca")
	assert.Contains(t, dsn, "sslrootcert=")
}

// TestDatabaseClientIntegration runs against a real Postgres with pgvector
// when DOCGROUND_TEST_DATABASE_URL is set.
func TestDatabaseClientIntegration(t *testing.T) {
	url := os.Getenv("DOCGROUND_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DOCGROUND_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	c, err := NewDatabaseClient(ctx, &config.Config{DatabaseURL: url})
	require.NoError(t, err)
	defer c.Close()

	doc := &models.Document{ID: "it-" + t.Name(), SessionID: "it-session", FileName: "a.txt", Status: models.StatusPending}
	_ = c.DeleteDocument(ctx, doc.ID)
	require.NoError(t, c.CreateDocument(ctx, doc))
	defer c.DeleteDocument(ctx, doc.ID)

	require.NoError(t, c.TransitionStatus(ctx, doc.ID, []models.DocumentStatus{models.StatusPending}, models.StatusExtracting))
	assert.ErrorIs(t, c.TransitionStatus(ctx, doc.ID, []models.DocumentStatus{models.StatusPending}, models.StatusExtracting), core.ErrStatusConflict)

	chunks := []models.DocumentChunk{
		{ID: doc.ID + "-0", DocumentID: doc.ID, Position: 0, Text: "refunds", EndOffset: 7},
		{ID: doc.ID + "-1", DocumentID: doc.ID, Position: 1, Text: "shipping", StartOffset: 5, EndOffset: 13},
	}
	require.NoError(t, c.ReplaceDocumentChunks(ctx, doc.ID, chunks))

	provider := "it/test-provider"
	require.NoError(t, c.Upsert(ctx, []models.VectorEntry{
		{ChunkID: chunks[0].ID, DocumentID: doc.ID, SessionID: doc.SessionID, Position: 0, Provider: provider, Vector: []float32{1, 0}},
		{ChunkID: chunks[1].ID, DocumentID: doc.ID, SessionID: doc.SessionID, Position: 1, Provider: provider, Vector: []float32{0, 1}},
	}))

	hits, err := c.Query(ctx, []float32{1, 0.1}, 5, core.VectorFilter{SessionID: doc.SessionID, Provider: provider})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, chunks[0].ID, hits[0].ChunkID)

	require.NoError(t, c.Delete(ctx, doc.ID))
	hits, err = c.Query(ctx, []float32{1, 0}, 5, core.VectorFilter{DocumentIDs: []string{doc.ID}})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
