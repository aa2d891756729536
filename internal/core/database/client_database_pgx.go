package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docground/internal/config"
	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/core/vectorindex"
	"github.com/markdave123-py/docground/internal/models"
)

var (
	_ core.DbClient    = (*DatabaseClient)(nil)
	_ core.VectorIndex = (*DatabaseClient)(nil)
)

// DatabaseClient stores documents and chunks in Postgres and serves the
// vector index from the same database through pgvector.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := withSSL(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// withSSL appends CA verification to the DSN when a root certificate is configured.
func withSSL(dsn, certPath string) (string, error) {
	if certPath == "" {
		return dsn, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for Document

const documentColumns = `id, session_id, file_name, content_type, content_hash, storage_url, status,
	failure_reason, embedding_provider, chunk_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var d models.Document
	err := r.Scan(
		&d.ID, &d.SessionID, &d.FileName, &d.ContentType, &d.ContentHash, &d.StorageURL, &d.Status,
		&d.FailureReason, &d.EmbeddingProvider, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, session_id, file_name, content_type, content_hash, storage_url, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`
	return c.db.QueryRowContext(ctx, q,
		doc.ID, doc.SessionID, doc.FileName, doc.ContentType, doc.ContentHash, doc.StorageURL, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(c.db.QueryRowContext(ctx, q, id))
}

// FindDocumentByHash returns the newest document of a session that was not
// failed and has the given content hash.
func (c *DatabaseClient) FindDocumentByHash(ctx context.Context, sessionID, contentHash string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE session_id = $1 AND content_hash = $2 AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1`
	return scanDocument(c.db.QueryRowContext(ctx, q, sessionID, contentHash))
}

func (c *DatabaseClient) ListDocumentsBySession(ctx context.Context, sessionID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE session_id = $1
		ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// DeleteDocument removes the document; chunks and vectors go with it through ON DELETE CASCADE.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (c *DatabaseClient) TransitionStatus(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	const q = `
		UPDATE documents
		SET status = $2, failure_reason = '', updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`
	res, err := c.db.ExecContext(ctx, q, id, string(to), allowed)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := c.GetDocumentByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s cannot move to %s", core.ErrStatusConflict, id, to)
}

func (c *DatabaseClient) MarkDocumentFailed(ctx context.Context, id string, reason string) error {
	const q = `
		UPDATE documents
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, reason)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (c *DatabaseClient) MarkDocumentReady(ctx context.Context, id string, provider string, chunkCount int) error {
	const q = `
		UPDATE documents
		SET status = 'ready', failure_reason = '', embedding_provider = $2, chunk_count = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, provider, chunkCount)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

// Implementing the db interface for Document Chunks

// ReplaceDocumentChunks swaps the chunk set of a document in a single transaction.
func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, position, text, start_offset, end_offset, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if ch.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s belongs to %s", core.ErrInvalidInput, ch.ID, ch.DocumentID)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Position, ch.Text, ch.StartOffset, ch.EndOffset, ch.TokenCount,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const chunkSelect = `
	SELECT c.id, c.document_id, c.position, c.text, c.start_offset, c.end_offset, c.token_count, c.created_at, v.embedding
	FROM document_chunks c
	LEFT JOIN chunk_vectors v ON v.chunk_id = c.id
`

func scanChunks(rows *sql.Rows) ([]models.DocumentChunk, error) {
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb *pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &ch.StartOffset, &ch.EndOffset, &ch.TokenCount, &ch.CreatedAt, &emb,
		); err != nil {
			return nil, err
		}
		if emb != nil {
			ch.Embedding = emb.Slice()
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	rows, err := c.db.QueryContext(ctx, chunkSelect+` WHERE c.document_id = $1 ORDER BY c.position ASC`, documentID)
	if err != nil {
		return nil, err
	}
	return scanChunks(rows)
}

func (c *DatabaseClient) GetChunksByIDs(ctx context.Context, ids []string) ([]models.DocumentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, chunkSelect+` WHERE c.id = ANY($1) ORDER BY c.document_id, c.position`, ids)
	if err != nil {
		return nil, err
	}
	return scanChunks(rows)
}

// Implementing the vector index on pgvector

// Upsert writes every entry in one transaction so concurrent queries see all
// or none of them.
func (c *DatabaseClient) Upsert(ctx context.Context, entries []models.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	dims, err := vectorindex.ValidateEntries(entries, nil)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for provider, d := range dims {
		if err := registerDimension(ctx, tx, provider, d); err != nil {
			return err
		}
	}

	const q = `
		INSERT INTO chunk_vectors (chunk_id, document_id, session_id, position, provider, dims, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			session_id  = EXCLUDED.session_id,
			position    = EXCLUDED.position,
			provider    = EXCLUDED.provider,
			dims        = EXCLUDED.dims,
			embedding   = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		v, err := vectorindex.Normalize(e.Vector)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ChunkID, e.DocumentID, e.SessionID, e.Position, e.Provider, len(v), pgvector.NewVector(v),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// registerDimension pins the vector size of a provider the first time it is
// seen and rejects any later mismatch.
func registerDimension(ctx context.Context, tx *sql.Tx, provider string, dims int) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO embedding_dimensions (provider, dims) VALUES ($1, $2) ON CONFLICT (provider) DO NOTHING`,
		provider, dims,
	); err != nil {
		return err
	}
	var known int
	if err := tx.QueryRowContext(ctx, `SELECT dims FROM embedding_dimensions WHERE provider = $1`, provider).Scan(&known); err != nil {
		return err
	}
	if known != dims {
		return fmt.Errorf("%w: provider %s uses %d dims, got %d", core.ErrDimensionMismatch, provider, known, dims)
	}
	return nil
}

func (c *DatabaseClient) Delete(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID)
	return err
}

// Query ranks by cosine distance (<=>); score is 1 - distance.
func (c *DatabaseClient) Query(ctx context.Context, vector []float32, k int, filter core.VectorFilter) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	v, err := vectorindex.Normalize(vector)
	if err != nil {
		return nil, err
	}

	if filter.Provider != "" {
		var known int
		err := c.db.QueryRowContext(ctx, `SELECT dims FROM embedding_dimensions WHERE provider = $1`, filter.Provider).Scan(&known)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		case err != nil:
			return nil, err
		case known != len(v):
			return nil, fmt.Errorf("%w: provider %s uses %d dims, query has %d", core.ErrDimensionMismatch, filter.Provider, known, len(v))
		}
	}

	docIDs := filter.DocumentIDs
	if docIDs == nil {
		docIDs = []string{}
	}

	const q = `
		SELECT chunk_id, document_id, position, 1 - (embedding <=> $1) AS score
		FROM chunk_vectors
		WHERE dims = $2
		  AND ($3 = '' OR session_id = $3)
		  AND ($4 = '' OR provider = $4)
		  AND (cardinality($5::text[]) = 0 OR document_id = ANY($5::text[]))
		ORDER BY embedding <=> $1, position ASC, chunk_id ASC
		LIMIT $6
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(v), len(v), filter.SessionID, filter.Provider, docIDs, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var h models.ScoredChunk
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Position, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// the database orders by distance; re-sort so ties follow the shared rule exactly
	vectorindex.SortHits(out)
	return out, nil
}
