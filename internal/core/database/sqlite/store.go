// Package sqlite is a single-file document store and vector index for local
// use and the operator CLI.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/core/vectorindex"
	"github.com/markdave123-py/docground/internal/models"
)

//go:embed schema.sql
var schema string

var (
	_ core.DbClient    = (*Store)(nil)
	_ core.VectorIndex = (*Store)(nil)
)

// Store keeps documents, chunks and vectors in one SQLite file. Vectors are
// little-endian float32 blobs scored by brute force.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serialises writers and keeps an in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func now() int64 { return time.Now().UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// documents

const documentColumns = `id, session_id, file_name, content_type, content_hash, storage_url, status,
	failure_reason, embedding_provider, chunk_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var (
		d                models.Document
		created, updated int64
	)
	err := r.Scan(
		&d.ID, &d.SessionID, &d.FileName, &d.ContentType, &d.ContentHash, &d.StorageURL, &d.Status,
		&d.FailureReason, &d.EmbeddingProvider, &d.ChunkCount, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt, d.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &d, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	ts := now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents
		(id, session_id, file_name, content_type, content_hash, storage_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SessionID, doc.FileName, doc.ContentType, doc.ContentHash, doc.StorageURL, doc.Status, ts, ts,
	)
	if err != nil {
		return err
	}
	doc.CreatedAt, doc.UpdatedAt = fromNanos(ts), fromNanos(ts)
	return nil
}

func (s *Store) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
}

func (s *Store) FindDocumentByHash(ctx context.Context, sessionID, contentHash string) (*models.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE session_id = ? AND content_hash = ? AND status <> 'failed'
		ORDER BY created_at DESC LIMIT 1`, sessionID, contentHash))
}

func (s *Store) ListDocumentsBySession(ctx context.Context, sessionID string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`, sessionID)
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

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: no source status", core.ErrInvalidInput)
	}
	args := []any{string(to), now(), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ?, failure_reason = '', updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetDocumentByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s cannot move to %s", core.ErrStatusConflict, id, to)
}

func (s *Store) MarkDocumentFailed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = 'failed', failure_reason = ?, updated_at = ?
		WHERE id = ?`, reason, now(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (s *Store) MarkDocumentReady(ctx context.Context, id string, provider string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents
		SET status = 'ready', failure_reason = '', embedding_provider = ?, chunk_count = ?, updated_at = ?
		WHERE id = ?`, provider, chunkCount, now(), id)
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

// chunks

func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO document_chunks
		(id, document_id, position, text, start_offset, end_offset, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := now()
	for _, ch := range chunks {
		if ch.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s belongs to %s", core.ErrInvalidInput, ch.ID, ch.DocumentID)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Position, ch.Text, ch.StartOffset, ch.EndOffset, ch.TokenCount, ts,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const chunkSelect = `SELECT c.id, c.document_id, c.position, c.text, c.start_offset, c.end_offset,
	c.token_count, c.created_at, v.embedding
	FROM document_chunks c
	LEFT JOIN chunk_vectors v ON v.chunk_id = c.id`

func scanChunks(rows *sql.Rows) ([]models.DocumentChunk, error) {
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch      models.DocumentChunk
			created int64
			blob    []byte
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &ch.StartOffset, &ch.EndOffset,
			&ch.TokenCount, &created, &blob); err != nil {
			return nil, err
		}
		ch.CreatedAt = fromNanos(created)
		if blob != nil {
			ch.Embedding = blobToVector(blob)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, chunkSelect+` WHERE c.document_id = ? ORDER BY c.position`, documentID)
	if err != nil {
		return nil, err
	}
	return scanChunks(rows)
}

func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]models.DocumentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, chunkSelect+` WHERE c.id IN (`+placeholders(len(ids))+`)
		ORDER BY c.document_id, c.position`, args...)
	if err != nil {
		return nil, err
	}
	return scanChunks(rows)
}

// vector index

func (s *Store) Upsert(ctx context.Context, entries []models.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	known, err := loadDimensions(ctx, tx)
	if err != nil {
		return err
	}
	dims, err := vectorindex.ValidateEntries(entries, known)
	if err != nil {
		return err
	}
	for provider, d := range dims {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO embedding_dimensions (provider, dims) VALUES (?, ?)`, provider, d); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunk_vectors
		(chunk_id, document_id, session_id, position, provider, dims, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		v, err := vectorindex.Normalize(e.Vector)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.DocumentID, e.SessionID, e.Position, e.Provider, len(v), vectorToBlob(v)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func loadDimensions(ctx context.Context, tx *sql.Tx) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT provider, dims FROM embedding_dimensions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			p string
			d int
		)
		if err := rows.Scan(&p, &d); err != nil {
			return nil, err
		}
		out[p] = d
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = ?`, documentID)
	return err
}

func (s *Store) Query(ctx context.Context, vector []float32, k int, filter core.VectorFilter) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	q, err := vectorindex.Normalize(vector)
	if err != nil {
		return nil, err
	}

	if filter.Provider != "" {
		var known int
		err := s.db.QueryRowContext(ctx, `SELECT dims FROM embedding_dimensions WHERE provider = ?`, filter.Provider).Scan(&known)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil
		case err != nil:
			return nil, err
		case known != len(q):
			return nil, fmt.Errorf("%w: provider %s uses %d dims, query has %d", core.ErrDimensionMismatch, filter.Provider, known, len(q))
		}
	}

	var (
		where = []string{"dims = ?"}
		args  = []any{len(q)}
	)
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if len(filter.DocumentIDs) > 0 {
		where = append(where, "document_id IN ("+placeholders(len(filter.DocumentIDs))+")")
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, document_id, position, embedding FROM chunk_vectors
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.ScoredChunk
	for rows.Next() {
		var (
			h    models.ScoredChunk
			blob []byte
		)
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Position, &blob); err != nil {
			return nil, err
		}
		h.Score = vectorindex.Dot(q, blobToVector(blob))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vectorindex.SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func vectorToBlob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func blobToVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
