// Package memory provides an in-process document store used by tests and by
// the API when no database is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/models"
)

var _ core.DbClient = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	docs   map[string]models.Document
	chunks map[string][]models.DocumentChunk // by document id, position order
}

func NewStore() *Store {
	return &Store{
		docs:   make(map[string]models.Document),
		chunks: make(map[string][]models.DocumentChunk),
	}
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s already exists", core.ErrInvalidInput, doc.ID)
	}
	ts := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = ts, ts
	s.docs[doc.ID] = *doc
	return nil
}

func (s *Store) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	return &d, nil
}

func (s *Store) FindDocumentByHash(ctx context.Context, sessionID, contentHash string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Document
	for _, d := range s.docs {
		if d.SessionID != sessionID || d.ContentHash != contentHash || d.Status == models.StatusFailed {
			continue
		}
		if found == nil || d.CreatedAt.After(found.CreatedAt) {
			d := d
			found = &d
		}
	}
	if found == nil {
		return nil, core.ErrDocumentNotFound
	}
	return found, nil
}

func (s *Store) ListDocumentsBySession(ctx context.Context, sessionID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Document
	for _, d := range s.docs {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return core.ErrDocumentNotFound
	}
	if !slices.Contains(from, d.Status) {
		return fmt.Errorf("%w: %s is %s, cannot move to %s", core.ErrStatusConflict, id, d.Status, to)
	}
	d.Status = to
	d.FailureReason = ""
	d.UpdatedAt = time.Now().UTC()
	s.docs[id] = d
	return nil
}

func (s *Store) update(id string, fn func(d *models.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	fn(&d)
	d.UpdatedAt = time.Now().UTC()
	s.docs[id] = d
	return nil
}

func (s *Store) MarkDocumentFailed(ctx context.Context, id string, reason string) error {
	return s.update(id, func(d *models.Document) {
		d.Status = models.StatusFailed
		d.FailureReason = reason
	})
}

func (s *Store) MarkDocumentReady(ctx context.Context, id string, provider string, chunkCount int) error {
	return s.update(id, func(d *models.Document) {
		d.Status = models.StatusReady
		d.FailureReason = ""
		d.EmbeddingProvider = provider
		d.ChunkCount = chunkCount
	})
}

func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, documentID)
	}
	out := make([]models.DocumentChunk, len(chunks))
	ts := time.Now().UTC()
	for i, ch := range chunks {
		if ch.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s belongs to %s", core.ErrInvalidInput, ch.ID, ch.DocumentID)
		}
		ch.CreatedAt = ts
		ch.Embedding = nil
		out[i] = ch
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	s.chunks[documentID] = out
	return nil
}

func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks[documentID]), nil
}

func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]models.DocumentChunk, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.DocumentChunk
	for _, chunks := range s.chunks {
		for _, ch := range chunks {
			if want[ch.ID] {
				out = append(out, ch)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}
