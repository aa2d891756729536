package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/models"
)

var _ core.VectorIndex = (*MemoryIndex)(nil)

// MemoryIndex is a brute-force index kept entirely in memory. Writers build a
// new per-document slice and swap it in under the write lock, so readers see
// either the old or the new state of a document.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string][]models.VectorEntry
	dims map[string]int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs: make(map[string][]models.VectorEntry),
		dims: make(map[string]int),
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, entries []models.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	normalized := make([]models.VectorEntry, len(entries))
	for i, e := range entries {
		v, err := Normalize(e.Vector)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		e.Vector = v
		normalized[i] = e
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dims, err := ValidateEntries(normalized, m.dims)
	if err != nil {
		return err
	}

	byDoc := make(map[string][]models.VectorEntry)
	for _, e := range normalized {
		byDoc[e.DocumentID] = append(byDoc[e.DocumentID], e)
	}
	for docID, incoming := range byDoc {
		replaced := make(map[string]bool, len(incoming))
		for _, e := range incoming {
			replaced[e.ChunkID] = true
		}
		next := make([]models.VectorEntry, 0, len(m.docs[docID])+len(incoming))
		for _, e := range m.docs[docID] {
			if !replaced[e.ChunkID] {
				next = append(next, e)
			}
		}
		m.docs[docID] = append(next, incoming...)
	}
	for p, d := range dims {
		m.dims[p] = d
	}
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, documentID)
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, filter core.VectorFilter) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	q, err := Normalize(vector)
	if err != nil {
		return nil, err
	}

	var docFilter map[string]bool
	if len(filter.DocumentIDs) > 0 {
		docFilter = make(map[string]bool, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			docFilter[id] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if d, ok := m.dims[filter.Provider]; ok && filter.Provider != "" && d != len(q) {
		return nil, fmt.Errorf("%w: provider %s uses %d dims, query has %d", core.ErrDimensionMismatch, filter.Provider, d, len(q))
	}

	var hits []models.ScoredChunk
	for docID, entries := range m.docs {
		if docFilter != nil && !docFilter[docID] {
			continue
		}
		for _, e := range entries {
			if filter.SessionID != "" && e.SessionID != filter.SessionID {
				continue
			}
			if filter.Provider != "" && e.Provider != filter.Provider {
				continue
			}
			if len(e.Vector) != len(q) {
				continue
			}
			hits = append(hits, models.ScoredChunk{
				ChunkID:    e.ChunkID,
				DocumentID: e.DocumentID,
				Position:   e.Position,
				Score:      Dot(q, e.Vector),
			})
		}
	}

	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of vectors stored for a document.
func (m *MemoryIndex) Count(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[documentID])
}
