// Package vectorindex holds the in-memory vector index and the similarity
// helpers shared by every index backend.
package vectorindex

import (
	"fmt"
	"math"
	"sort"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/models"
)

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", core.ErrInvalidInput)
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: zero vector", core.ErrInvalidInput)
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}

// Dot is the cosine similarity of two unit vectors.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// SortHits orders hits by score descending, then position ascending. Chunk id
// settles the rest so equal inputs always give equal output.
func SortHits(hits []models.ScoredChunk) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Position != hits[j].Position {
			return hits[i].Position < hits[j].Position
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// ValidateEntries checks that every entry is usable and that vectors of one
// provider share a dimension, both within the batch and against known.
// It returns the dimension per provider seen in the batch.
func ValidateEntries(entries []models.VectorEntry, known map[string]int) (map[string]int, error) {
	dims := make(map[string]int)
	for _, e := range entries {
		if e.ChunkID == "" || e.DocumentID == "" || e.Provider == "" {
			return nil, fmt.Errorf("%w: vector entry needs chunk, document and provider", core.ErrInvalidInput)
		}
		want, ok := dims[e.Provider]
		if !ok {
			want, ok = known[e.Provider]
		}
		if ok && want != len(e.Vector) {
			return nil, fmt.Errorf("%w: provider %s uses %d dims, chunk %s has %d",
				core.ErrDimensionMismatch, e.Provider, want, e.ChunkID, len(e.Vector))
		}
		dims[e.Provider] = len(e.Vector)
	}
	return dims, nil
}
