// Package retrieval turns a query into ranked, merged context blocks from the
// ready documents of a session.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/core/vectorindex"
	"github.com/markdave123-py/docground/internal/models"
)

// QueryEmbedder embeds a query in the vector space of a named provider.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, provider, text string) ([]float32, error)
	HasProvider(name string) bool
}

// Config tunes Search.
//
// QueryVariations also searches with rephrasings of the query and keeps each
// chunk's best score.
type Config struct {
	TopK            int
	MinSimilarity   float64
	QueryVariations bool
}

type Retriever struct {
	db       core.DbClient
	index    core.VectorIndex
	embedder QueryEmbedder
	cfg      Config
}

func NewRetriever(db core.DbClient, index core.VectorIndex, embedder QueryEmbedder, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Retriever{db: db, index: index, embedder: embedder, cfg: cfg}
}

// Search retrieves with the configured top-k and similarity threshold.
func (r *Retriever) Search(ctx context.Context, sessionID, query string) ([]models.RetrievalResult, error) {
	return r.Retrieve(ctx, sessionID, query, r.cfg.TopK, r.cfg.MinSimilarity)
}

// Retrieve returns context blocks for query from the session's ready documents.
//
// At most k chunks are kept across all embedding providers. Chunks scoring
// below minSimilarity are dropped, then adjacent survivors of a document are
// merged into one block. An empty result is not an error. When every ready
// document was embedded by a provider that is no longer configured,
// ErrRetrievalProviderMismatch is returned.
func (r *Retriever) Retrieve(ctx context.Context, sessionID, query string, k int, minSimilarity float64) ([]models.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", core.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, nil
	}

	docs, err := r.db.ListDocumentsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	byProvider := make(map[string][]string)
	byID := make(map[string]models.Document)
	for _, d := range docs {
		if d.Status != models.StatusReady {
			continue
		}
		byProvider[d.EmbeddingProvider] = append(byProvider[d.EmbeddingProvider], d.ID)
		byID[d.ID] = d
	}
	if len(byID) == 0 {
		return nil, nil
	}

	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	queries := []string{query}
	if r.cfg.QueryVariations {
		queries = Variations(query)
	}

	best := make(map[string]models.ScoredChunk)
	searched := 0
	for _, p := range providers {
		if !r.embedder.HasProvider(p) {
			log.Printf("Retriever: skipping %d documents embedded by unconfigured provider %q", len(byProvider[p]), p)
			continue
		}
		searched++

		for _, q := range queries {
			vec, err := r.embedder.EmbedQuery(ctx, p, q)
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			found, err := r.index.Query(ctx, vec, k, core.VectorFilter{
				SessionID:   sessionID,
				DocumentIDs: byProvider[p],
				Provider:    p,
			})
			if err != nil {
				return nil, fmt.Errorf("query index: %w", err)
			}
			for _, h := range found {
				if prev, ok := best[h.ChunkID]; !ok || h.Score > prev.Score {
					best[h.ChunkID] = h
				}
			}
		}
	}
	if searched == 0 {
		return nil, fmt.Errorf("%w: no ready document in session %s matches a configured provider", core.ErrRetrievalProviderMismatch, sessionID)
	}

	hits := make([]models.ScoredChunk, 0, len(best))
	for _, h := range best {
		if h.Score >= minSimilarity {
			hits = append(hits, h)
		}
	}
	vectorindex.SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := r.db.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	chunkByID := make(map[string]models.DocumentChunk, len(chunks))
	for _, ch := range chunks {
		chunkByID[ch.ID] = ch
	}

	var candidates []candidate
	for _, h := range hits {
		ch, ok := chunkByID[h.ChunkID]
		if !ok {
			// the document was deleted between the index query and the lookup
			continue
		}
		candidates = append(candidates, candidate{chunk: ch, score: h.Score})
	}

	blocks := mergeAdjacent(candidates)
	results := make([]models.RetrievalResult, 0, len(blocks))
	for _, b := range blocks {
		results = append(results, b.result(byID[b[0].chunk.DocumentID].FileName))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].FirstSeq < results[j].FirstSeq
	})

	log.Printf("Retriever: %d chunks in %d blocks above %.2f for session %s", len(candidates), len(results), minSimilarity, sessionID)
	return results, nil
}

// Variations returns the query followed by rephrasings that pull in chunks
// phrased differently from the question. Duplicates are removed.
func Variations(query string) []string {
	query = strings.TrimSpace(query)
	all := []string{
		query,
		"find information about " + query,
		"what does the document say about " + query,
		"find content related to " + query,
		strings.TrimSpace(strings.ReplaceAll(query, "?", "")),
		"extract information about " + query,
	}
	out := make([]string, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, q := range all {
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

type candidate struct {
	chunk models.DocumentChunk
	score float64
}

// block is a run of candidates with consecutive positions in one document.
type block []candidate

// mergeAdjacent groups candidates by document and joins consecutive positions.
func mergeAdjacent(cands []candidate) []block {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].chunk.DocumentID != cands[j].chunk.DocumentID {
			return cands[i].chunk.DocumentID < cands[j].chunk.DocumentID
		}
		return cands[i].chunk.Position < cands[j].chunk.Position
	})

	var out []block
	for _, c := range cands {
		if n := len(out); n > 0 {
			last := out[n-1][len(out[n-1])-1]
			if last.chunk.DocumentID == c.chunk.DocumentID && c.chunk.Position == last.chunk.Position+1 {
				out[n-1] = append(out[n-1], c)
				continue
			}
		}
		out = append(out, block{c})
	}
	return out
}

func (b block) result(fileName string) models.RetrievalResult {
	first, last := b[0].chunk, b[len(b)-1].chunk
	res := models.RetrievalResult{
		DocumentID: first.DocumentID,
		FileName:   fileName,
		FirstSeq:   first.Position,
		LastSeq:    last.Position,
		Start:      first.StartOffset,
		End:        last.EndOffset,
		Score:      b[0].score,
	}

	var text strings.Builder
	end := first.StartOffset
	for _, c := range b {
		res.ChunkIDs = append(res.ChunkIDs, c.chunk.ID)
		res.Score = max(res.Score, c.score)

		runes := []rune(c.chunk.Text)
		skip := max(end-c.chunk.StartOffset, 0)
		if skip < len(runes) {
			text.WriteString(string(runes[skip:]))
		}
		end = max(end, c.chunk.EndOffset)
	}
	res.Text = text.String()
	return res
}
