package retrieval

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/core/database/memory"
	"github.com/markdave123-py/docground/internal/core/vectorindex"
	"github.com/markdave123-py/docground/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder embeds every query as the x axis of the provider's space.
type fakeEmbedder struct {
	providers map[string]bool
	calls     map[string]int
}

func newFakeEmbedder(providers ...string) *fakeEmbedder {
	f := &fakeEmbedder{providers: map[string]bool{}, calls: map[string]int{}}
	for _, p := range providers {
		f.providers[p] = true
	}
	return f
}

func (f *fakeEmbedder) HasProvider(name string) bool { return f.providers[name] }

func (f *fakeEmbedder) EmbedQuery(_ context.Context, provider, _ string) ([]float32, error) {
	if !f.providers[provider] {
		return nil, core.ErrRetrievalProviderMismatch
	}
	f.calls[provider]++
	return []float32{1, 0, 0}, nil
}

// at returns a unit vector whose cosine similarity to the x axis is s.
func at(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s)), 0}
}

type fixture struct {
	store *memory.Store
	index *vectorindex.MemoryIndex
}

func newFixture() *fixture {
	return &fixture{store: memory.NewStore(), index: vectorindex.NewMemoryIndex()}
}

type seedChunk struct {
	text       string
	start, end int
	score      float64
}

func (f *fixture) addDoc(t *testing.T, id, status, provider string, chunks ...seedChunk) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{
		ID:                id,
		SessionID:         "session-1",
		FileName:          id + ".txt",
		Status:            models.DocumentStatus(status),
		EmbeddingProvider: provider,
		ChunkCount:        len(chunks),
	}))

	rows := make([]models.DocumentChunk, len(chunks))
	entries := make([]models.VectorEntry, len(chunks))
	for i, c := range chunks {
		chunkID := fmt.Sprintf("%s-c%d", id, i)
		rows[i] = models.DocumentChunk{
			ID: chunkID, DocumentID: id, Position: i,
			Text: c.text, StartOffset: c.start, EndOffset: c.end,
		}
		entries[i] = models.VectorEntry{
			ChunkID: chunkID, DocumentID: id, SessionID: "session-1",
			Position: i, Provider: provider, Vector: at(c.score),
		}
	}
	require.NoError(t, f.store.ReplaceDocumentChunks(ctx, id, rows))
	if len(entries) > 0 {
		require.NoError(t, f.index.Upsert(ctx, entries))
	}
}

func (f *fixture) retriever(embedder QueryEmbedder) *Retriever {
	return NewRetriever(f.store, f.index, embedder, Config{TopK: 5, MinSimilarity: 0.75})
}

func TestRetrieveThresholdScenario(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "policy", "ready", "fake/a",
		seedChunk{text: "Section 1 covers shipping.", start: 0, end: 26, score: 0.40},
		seedChunk{text: "Section 2: refunds are issued within 14 days.", start: 27, end: 73, score: 0.86},
	)
	r := f.retriever(newFakeEmbedder("fake/a"))
	query := "What does section 2 say about refunds?"

	got, err := r.Retrieve(context.Background(), "session-1", query, 5, 0.75)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"policy-c1"}, got[0].ChunkIDs)
	assert.InDelta(t, 0.86, got[0].Score, 1e-4)
	assert.Equal(t, "policy.txt", got[0].FileName)

	got, err = r.Retrieve(context.Background(), "session-1", query, 5, 0.9)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveMergesAdjacentChunks(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "doc", "ready", "fake/a",
		seedChunk{text: "0123456789", start: 0, end: 10, score: 0.20},
		seedChunk{text: "abcdefghij", start: 10, end: 20, score: 0.86},
		seedChunk{text: "fghijklmno", start: 15, end: 25, score: 0.80},
		seedChunk{text: "pqrstuvwxy", start: 25, end: 35, score: 0.10},
	)
	r := f.retriever(newFakeEmbedder("fake/a"))

	got, err := r.Search(context.Background(), "session-1", "letters")
	require.NoError(t, err)
	require.Len(t, got, 1)

	b := got[0]
	assert.Equal(t, []string{"doc-c1", "doc-c2"}, b.ChunkIDs)
	assert.Equal(t, 1, b.FirstSeq)
	assert.Equal(t, 2, b.LastSeq)
	assert.Equal(t, 10, b.Start)
	assert.Equal(t, 25, b.End)
	assert.Equal(t, "abcdefghijklmno", b.Text, "overlapping text appears once")
	assert.InDelta(t, 0.86, b.Score, 1e-4)
}

func TestRetrieveDropsLowScoringChunkInsideRun(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "doc", "ready", "fake/a",
		seedChunk{text: "AAA relevant.", start: 0, end: 13, score: 0.90},
		seedChunk{text: "BBB irrelevant.", start: 13, end: 28, score: 0.10},
		seedChunk{text: "CCC relevant.", start: 28, end: 41, score: 0.90},
	)
	r := f.retriever(newFakeEmbedder("fake/a"))

	got, err := r.Search(context.Background(), "session-1", "q")
	require.NoError(t, err)
	require.Len(t, got, 2)

	var ids []string
	for _, res := range got {
		assert.NotContains(t, res.Text, "BBB")
		ids = append(ids, res.ChunkIDs...)
	}
	assert.ElementsMatch(t, []string{"doc-c0", "doc-c2"}, ids)
}

func TestRetrieveMonotonicInThreshold(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "a", "ready", "fake/a",
		seedChunk{text: "a0", start: 0, end: 2, score: 0.91},
		seedChunk{text: "a1", start: 2, end: 4, score: 0.30},
		seedChunk{text: "a2", start: 4, end: 6, score: 0.78},
		seedChunk{text: "a3", start: 6, end: 8, score: 0.84},
	)
	f.addDoc(t, "b", "ready", "fake/a",
		seedChunk{text: "b0", start: 0, end: 2, score: 0.66},
		seedChunk{text: "b1", start: 2, end: 4, score: -0.2},
		seedChunk{text: "b2", start: 4, end: 6, score: 0.95},
	)
	r := f.retriever(newFakeEmbedder("fake/a"))

	chunkIDs := func(results []models.RetrievalResult) []string {
		var ids []string
		for _, res := range results {
			ids = append(ids, res.ChunkIDs...)
		}
		return ids
	}

	for _, k := range []int{3, 10} {
		var prev []string
		for th := -1.0; th <= 1.0; th += 0.05 {
			got, err := r.Retrieve(context.Background(), "session-1", "q", k, th)
			require.NoError(t, err)
			ids := chunkIDs(got)
			if prev != nil {
				assert.LessOrEqual(t, len(ids), len(prev), "k=%d threshold %.2f", k, th)
				assert.Subset(t, prev, ids, "k=%d threshold %.2f", k, th)
			}
			prev = ids
		}
	}
}

func TestRetrieveOrdersByScore(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "low", "ready", "fake/a", seedChunk{text: "low", start: 0, end: 3, score: 0.80})
	f.addDoc(t, "high", "ready", "fake/a", seedChunk{text: "high", start: 0, end: 4, score: 0.95})
	r := f.retriever(newFakeEmbedder("fake/a"))

	got, err := r.Search(context.Background(), "session-1", "q")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].DocumentID)
	assert.Equal(t, "low", got[1].DocumentID)
}

func TestRetrieveNoReadyDocuments(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "pending", "pending", "")
	r := f.retriever(newFakeEmbedder("fake/a"))

	got, err := r.Search(context.Background(), "session-1", "q")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveProviderMismatch(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "old", "ready", "retired/model", seedChunk{text: "old text", start: 0, end: 8, score: 0.99})
	embedder := newFakeEmbedder("fake/a")
	r := f.retriever(embedder)

	_, err := r.Search(context.Background(), "session-1", "q")
	assert.ErrorIs(t, err, core.ErrRetrievalProviderMismatch)
	assert.Zero(t, embedder.calls["retired/model"])
}

func TestRetrieveSkipsIncompatibleDocuments(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "old", "ready", "retired/model", seedChunk{text: "old text", start: 0, end: 8, score: 0.99})
	f.addDoc(t, "new", "ready", "fake/a", seedChunk{text: "new text", start: 0, end: 8, score: 0.90})
	r := f.retriever(newFakeEmbedder("fake/a"))

	got, err := r.Search(context.Background(), "session-1", "q")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].DocumentID)
}

func TestRetrieveQueriesEachProviderInItsOwnSpace(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "one", "ready", "fake/a", seedChunk{text: "one", start: 0, end: 3, score: 0.90})
	f.addDoc(t, "two", "ready", "fake/b", seedChunk{text: "two", start: 0, end: 3, score: 0.85})
	embedder := newFakeEmbedder("fake/a", "fake/b")
	r := f.retriever(embedder)

	got, err := r.Search(context.Background(), "session-1", "q")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, embedder.calls["fake/a"])
	assert.Equal(t, 1, embedder.calls["fake/b"])
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	r := newFixture().retriever(newFakeEmbedder("fake/a"))
	_, err := r.Search(context.Background(), "session-1", "  ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRetrieveCapsChunksAcrossProviders(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "one", "ready", "fake/a", seedChunk{text: "one", start: 0, end: 3, score: 0.90})
	f.addDoc(t, "two", "ready", "fake/b", seedChunk{text: "two", start: 0, end: 3, score: 0.85})
	r := f.retriever(newFakeEmbedder("fake/a", "fake/b"))

	got, err := r.Retrieve(context.Background(), "session-1", "q", 1, 0.75)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].DocumentID)
}

func TestRetrieveWithQueryVariations(t *testing.T) {
	f := newFixture()
	f.addDoc(t, "policy", "ready", "fake/a",
		seedChunk{text: "Refunds within 14 days.", start: 0, end: 23, score: 0.88},
	)
	embedder := newFakeEmbedder("fake/a")
	r := NewRetriever(f.store, f.index, embedder, Config{TopK: 5, MinSimilarity: 0.75, QueryVariations: true})

	query := "refund window?"
	got, err := r.Search(context.Background(), "session-1", query)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"policy-c0"}, got[0].ChunkIDs, "each chunk is kept once")
	assert.Equal(t, len(Variations(query)), embedder.calls["fake/a"])
}

func TestVariations(t *testing.T) {
	got := Variations("  refund window?  ")
	assert.Equal(t, "refund window?", got[0])
	assert.Contains(t, got, "refund window")
	assert.Contains(t, got, "what does the document say about refund window?")
	assert.Len(t, got, 6)

	assert.Len(t, Variations("refunds"), 5, "the question-mark free form is not repeated")
}
