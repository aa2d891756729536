package ingestion_engine

import (
	"context"
	"time"

	"github.com/markdave123-py/docground/internal/core"
)

// IngestConfig tunes the background pipeline.
//
// ChunkSize:      maximum characters per chunk.
// ChunkOverlap:   characters shared by consecutive chunks.
// ProcessTimeout: upper bound for one document run, end to end.
// QueueSize:      buffered job slots before Enqueue blocks.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	ProcessTimeout time.Duration
	QueueSize      int
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 10 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// chunk is the internal representation passed through the pipeline.
//
// Pos:      stable, zero-based position of the chunk inside the document.
// Text:     chunk content.
// Start:    rune offset of the first character, inclusive.
// End:      rune offset after the last character.
// TokenCnt: approximate token count.
type chunk struct {
	Pos      int
	Text     string
	Start    int
	End      int
	TokenCnt int
}

// DocumentEmbedder embeds every chunk of one document with a single provider
// and reports which provider produced the vectors.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, texts []string) (provider string, vectors [][]float32, err error)
}

// DocumentIngestor orchestrates the background ingestion pipeline:
//
// db:        persistence for documents and chunks.
// obj:       object storage holding the raw uploads.
// index:     vector index written once all embeddings succeed.
// embedder:  provider-aware embedding adapter.
// extractor: bytes to plain text, with OCR fallback.
// locks:     per-document single-writer guard.
// jobs:      in-memory queue of document IDs to process.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	index     core.VectorIndex
	embedder  DocumentEmbedder
	extractor core.DocumentExtractor
	chunker   *Chunker
	locks     *LockTable
	cfg       IngestConfig
	jobs      chan string
	newID     func() string
}

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv,
// falling back to page rendering and OCR for scanned PDFs.
type DocconvExtractor struct {
	cfg      ExtractorConfig
	pdf      PDFTextReader
	renderer PageRenderer
	ocr      OCREngine
}
