package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/markdave123-py/docground/internal/core"
	objectclient "github.com/markdave123-py/docground/internal/core/object-client"
	"github.com/markdave123-py/docground/internal/models"
)

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	index core.VectorIndex,
	embedder DocumentEmbedder,
	extractor core.DocumentExtractor,
	cfg IngestConfig,
) (*DocumentIngestor, error) {
	cfg = cfg.withDefaults()
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &DocumentIngestor{
		db:        db,
		obj:       obj,
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		chunker:   chunker,
		locks:     NewLockTable(),
		cfg:       cfg,
		jobs:      make(chan string, cfg.QueueSize),
		newID:     uuid.NewString,
	}, nil
}

// Start runs numWorkers goroutines reading from the jobs channel.
// Each one orchestrates the pipeline that extracts, chunks, embeds and indexes docs.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {

	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					log.Println("DocumentIngestor: Worker shutting down.")
					return
				case docID := <-i.jobs:
					log.Printf("DocumentIngestor: Processing document %s by worker with ID %d", docID, w)

					if err := i.ProcessOne(ctx, docID); err != nil {
						log.Printf("DocumentIngestor: Error processing document %s: %v", docID, err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document ID for ingestion.
// If the queue is full, this call will block until space frees up.
func (i *DocumentIngestor) Enqueue(docID string) {
	i.jobs <- docID
}

// Running reports whether a run currently owns docID in this process.
func (i *DocumentIngestor) Running(docID string) bool {
	return i.locks.Held(docID)
}

// Claim takes docID's run lock without starting a run, so ProcessOne refuses
// the document until release is called. ok is false when a run holds it.
func (i *DocumentIngestor) Claim(docID string) (release func(), ok bool) {
	if !i.locks.TryLock(docID) {
		return nil, false
	}
	return func() { i.locks.Unlock(docID) }, true
}

// ProcessOne runs extract, chunk, embed and index for a single document, in
// that order. Only documents that are pending or failed may start a run; a
// second request for a document with a run in flight gets ErrIngestionInProgress.
//
// The run is detached from ctx cancellation and bounded by ProcessTimeout, so
// a caller going away does not leave the document half processed.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	if !i.locks.TryLock(docID) {
		return fmt.Errorf("%w: %s", core.ErrIngestionInProgress, docID)
	}
	defer i.locks.Unlock(docID)

	proctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.ProcessTimeout)
	defer cancel()

	err := i.db.TransitionStatus(proctx, docID,
		[]models.DocumentStatus{models.StatusPending, models.StatusFailed}, models.StatusExtracting)
	if err != nil {
		return i.claimError(proctx, docID, err)
	}

	started := time.Now()
	n, provider, err := i.run(proctx, docID)
	if err != nil {
		i.fail(docID, err)
		return err
	}

	log.Printf("DocumentIngestor: document %s ready with %d chunks via %s in %s", docID, n, provider, time.Since(started).Round(time.Millisecond))
	return nil
}

// claimError explains why a document could not be moved into extracting.
func (i *DocumentIngestor) claimError(ctx context.Context, docID string, err error) error {
	if !errors.Is(err, core.ErrStatusConflict) {
		return err
	}
	doc, gerr := i.db.GetDocumentByID(ctx, docID)
	if gerr == nil && doc.Status.InProgress() {
		return fmt.Errorf("%w: %s is %s", core.ErrIngestionInProgress, docID, doc.Status)
	}
	return err
}

func (i *DocumentIngestor) run(ctx context.Context, docID string) (int, string, error) {
	doc, err := i.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return 0, "", fmt.Errorf("load document: %w", err)
	}

	bucket, key, err := objectclient.ParseObjectURL(doc.StorageURL)
	if err != nil {
		return 0, "", err
	}
	data, err := i.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return 0, "", fmt.Errorf("get object: %w", err)
	}

	ex, err := i.extractor.Extract(ctx, data, doc.FileName, doc.ContentType)
	if err != nil {
		return 0, "", err
	}
	if len(ex.PageErrors) > 0 {
		log.Printf("DocumentIngestor: document %s recovered %d of %d pages by OCR", docID, ex.OCRPages, ex.Pages)
	}

	if err := i.advance(ctx, docID, models.StatusExtracting, models.StatusChunking); err != nil {
		return 0, "", err
	}

	parts := i.chunker.Split(ex.Text)
	if len(parts) == 0 {
		return 0, "", fmt.Errorf("%w: no text extracted from %s", core.ErrEmptyDocument, doc.FileName)
	}

	// vectors from an earlier run must never outlive the chunks they point to
	if err := i.index.Delete(ctx, docID); err != nil {
		return 0, "", fmt.Errorf("clear index: %w", err)
	}

	chunks := make([]models.DocumentChunk, len(parts))
	texts := make([]string, len(parts))
	for n, p := range parts {
		chunks[n] = models.DocumentChunk{
			ID:          i.newID(),
			DocumentID:  docID,
			Position:    p.Pos,
			Text:        p.Text,
			StartOffset: p.Start,
			EndOffset:   p.End,
			TokenCount:  p.TokenCnt,
		}
		texts[n] = p.Text
	}
	if err := i.db.ReplaceDocumentChunks(ctx, docID, chunks); err != nil {
		return 0, "", fmt.Errorf("persist chunks: %w", err)
	}

	if err := i.advance(ctx, docID, models.StatusChunking, models.StatusEmbedding); err != nil {
		return 0, "", err
	}

	provider, vectors, err := i.embedder.EmbedDocument(ctx, texts)
	if err != nil {
		return 0, "", err
	}
	if len(vectors) != len(chunks) {
		return 0, "", fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	entries := make([]models.VectorEntry, len(chunks))
	for n, ch := range chunks {
		entries[n] = models.VectorEntry{
			ChunkID:    ch.ID,
			DocumentID: docID,
			SessionID:  doc.SessionID,
			Position:   ch.Position,
			Provider:   provider,
			Vector:     vectors[n],
		}
	}
	if err := i.index.Upsert(ctx, entries); err != nil {
		return 0, "", fmt.Errorf("index vectors: %w", err)
	}

	if err := i.db.MarkDocumentReady(ctx, docID, provider, len(chunks)); err != nil {
		return 0, "", fmt.Errorf("mark ready: %w", err)
	}
	return len(chunks), provider, nil
}

func (i *DocumentIngestor) advance(ctx context.Context, docID string, from, to models.DocumentStatus) error {
	if err := i.db.TransitionStatus(ctx, docID, []models.DocumentStatus{from}, to); err != nil {
		return fmt.Errorf("advance to %s: %w", to, err)
	}
	return nil
}

// fail records the reason and removes whatever the run wrote so far. It uses
// its own context because the run's context may already be expired.
func (i *DocumentIngestor) fail(docID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := i.index.Delete(ctx, docID); err != nil {
		log.Printf("DocumentIngestor: clearing vectors of %s: %v", docID, err)
	}
	if err := i.db.ReplaceDocumentChunks(ctx, docID, nil); err != nil {
		log.Printf("DocumentIngestor: clearing chunks of %s: %v", docID, err)
	}

	reason := core.FailureReason(cause)
	if err := i.db.MarkDocumentFailed(ctx, docID, reason); err != nil {
		log.Printf("DocumentIngestor: marking %s failed: %v", docID, err)
		return
	}
	log.Printf("DocumentIngestor: document %s failed (%s): %v", docID, reason, cause)
}
