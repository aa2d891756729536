package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/docground/internal/core/object-client"
	"github.com/markdave123-py/docground/internal/models"
)

// Scheduler queues documents for background ingestion. Claim keeps a
// document away from the workers until release is called.
type Scheduler interface {
	Enqueue(docID string)
	Running(docID string) bool
	Claim(docID string) (release func(), ok bool)
}

type DocumentService struct {
	db        core.DbClient
	storage   core.ObjectClient
	index     core.VectorIndex
	scheduler Scheduler
	bucket    string
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, index core.VectorIndex, scheduler Scheduler, bucket string) *DocumentService {
	return &DocumentService{db: db, storage: storage, index: index, scheduler: scheduler, bucket: bucket}
}

// UploadResult is the outcome of an upload. Duplicate is set when the same
// bytes were already uploaded to the session and the existing document is returned.
type UploadResult struct {
	Document  *models.Document `json:"document"`
	Duplicate bool             `json:"duplicate"`
}

// Upload stores the raw file, records a pending document and queues it.
func (s *DocumentService) Upload(ctx context.Context, sessionID, filename, contentType string, data []byte) (*UploadResult, error) {
	filename = strings.TrimSpace(filename)
	if sessionID == "" || filename == "" {
		return nil, fmt.Errorf("%w: session and file name are required", core.ErrInvalidInput)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.db.FindDocumentByHash(ctx, sessionID, hash)
	switch {
	case err == nil:
		log.Printf("DocumentService: %s already uploaded to session %s as %s", filename, sessionID, existing.ID)
		return &UploadResult{Document: existing, Duplicate: true}, nil
	case !errors.Is(err, core.ErrDocumentNotFound):
		return nil, err
	}

	docID := uuid.NewString()
	key := s.objectKey(sessionID, docID, filename)
	contentType = ingestion_engine.ResolveContentType(filename, contentType, data)

	url, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:          docID,
		SessionID:   sessionID,
		FileName:    filename,
		ContentType: contentType,
		ContentHash: hash,
		StorageURL:  url,
		Status:      models.StatusPending,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.DeleteFile(context.WithoutCancel(ctx), s.bucket, key); derr != nil {
			log.Printf("DocumentService: removing orphan object %s: %v", key, derr)
		}
		return nil, err
	}

	s.scheduler.Enqueue(docID)
	return &UploadResult{Document: doc}, nil
}

// Get returns a document of the session. Documents of other sessions are
// reported as not found.
func (s *DocumentService) Get(ctx context.Context, sessionID, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.SessionID != sessionID {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (s *DocumentService) ListBySession(ctx context.Context, sessionID string) ([]models.Document, error) {
	return s.db.ListDocumentsBySession(ctx, sessionID)
}

// Delete removes the document's vectors, chunks, record and raw object.
// Documents with an ingestion run in flight cannot be deleted, and no run can
// start while the delete holds the document.
func (s *DocumentService) Delete(ctx context.Context, sessionID, id string) error {
	if _, err := s.Get(ctx, sessionID, id); err != nil {
		return err
	}

	release, ok := s.scheduler.Claim(id)
	if !ok {
		return fmt.Errorf("%w: %s is being ingested", core.ErrIngestionInProgress, id)
	}
	defer release()

	// reread under the claim; another process may have started a run
	doc, err := s.Get(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if doc.Status.InProgress() {
		return fmt.Errorf("%w: %s is %s", core.ErrIngestionInProgress, id, doc.Status)
	}

	if err := s.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}

	if bucket, key, err := objectclient.ParseObjectURL(doc.StorageURL); err == nil {
		if err := s.storage.DeleteFile(ctx, bucket, key); err != nil {
			log.Printf("DocumentService: deleting object of %s: %v", id, err)
		}
	}
	return nil
}

// Reingest queues a failed document for another run.
func (s *DocumentService) Reingest(ctx context.Context, sessionID, id string) (*models.Document, error) {
	doc, err := s.Get(ctx, sessionID, id)
	if err != nil {
		return nil, err
	}
	switch {
	case doc.Status.InProgress() || s.scheduler.Running(id):
		return nil, fmt.Errorf("%w: %s is %s", core.ErrIngestionInProgress, id, doc.Status)
	case doc.Status != models.StatusFailed:
		return nil, fmt.Errorf("%w: only failed documents can be re-ingested, %s is %s", core.ErrStatusConflict, id, doc.Status)
	}

	s.scheduler.Enqueue(id)
	return doc, nil
}

// objectKey creates a consistent object key layout.
func (s *DocumentService) objectKey(sessionID, docID, filename string) string {
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("sessions", sessionID, "documents", docID, path.Base(filename))
}
