package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	middleware "github.com/markdave123-py/docground/internal/api/middlewares"
	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/models"
	"github.com/markdave123-py/docground/internal/services"
)

// MaxUploadBytes caps a single uploaded file.
const MaxUploadBytes = 50 << 20

type DocumentService interface {
	Upload(ctx context.Context, sessionID, filename, contentType string, data []byte) (*services.UploadResult, error)
	Get(ctx context.Context, sessionID, id string) (*models.Document, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.Document, error)
	Delete(ctx context.Context, sessionID, id string) error
	Reingest(ctx context.Context, sessionID, id string) (*models.Document, error)
}

type DocumentHandler struct {
	docs DocumentService
}

func NewDocumentHandler(docs DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// UploadDocument stores the file and queues it for background ingestion.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "session_id not found in context", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing form file \"file\"", core.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read upload: %v", core.ErrInvalidInput, err))
		return
	}
	if len(data) > MaxUploadBytes {
		writeError(w, fmt.Errorf("%w: file larger than %d bytes", core.ErrInvalidInput, MaxUploadBytes))
		return
	}

	res, err := h.docs.Upload(r.Context(), sessionID, filepath.Base(header.Filename), header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "session_id not found in context", http.StatusUnauthorized)
		return
	}

	documents, err := h.docs.ListBySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if documents == nil {
		documents = []models.Document{}
	}
	writeJSON(w, http.StatusOK, documents)
}

// GetDocument reports ingestion status and failure reason.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "session_id not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.docs.Get(r.Context(), sessionID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "session_id not found in context", http.StatusUnauthorized)
		return
	}

	if err := h.docs.Delete(r.Context(), sessionID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ReingestDocument(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "session_id not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.docs.Reingest(r.Context(), sessionID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}
