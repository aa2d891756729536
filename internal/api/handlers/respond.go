package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/markdave123-py/docground/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: encode response: %v", err)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status, code, msg := http.StatusInternalServerError, "internal_error", ""

	switch {
	case errors.Is(err, core.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrDocumentNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrUnsupportedFormat):
		status, code = http.StatusUnsupportedMediaType, core.ReasonUnsupportedFormat
	case errors.Is(err, core.ErrExtractionFailure), errors.Is(err, core.ErrEmptyDocument):
		status, code = http.StatusUnprocessableEntity, core.FailureReason(err)
		msg = "this document could not be processed"
	case errors.Is(err, core.ErrIngestionInProgress):
		status, code = http.StatusConflict, "ingestion_in_progress"
	case errors.Is(err, core.ErrStatusConflict):
		status, code = http.StatusConflict, "status_conflict"
	case errors.Is(err, core.ErrRetrievalProviderMismatch):
		status, code = http.StatusConflict, "RetrievalProviderMismatch"
		msg = "documents in this session were embedded with a provider that is no longer configured; re-upload them"
	case errors.Is(err, core.ErrEmbeddingQuotaExceeded):
		status, code = http.StatusServiceUnavailable, core.ReasonEmbeddingQuotaExceeded
	case errors.Is(err, core.ErrEmbeddingServiceUnavailable):
		status, code = http.StatusServiceUnavailable, core.ReasonEmbeddingServiceUnavailable
	case errors.Is(err, core.ErrGenerationFailure):
		status, code = http.StatusBadGateway, "GenerationFailure"
		msg = "the answer could not be generated, please try again"
	}

	if status == http.StatusInternalServerError {
		log.Printf("handlers: %v", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code, Message: msg})
}
