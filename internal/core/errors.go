package core

import "errors"

var (
	ErrUnsupportedFormat           = errors.New("unsupported format")
	ErrExtractionFailure           = errors.New("extraction failure")
	ErrEmptyDocument               = errors.New("empty document")
	ErrEmbeddingServiceUnavailable = errors.New("embedding service unavailable")
	ErrEmbeddingQuotaExceeded      = errors.New("embedding quota exceeded")
	ErrGenerationFailure           = errors.New("generation failure")
	ErrRetrievalProviderMismatch   = errors.New("retrieval provider mismatch")

	ErrDocumentNotFound    = errors.New("document not found")
	ErrIngestionInProgress = errors.New("ingestion already in progress")
	ErrStatusConflict      = errors.New("document status conflict")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrInvalidInput        = errors.New("invalid input")
)

// Machine-readable failure reasons stored on failed documents.
const (
	ReasonUnsupportedFormat           = "UnsupportedFormat"
	ReasonExtractionFailure           = "ExtractionFailure"
	ReasonEmptyDocument               = "EmptyDocument"
	ReasonEmbeddingServiceUnavailable = "EmbeddingServiceUnavailable"
	ReasonEmbeddingQuotaExceeded      = "EmbeddingQuotaExceeded"
	ReasonInternal                    = "InternalError"
)

// FailureReason maps an ingestion error to the reason recorded on the document.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return ReasonUnsupportedFormat
	case errors.Is(err, ErrExtractionFailure):
		return ReasonExtractionFailure
	case errors.Is(err, ErrEmptyDocument):
		return ReasonEmptyDocument
	case errors.Is(err, ErrEmbeddingQuotaExceeded):
		return ReasonEmbeddingQuotaExceeded
	case errors.Is(err, ErrEmbeddingServiceUnavailable):
		return ReasonEmbeddingServiceUnavailable
	default:
		return ReasonInternal
	}
}
