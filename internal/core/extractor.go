package core

import (
	"context"
)

// Extraction represents the result of text extraction from one uploaded file.
type Extraction struct {
	Text        string
	ContentType string
	Pages       int
	// OCRPages counts pages whose text came from optical character recognition.
	OCRPages int
	// PageErrors holds OCR failures keyed by 1-based page number.
	PageErrors map[int]error
}

// DocumentExtractor defines the interface for extracting text from various document types.
type DocumentExtractor interface {
	// Extract converts raw file bytes into plain text. The contentType hint
	// selects the parsing strategy; fileName is used when the hint is empty.
	Extract(ctx context.Context, data []byte, fileName, contentType string) (*Extraction, error)
}
