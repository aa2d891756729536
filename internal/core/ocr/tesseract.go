package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognises text in page images through libtesseract.
type Tesseract struct {
	languages []string
}

// NewTesseract builds an OCR engine for the given tesseract language codes.
// An empty list uses tesseract's default ("eng").
func NewTesseract(languages ...string) *Tesseract {
	return &Tesseract{languages: languages}
}

// Recognize returns the text found in an encoded image (PNG, JPEG, TIFF).
// A gosseract client is not safe for concurrent use, so each call gets its own.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		client := gosseract.NewClient()
		defer client.Close()

		if len(t.languages) > 0 {
			if err := client.SetLanguage(t.languages...); err != nil {
				done <- result{err: fmt.Errorf("set language: %w", err)}
				return
			}
		}
		if err := client.SetImageFromBytes(image); err != nil {
			done <- result{err: fmt.Errorf("load image: %w", err)}
			return
		}
		text, err := client.Text()
		done <- result{text: strings.TrimSpace(text), err: err}
	}()

	// the cgo call cannot be interrupted; on timeout its result is discarded
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}
