package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePDF struct {
	text  string
	pages int
	err   error
}

func (f fakePDF) ReadText(context.Context, []byte) (string, int, error) {
	return f.text, f.pages, f.err
}

type fakeRenderer struct {
	images [][]byte
	err    error
	calls  atomic.Int32
}

func (f *fakeRenderer) RenderPages(context.Context, []byte) ([][]byte, error) {
	f.calls.Add(1)
	return f.images, f.err
}

// fakeOCR maps image bytes to recognised text.
type fakeOCR struct {
	texts map[string]string
	errs  map[string]error
	calls atomic.Int32
}

func (f *fakeOCR) Recognize(_ context.Context, image []byte) (string, error) {
	f.calls.Add(1)
	if err := f.errs[string(image)]; err != nil {
		return "", err
	}
	return f.texts[string(image)], nil
}

func newTestExtractor(pdf PDFTextReader, renderer PageRenderer, ocr OCREngine) *DocconvExtractor {
	cfg := ExtractorConfig{MinCharsPerPage: 100}
	return &DocconvExtractor{cfg: cfg.withDefaults(), pdf: pdf, renderer: renderer, ocr: ocr}
}

func threePages() [][]byte {
	return [][]byte{[]byte("page-1"), []byte("page-2"), []byte("page-3")}
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor(fakePDF{}, nil, nil)

	ex, err := e.Extract(context.Background(), []byte("Refunds are issued within 14 days."), "policy.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ex.ContentType)
	assert.Equal(t, "Refunds are issued within 14 days.", ex.Text)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e := newTestExtractor(fakePDF{}, nil, nil)

	_, err := e.Extract(context.Background(), []byte{0x50, 0x4b, 0x03, 0x04}, "archive.zip", "application/zip")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestExtractPDFWithTextLayerSkipsOCR(t *testing.T) {
	renderer := &fakeRenderer{images: threePages()}
	ocr := &fakeOCR{}
	layer := strings.Repeat("Section 2 covers refunds and returns. ", 10)
	e := newTestExtractor(fakePDF{text: layer, pages: 1}, renderer, ocr)

	ex, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "policy.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, layer, ex.Text)
	assert.Zero(t, ex.OCRPages)
	assert.Zero(t, renderer.calls.Load())
	assert.Zero(t, ocr.calls.Load())
}

func TestExtractScannedPDFFallsBackToOCR(t *testing.T) {
	renderer := &fakeRenderer{images: threePages()}
	ocr := &fakeOCR{texts: map[string]string{
		"page-1": "First page text.",
		"page-2": "Second page text.",
		"page-3": "Third page text.",
	}}
	e := newTestExtractor(fakePDF{text: " \n ", pages: 3}, renderer, ocr)

	ex, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ex.ContentType)
	assert.Equal(t, "First page text.\n\nSecond page text.\n\nThird page text.", ex.Text)
	assert.Equal(t, 3, ex.Pages)
	assert.Equal(t, 3, ex.OCRPages)
	assert.Empty(t, ex.PageErrors)
}

func TestExtractScannedPDFRecordsPageFailures(t *testing.T) {
	renderer := &fakeRenderer{images: threePages()}
	ocr := &fakeOCR{
		texts: map[string]string{"page-1": "First page text.", "page-3": "Third page text."},
		errs:  map[string]error{"page-2": errors.New("tesseract: bad image")},
	}
	e := newTestExtractor(fakePDF{pages: 3}, renderer, ocr)

	ex, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "First page text.\n\nThird page text.", ex.Text)
	assert.Equal(t, 2, ex.OCRPages)
	require.Contains(t, ex.PageErrors, 2)
	assert.Len(t, ex.PageErrors, 1)
}

func TestExtractScannedPDFWithNoRecoverablePages(t *testing.T) {
	renderer := &fakeRenderer{images: threePages()}
	ocr := &fakeOCR{texts: map[string]string{"page-1": "  "}, errs: map[string]error{
		"page-2": errors.New("timeout"),
		"page-3": errors.New("timeout"),
	}}
	e := newTestExtractor(fakePDF{pages: 3}, renderer, ocr)

	_, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf", "application/pdf")
	assert.ErrorIs(t, err, core.ErrExtractionFailure)
}

func TestExtractSparseTextLayerSurvivesFailedOCR(t *testing.T) {
	renderer := &fakeRenderer{images: threePages()}
	ocr := &fakeOCR{errs: map[string]error{
		"page-1": errors.New("timeout"),
		"page-2": errors.New("timeout"),
		"page-3": errors.New("timeout"),
	}}
	e := newTestExtractor(fakePDF{text: "Figure 1. Floor plan.", pages: 3}, renderer, ocr)

	ex, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "plans.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Figure 1. Floor plan.", ex.Text)
	assert.Equal(t, 3, ex.Pages)
	assert.Zero(t, ex.OCRPages)
	assert.Equal(t, int32(3), ocr.calls.Load())

	renderer = &fakeRenderer{err: errors.New("pdftoppm: exit status 1")}
	e = newTestExtractor(fakePDF{text: "Figure 1. Floor plan.", pages: 3}, renderer, ocr)
	ex, err = e.Extract(context.Background(), []byte("%PDF-1.7"), "plans.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Figure 1. Floor plan.", ex.Text)
}

func TestExtractScannedPDFWithoutOCR(t *testing.T) {
	e := newTestExtractor(fakePDF{pages: 2}, nil, nil)

	_, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf", "application/pdf")
	assert.ErrorIs(t, err, core.ErrExtractionFailure)
}

func TestExtractRenderFailure(t *testing.T) {
	renderer := &fakeRenderer{err: errors.New("pdftoppm: exit status 1")}
	e := newTestExtractor(fakePDF{pages: 2}, renderer, &fakeOCR{})

	_, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "scan.pdf", "application/pdf")
	assert.ErrorIs(t, err, core.ErrExtractionFailure)
}

func TestExtractImageUsesOCR(t *testing.T) {
	ocr := &fakeOCR{texts: map[string]string{"png-bytes": "Receipt total 42"}}
	e := newTestExtractor(fakePDF{}, nil, ocr)

	ex, err := e.Extract(context.Background(), []byte("png-bytes"), "receipt.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Receipt total 42", ex.Text)
	assert.Equal(t, 1, ex.OCRPages)
}

func TestResolveContentType(t *testing.T) {
	tests := []struct {
		name, file, declared string
		data                 []byte
		want                 string
	}{
		{"declared wins", "a.bin", "text/markdown; charset=utf-8", nil, "text/markdown"},
		{"octet stream falls through", "a.pdf", "application/octet-stream", nil, "application/pdf"},
		{"extension table", "notes.MD", "", nil, "text/markdown"},
		{"sniffed", "upload", "", []byte("%PDF-1.7\n"), "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveContentType(tt.file, tt.declared, tt.data))
		})
	}
}
