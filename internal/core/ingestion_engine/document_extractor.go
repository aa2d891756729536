package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"code.sajari.com/docconv"
	"github.com/markdave123-py/docground/internal/core"
	"golang.org/x/sync/errgroup"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// PDFTextReader reads the embedded text layer of a PDF and reports its page count.
type PDFTextReader interface {
	ReadText(ctx context.Context, pdf []byte) (text string, pages int, err error)
}

// PageRenderer rasterises every page of a PDF, in page order.
type PageRenderer interface {
	RenderPages(ctx context.Context, pdf []byte) ([][]byte, error)
}

// OCREngine recognises text in a single encoded image.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// ExtractorConfig tunes the OCR fallback.
//
// MinCharsPerPage: text-layer density below which a PDF is treated as scanned.
// OCRTimeout:      upper bound for rendering and for each page's recognition.
// OCRConcurrency:  pages recognised in parallel.
type ExtractorConfig struct {
	MinCharsPerPage int
	OCRTimeout      time.Duration
	OCRConcurrency  int
	UseReadability  bool
}

func (c *ExtractorConfig) withDefaults() ExtractorConfig {
	out := *c
	if out.OCRTimeout <= 0 {
		out.OCRTimeout = 60 * time.Second
	}
	if out.OCRConcurrency <= 0 {
		out.OCRConcurrency = 4
	}
	return out
}

// NewDocconvExtractor wires docconv for native formats. renderer and ocr may be
// nil, in which case scanned PDFs and images cannot be extracted.
func NewDocconvExtractor(cfg ExtractorConfig, renderer PageRenderer, ocr OCREngine) *DocconvExtractor {
	return &DocconvExtractor{
		cfg:      cfg.withDefaults(),
		pdf:      docconvPDF{},
		renderer: renderer,
		ocr:      ocr,
	}
}

type contentFamily int

const (
	familyUnsupported contentFamily = iota
	familyText
	familyDocconv
	familyPDF
	familyImage
)

var contentFamilies = map[string]contentFamily{
	"text/plain":                familyText,
	"text/markdown":             familyText,
	"text/x-markdown":           familyText,
	"text/csv":                  familyText,
	"text/tab-separated-values": familyText,
	"application/json":          familyText,

	"text/html":          familyDocconv,
	"text/xml":           familyDocconv,
	"application/xml":    familyDocconv,
	"application/rtf":    familyDocconv,
	"application/x-rtf":  familyDocconv,
	"text/rtf":           familyDocconv,
	"application/msword": familyDocconv,

	"application/vnd.oasis.opendocument.text":                                   familyDocconv,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   familyDocconv,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": familyDocconv,

	"application/pdf": familyPDF,
	"image/png":       familyImage,
	"image/jpeg":      familyImage,
	"image/tiff":      familyImage,
}

// extension table for types mime.TypeByExtension does not know on every system
var extensionTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".rtf":  "application/rtf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// ResolveContentType picks the media type used for dispatch: the declared
// type, then the file extension, then content sniffing.
func ResolveContentType(fileName, declared string, data []byte) string {
	if mt := normalizeMediaType(declared); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if mt := normalizeMediaType(mime.TypeByExtension(ext)); mt != "" {
		return mt
	}
	return normalizeMediaType(http.DetectContentType(data))
}

func normalizeMediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}

// Extract converts the raw upload into plain text.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, fileName, contentType string) (*core.Extraction, error) {
	ct := ResolveContentType(fileName, contentType, data)

	switch contentFamilies[ct] {
	case familyText:
		return &core.Extraction{Text: strings.ToValidUTF8(string(data), "�"), ContentType: ct, Pages: 1}, nil

	case familyDocconv:
		res, err := docconv.Convert(bytes.NewReader(data), ct, e.cfg.UseReadability)
		if err != nil {
			log.Printf("docconv: extraction failed for content type '%s': %v", ct, err)
			return nil, fmt.Errorf("%w: %s: %v", core.ErrExtractionFailure, ct, err)
		}
		return &core.Extraction{Text: res.Body, ContentType: ct, Pages: 1}, nil

	case familyPDF:
		ex, err := e.extractPDF(ctx, data)
		if err != nil {
			return nil, err
		}
		ex.ContentType = ct
		return ex, nil

	case familyImage:
		ex, err := e.ocrPages(ctx, [][]byte{data})
		if err != nil {
			return nil, err
		}
		ex.ContentType = ct
		return ex, nil
	}

	return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, ct)
}

func (e *DocconvExtractor) extractPDF(ctx context.Context, data []byte) (*core.Extraction, error) {
	text, pages, err := e.pdf.ReadText(ctx, data)
	if err != nil {
		// an unreadable text layer is common for scanned files; let OCR decide
		log.Printf("docconv: pdf text layer unreadable, trying OCR: %v", err)
		text = ""
	}
	if pages <= 0 {
		pages = 1
	}

	if density(text, pages) >= e.cfg.MinCharsPerPage {
		return &core.Extraction{Text: text, Pages: pages}, nil
	}

	if e.renderer == nil || e.ocr == nil {
		if strings.TrimSpace(text) != "" {
			return &core.Extraction{Text: text, Pages: pages}, nil
		}
		return nil, fmt.Errorf("%w: pdf has no text layer and OCR is not configured", core.ErrExtractionFailure)
	}

	log.Printf("docconv: pdf text density below %d chars/page over %d pages, falling back to OCR", e.cfg.MinCharsPerPage, pages)

	ex, err := e.ocrPDF(ctx, data)
	if err != nil {
		if strings.TrimSpace(text) != "" {
			log.Printf("docconv: OCR recovered nothing, keeping the sparse text layer: %v", err)
			return &core.Extraction{Text: text, Pages: pages}, nil
		}
		return nil, err
	}
	return ex, nil
}

func (e *DocconvExtractor) ocrPDF(ctx context.Context, data []byte) (*core.Extraction, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.OCRTimeout)
	images, err := e.renderer.RenderPages(rctx, data)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: render pages: %v", core.ErrExtractionFailure, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: pdf rendered no pages", core.ErrExtractionFailure)
	}
	return e.ocrPages(ctx, images)
}

// ocrPages recognises pages concurrently and joins them in page order.
// Failed pages are recorded; only a document with no recoverable page fails.
func (e *DocconvExtractor) ocrPages(ctx context.Context, images [][]byte) (*core.Extraction, error) {
	if e.ocr == nil {
		return nil, fmt.Errorf("%w: OCR is not configured", core.ErrExtractionFailure)
	}

	texts := make([]string, len(images))
	var (
		mu      sync.Mutex
		pageErr = map[int]error{}
	)

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.OCRConcurrency)
	for i, img := range images {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, e.cfg.OCRTimeout)
			defer cancel()

			text, err := e.ocr.Recognize(pctx, img)
			if err == nil && strings.TrimSpace(text) == "" {
				err = errors.New("no text recognised")
			}
			if err != nil {
				mu.Lock()
				pageErr[i+1] = err
				mu.Unlock()
				return nil
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	_ = g.Wait()

	ex := &core.Extraction{Pages: len(images), PageErrors: pageErr}
	kept := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			kept = append(kept, t)
		}
	}
	ex.OCRPages = len(kept)

	for page, err := range pageErr {
		log.Printf("docconv: OCR failed on page %d: %v", page, err)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no recoverable pages out of %d", core.ErrExtractionFailure, len(images))
	}

	ex.Text = strings.Join(kept, "\n\n")
	return ex, nil
}

// density is the number of non-space runes per page.
func density(text string, pages int) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n / pages
}

// docconvPDF reads the text layer with pdftotext and the page count with pdfinfo.
type docconvPDF struct{}

func (docconvPDF) ReadText(_ context.Context, pdf []byte) (string, int, error) {
	text, meta, err := docconv.ConvertPDF(bytes.NewReader(pdf))
	if err != nil {
		return "", 0, err
	}
	pages, _ := strconv.Atoi(strings.TrimSpace(meta["Pages"]))
	return text, pages, nil
}
