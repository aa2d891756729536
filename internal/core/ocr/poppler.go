package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// CommandRunner executes an external program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DefaultDPI is the resolution pages are rasterised at before OCR.
const DefaultDPI = 300

// PopplerRenderer rasterises PDF pages to PNG with poppler's pdftoppm.
type PopplerRenderer struct {
	runner CommandRunner
	dpi    int
}

func NewPopplerRenderer(runner CommandRunner, dpi int) *PopplerRenderer {
	if runner == nil {
		runner = ExecRunner{}
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &PopplerRenderer{runner: runner, dpi: dpi}
}

var pageFile = regexp.MustCompile(`^page-(\d+)\.png$`)

// RenderPages returns one PNG per page, in page order.
func (p *PopplerRenderer) RenderPages(ctx context.Context, pdf []byte) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "docground-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	out, err := p.runner.Run(ctx, "pdftoppm", "-r", strconv.Itoa(p.dpi), "-png", in, filepath.Join(dir, "page"))
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, out)
	}

	return collectPages(dir)
}

// collectPages reads page-N.png files; pdftoppm zero-pads N depending on the page count.
func collectPages(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type page struct {
		num  int
		path string
	}
	var pages []page
	for _, e := range entries {
		m := pageFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pages = append(pages, page{num: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	images := make([][]byte, 0, len(pages))
	for _, pg := range pages {
		b, err := os.ReadFile(pg.path)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", pg.num, err)
		}
		images = append(images, b)
	}
	return images, nil
}
