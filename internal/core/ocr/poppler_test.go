package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner writes page images where pdftoppm would.
type fakeRunner struct {
	pages []string
	err   error
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.args = append([]string{name}, args...)
	if f.err != nil {
		return []byte("Syntax Error: broken pdf"), f.err
	}
	prefix := args[len(args)-1]
	for _, p := range f.pages {
		if err := os.WriteFile(prefix+"-"+p+".png", []byte("img-"+p), 0o600); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestRenderPagesOrdersByPageNumber(t *testing.T) {
	runner := &fakeRunner{pages: []string{"10", "02", "1"}}
	r := NewPopplerRenderer(runner, 0)

	images, err := r.RenderPages(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)

	require.Len(t, images, 3)
	assert.Equal(t, "img-1", string(images[0]))
	assert.Equal(t, "img-02", string(images[1]))
	assert.Equal(t, "img-10", string(images[2]))

	assert.Equal(t, "pdftoppm", runner.args[0])
	assert.Contains(t, runner.args, "300")
	assert.Contains(t, runner.args, "-png")
	assert.Equal(t, "page", filepath.Base(runner.args[len(runner.args)-1]))
}

func TestRenderPagesSurfacesCommandOutput(t *testing.T) {
	r := NewPopplerRenderer(&fakeRunner{err: errors.New("exit status 1")}, 150)

	_, err := r.RenderPages(context.Background(), []byte("not a pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pdf")
}
