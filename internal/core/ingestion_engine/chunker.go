package ingestion_engine

import (
	"fmt"
	"strings"
	"unicode"
)

// Chunker splits extracted text into overlapping, size-bounded spans.
// Sizes are measured in runes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the window configuration. Overlap must be smaller than
// size so every chunk advances through the text.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// boundary kinds in order of preference.
var boundaryKinds = []func(r []rune, end int) bool{
	// paragraph break
	func(r []rune, end int) bool { return end >= 2 && r[end-1] == '\n' && r[end-2] == '\n' },
	// line break
	func(r []rune, end int) bool { return r[end-1] == '\n' },
	// sentence end followed by whitespace
	func(r []rune, end int) bool {
		return end >= 2 && unicode.IsSpace(r[end-1]) && strings.ContainsRune(".!?;:", r[end-2])
	},
	// any whitespace
	func(r []rune, end int) bool { return unicode.IsSpace(r[end-1]) },
}

// Split returns the chunks of text in sequence order. Whitespace-only text
// yields no chunks. Chunk i+1 starts exactly overlap runes before chunk i ends.
func (c *Chunker) Split(text string) []chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var (
		out   []chunk
		start int
	)
	for {
		end := n
		if n-start > c.size {
			end = c.boundary(runes, start)
		}
		body := string(runes[start:end])
		out = append(out, chunk{
			Pos:      len(out),
			Text:     body,
			Start:    start,
			End:      end,
			TokenCnt: approxTokens(body),
		})
		if end == n {
			return out
		}
		start = end - c.overlap
	}
}

// boundary picks where the chunk starting at start should end. The result
// lies in (start+overlap, start+size] so the next start strictly advances.
// Boundaries in the later half of the window are preferred to avoid tiny chunks.
func (c *Chunker) boundary(r []rune, start int) int {
	hi := start + c.size
	lo := start + c.overlap + 1
	preferred := max(lo, start+c.size/2)

	for _, floor := range []int{preferred, lo} {
		for _, isBoundary := range boundaryKinds {
			for end := hi; end >= floor; end-- {
				if isBoundary(r, end) {
					return end
				}
			}
		}
	}
	return hi
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
