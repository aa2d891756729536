package agents

import (
	"strings"
	"unicode"

	"github.com/markdave123-py/docground/internal/models"
)

// Intent is the coarse purpose of a query.
type Intent string

const (
	IntentQuestion  Intent = "question"
	IntentSummarize Intent = "summarize"
	IntentChat      Intent = "chat"
)

var summarizeMarkers = []string{
	"summarize", "summarise", "summary", "summaries", "overview",
	"tl;dr", "tldr", "key points", "main points", "gist",
}

var interrogatives = map[string]bool{
	"what": true, "who": true, "whom": true, "whose": true, "when": true,
	"where": true, "why": true, "how": true, "which": true,
	"is": true, "are": true, "was": true, "were": true,
	"do": true, "does": true, "did": true,
	"can": true, "could": true, "should": true, "would": true, "will": true,
	"explain": true, "list": true, "define": true, "describe": true,
}

// Router maps a query to an agent. Selection only depends on its inputs.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Classify returns the intent of query. A question only counts as one when
// there is retrieved context to answer it from.
func Classify(query string, hasContext bool) Intent {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return IntentChat
	}
	for _, m := range summarizeMarkers {
		if strings.Contains(q, m) {
			return IntentSummarize
		}
	}
	if hasContext && (strings.Contains(q, "?") || interrogatives[firstWord(q)]) {
		return IntentQuestion
	}
	return IntentChat
}

// Select picks the agent for query given what retrieval returned.
func (r *Router) Select(query string, results []models.RetrievalResult) Descriptor {
	intent := Classify(query, len(results) > 0)

	capability := CapabilityChat
	switch intent {
	case IntentQuestion:
		capability = CapabilityQuestion
	case IntentSummarize:
		capability = CapabilitySummarize
	}
	if d, ok := r.registry.WithCapability(capability); ok {
		return d
	}
	return r.registry.Default()
}

func firstWord(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		return s
	}
	return s[:end]
}
