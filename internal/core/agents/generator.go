package agents

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/models"
)

// PromptData is what agent templates render from.
type PromptData struct {
	Query      string
	Context    string
	HasContext bool
	Sources    []models.RetrievalResult
}

// Generator calls the completion provider once per query.
type Generator struct {
	llm     core.LLMProvider
	timeout time.Duration
}

func NewGenerator(llm core.LLMProvider, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{llm: llm, timeout: timeout}
}

// Generate answers query with agent. It returns the answer and the sources
// that fit the agent's context budget. Failures wrap ErrGenerationFailure and
// are not retried.
func (g *Generator) Generate(ctx context.Context, agent Descriptor, query string, results []models.RetrievalResult) (string, []models.RetrievalResult, error) {
	sources := FitContext(results, agent.MaxContextChars)

	prompt, err := Render(agent, query, sources)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", core.ErrGenerationFailure, err)
	}

	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	answer, err := g.llm.Generate(gctx, agent.SystemPrompt, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", core.ErrGenerationFailure, agent.Name, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", nil, fmt.Errorf("%w: %s returned an empty answer", core.ErrGenerationFailure, agent.Name)
	}

	log.Printf("Generator: %s answered with %d sources in %s", agent.Name, len(sources), time.Since(started).Round(time.Millisecond))
	return answer, sources, nil
}

// Render fills the agent's prompt template.
func Render(agent Descriptor, query string, sources []models.RetrievalResult) (string, error) {
	if agent.tmpl == nil {
		return "", fmt.Errorf("agent %q was not loaded from a registry", agent.Name)
	}
	data := PromptData{
		Query:      query,
		Context:    formatContext(sources),
		HasContext: len(sources) > 0,
		Sources:    sources,
	}
	var b strings.Builder
	if err := agent.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", agent.Name, err)
	}
	return b.String(), nil
}

// FitContext keeps the best-scoring results whose text fits in budget
// characters, in rank order. When not even the best one fits, its text is
// cut to the budget.
func FitContext(results []models.RetrievalResult, budget int) []models.RetrievalResult {
	if len(results) == 0 {
		return nil
	}
	ranked := make([]models.RetrievalResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if budget <= 0 {
		return ranked
	}

	used := 0
	for i, r := range ranked {
		n := len([]rune(r.Text))
		if used+n > budget {
			if i == 0 {
				top := ranked[0]
				top.Text = string([]rune(top.Text)[:budget])
				return []models.RetrievalResult{top}
			}
			return ranked[:i]
		}
		used += n
	}
	return ranked
}

func formatContext(sources []models.RetrievalResult) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		section := fmt.Sprintf("Section %d", s.FirstSeq+1)
		if s.LastSeq > s.FirstSeq {
			section = fmt.Sprintf("Sections %d-%d", s.FirstSeq+1, s.LastSeq+1)
		}
		parts[i] = fmt.Sprintf("From %s (%s):\n%s", s.FileName, section, s.Text)
	}
	return strings.Join(parts, "\n\n")
}
