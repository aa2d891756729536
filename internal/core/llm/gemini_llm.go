package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docground/internal/core"
)

// GeminiLLM is the completion backend for the response generator.
type GeminiLLM struct {
	client          *genai.Client
	modelName       string
	temperature     float32
	maxOutputTokens int32
}

// GeminiOption customises generation parameters.
type GeminiOption func(*GeminiLLM)

func WithTemperature(t float32) GeminiOption {
	return func(g *GeminiLLM) { g.temperature = t }
}

func WithMaxOutputTokens(n int32) GeminiOption {
	return func(g *GeminiLLM) { g.maxOutputTokens = n }
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string, opts ...GeminiOption) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	g := &GeminiLLM{client: cl, modelName: modelName, temperature: 0.2}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Generate runs one single-shot completion; no conversation state is kept.
func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(g.temperature)
	if g.maxOutputTokens > 0 {
		m.SetMaxOutputTokens(g.maxOutputTokens)
	}
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("gemini generate: prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini generate: empty response")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
