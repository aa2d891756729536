package core

import "context"

// EmbeddingProvider computes embedding vectors for a batch of texts. The
// returned slice has one vector per input text, in input order.
type EmbeddingProvider interface {
	Name() string
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
