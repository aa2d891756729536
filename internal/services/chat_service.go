package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/core/agents"
	"github.com/markdave123-py/docground/internal/models"
)

// Searcher finds grounding context for a query within a session.
type Searcher interface {
	Search(ctx context.Context, sessionID, query string) ([]models.RetrievalResult, error)
}

type ChatService struct {
	retriever Searcher
	router    *agents.Router
	generator *agents.Generator
}

func NewChatService(retriever Searcher, router *agents.Router, generator *agents.Generator) *ChatService {
	return &ChatService{retriever: retriever, router: router, generator: generator}
}

// Ask retrieves context, routes the query to an agent and generates the
// answer. Finding no context is not an error: the agent answers ungrounded
// and says so.
func (s *ChatService) Ask(ctx context.Context, sessionID, query string) (*models.Answer, error) {
	query = strings.TrimSpace(query)
	if sessionID == "" || query == "" {
		return nil, fmt.Errorf("%w: session and query are required", core.ErrInvalidInput)
	}

	results, err := s.retriever.Search(ctx, sessionID, query)
	if err != nil {
		return nil, err
	}

	agent := s.router.Select(query, results)
	text, sources, err := s.generator.Generate(ctx, agent, query, results)
	if err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []models.RetrievalResult{}
	}

	return &models.Answer{Text: text, Agent: agent.Name, Sources: sources}, nil
}
