package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	middleware "github.com/markdave123-py/docground/internal/api/middlewares"
	"github.com/markdave123-py/docground/internal/core"
	"github.com/markdave123-py/docground/internal/models"
)

type ChatService interface {
	Ask(ctx context.Context, sessionID, query string) (*models.Answer, error)
}

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type ChatRequest struct {
	Query string `json:"query"`
}

// QueryDocuments answers a query from the session's ready documents.
func (h *ChatHandler) QueryDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	answer, err := h.chat.Ask(r.Context(), sessionID, req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
