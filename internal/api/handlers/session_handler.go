package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	middleware "github.com/markdave123-py/docground/internal/api/middlewares"
)

type SessionHandler struct {
	secret string
	ttl    time.Duration
}

func NewSessionHandler(secret string, ttl time.Duration) *SessionHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionHandler{secret: secret, ttl: ttl}
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession opens a new conversation session and returns its token.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	token, exp, err := middleware.IssueToken(h.secret, sessionID, h.ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sessionID, Token: token, ExpiresAt: exp})
}
