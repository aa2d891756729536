package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/markdave123-py/docground/internal/core"
	"google.golang.org/api/googleapi"
)

// providerError carries the classified sentinel plus an optional Retry-After hint.
type providerError struct {
	kind       error
	cause      error
	retryAfter time.Duration
}

func (e *providerError) Error() string { return fmt.Sprintf("%v: %v", e.kind, e.cause) }

func (e *providerError) Is(target error) bool { return target == e.kind }

func (e *providerError) Unwrap() error { return e.cause }

func (e *providerError) RetryAfter() time.Duration { return e.retryAfter }

// isQuotaMessage separates hard quota exhaustion from plain rate limiting.
func isQuotaMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "exceeded your current quota") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "insufficient_quota")
}

// classifyStatus maps an HTTP status to an embedding error kind; nil means the
// failure is not one the caller should treat as transient.
func classifyStatus(status int, msg string) error {
	switch {
	case status == http.StatusTooManyRequests && isQuotaMessage(msg):
		return core.ErrEmbeddingQuotaExceeded
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return core.ErrEmbeddingServiceUnavailable
	}
	return nil
}

// classifyEmbedError tags transport and API errors with the embedding sentinels.
func classifyEmbedError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if kind := classifyStatus(gerr.Code, gerr.Message+" "+gerr.Body); kind != nil {
			return &providerError{kind: kind, cause: err}
		}
		return err
	}

	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return &providerError{kind: core.ErrEmbeddingServiceUnavailable, cause: err}
	}
	if isQuotaMessage(err.Error()) {
		return &providerError{kind: core.ErrEmbeddingQuotaExceeded, cause: err}
	}
	return &providerError{kind: core.ErrEmbeddingServiceUnavailable, cause: err}
}
