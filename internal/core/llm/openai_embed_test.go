package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/markdave123-py/docground/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	var got openAIEmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.5,0.5]},
			{"index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Dimensions: 2})
	require.NoError(t, err)
	assert.Equal(t, "openai/text-embedding-3-small", e.Name())

	vecs, err := e.EmbedTexts(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 0}, {0.5, 0.5}}, vecs)
	assert.Equal(t, []string{"first", "second"}, got.Input)
	assert.Equal(t, 2, got.Dimensions)
}

func TestOpenAIEmbedderClassifiesStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		want       error
		wantDelay  time.Duration
	}{
		{"server error", http.StatusBadGateway, `{}`, "", core.ErrEmbeddingServiceUnavailable, 0},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached"}}`, "3", core.ErrEmbeddingServiceUnavailable, 3 * time.Second},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","code":"insufficient_quota"}}`, "", core.ErrEmbeddingQuotaExceeded, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = e.EmbedTexts(context.Background(), []string{"x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var ra interface{ RetryAfter() time.Duration }
			require.True(t, errors.As(err, &ra))
			assert.Equal(t, tt.wantDelay, ra.RetryAfter())
		})
	}
}

func TestOpenAIEmbedderClientErrorIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrEmbeddingServiceUnavailable)
	assert.NotErrorIs(t, err, core.ErrEmbeddingQuotaExceeded)
}

func TestOpenAIEmbedderRequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)
}

func TestClassifyEmbedError(t *testing.T) {
	assert.ErrorIs(t, classifyEmbedError(&googleapi.Error{Code: 503}), core.ErrEmbeddingServiceUnavailable)
	assert.ErrorIs(t, classifyEmbedError(&googleapi.Error{Code: 429, Message: "Quota exceeded for metric"}), core.ErrEmbeddingQuotaExceeded)
	assert.ErrorIs(t, classifyEmbedError(context.DeadlineExceeded), core.ErrEmbeddingServiceUnavailable)
	assert.ErrorIs(t, classifyEmbedError(errors.New("connection reset by peer")), core.ErrEmbeddingServiceUnavailable)

	bad := &googleapi.Error{Code: 400, Message: "invalid argument"}
	assert.Equal(t, bad, classifyEmbedError(bad))
	assert.Nil(t, classifyEmbedError(nil))
}
