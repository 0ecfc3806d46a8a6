package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawbranch/geogate/internal/config"
)

func testLLMConfig(provider, baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    provider,
		Model:       "test-model",
		APIKey:      config.Secret("test-key"),
		BaseURL:     baseURL,
		Timeout:     config.Duration(5 * time.Second),
		MaxRetries:  2,
		MaxTokens:   1024,
		Temperature: 0.3,
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "bard"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "anthropic"})
	require.Error(t, err)

	_, err = NewClient(config.LLMConfig{Provider: "openai"})
	require.Error(t, err)
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))
		fmt.Fprint(w, `{"content":[{"text":"{\"risk_level\":\"LOW\"}"}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(testLLMConfig("anthropic", srv.URL))
	require.NoError(t, err)

	got, err := client.Complete(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, `{"risk_level":"LOW"}`, got)
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(testLLMConfig("openai", srv.URL))
	require.NoError(t, err)

	got, err := client.Complete(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"content":[{"text":"recovered"}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(testLLMConfig("anthropic", srv.URL))
	require.NoError(t, err)

	got, err := client.Complete(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"bad prompt"}}`)
	}))
	defer srv.Close()

	client, err := NewClient(testLLMConfig("anthropic", srv.URL))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad prompt")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteMaxRetriesExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testLLMConfig("openai", srv.URL)
	cfg.MaxRetries = 1
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "limited")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestCompleteContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(testLLMConfig("anthropic", srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.Complete(ctx, "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestIsRetryableError(t *testing.T) {
	plain := errors.New("boom")
	assert.False(t, isRetryableError(plain))
	assert.False(t, isRetryableError(nil))

	retryable := &retryableError{err: plain}
	assert.True(t, isRetryableError(retryable))
	assert.True(t, isRetryableError(fmt.Errorf("wrapped: %w", retryable)))
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in))
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		RiskLevel string `json:"risk_level"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"risk_level\":\"HIGH\"}\n```", &out))
	assert.Equal(t, "HIGH", out.RiskLevel)

	assert.Error(t, DecodeJSON("not json at all", &out))
}
