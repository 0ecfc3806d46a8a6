// Package llm provides the completion clients used by the screening,
// research, validation, and learning stages.
//
// Both providers share the same behavior: client-side rate limiting,
// context-aware exponential backoff, and explicit classification of
// retryable failures (429s, 5xx, transport errors).
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lawbranch/geogate/internal/config"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultOpenAIBaseURL    = "https://api.openai.com"

	defaultBaseBackoff = 1 * time.Second

	// defaultRateLimit allows 50 requests per minute with small bursts.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Client generates a completion for a prompt. All pipeline stages speak
// to the model through this interface.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewClient builds a provider client from configuration.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}

// retryableError marks transient failures worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError walks the unwrap chain looking for a retryable marker.
func isRetryableError(err error) bool {
	for err != nil {
		if _, ok := err.(*retryableError); ok {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// completeWithRetry runs doRequest with exponential backoff on retryable
// failures. Non-retryable errors abort immediately.
func completeWithRetry(ctx context.Context, maxRetries int, doRequest func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		response, err := doRequest(ctx)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
