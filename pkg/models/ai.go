package models

import (
	"context"
	"errors"
)

// Sentinel errors shared by every LLM provider. Unavailable and timeout are
// transient; an invalid response is deterministic.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// LLMProvider is the interface every language-model integration implements.
// Pipelines never call a specific provider directly.
type LLMProvider interface {
	// CompleteJSON sends one system+user exchange asking for a JSON object
	// and returns the raw text of the reply.
	CompleteJSON(ctx context.Context, req CompletionRequest) ([]byte, error)
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
}

// CompletionRequest is a single-turn prompt.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}
