// Package openai talks to any OpenAI-compatible chat completions endpoint.
// Groq, Ollama and vLLM all expose one, so they share this provider.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai/aihttp"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

var defaultBaseURLs = map[string]string{
	"openai": "https://api.openai.com/v1",
	"groq":   "https://api.groq.com/openai/v1",
	"ollama": "http://localhost:11434/v1",
	"vllm":   "http://localhost:8000/v1",
}

var defaultModels = map[string]string{
	"openai": "gpt-4o-mini",
	"groq":   "llama-3.3-70b-versatile",
	"ollama": "llama3.1",
	"vllm":   "default",
}

// Provider implements models.LLMProvider over /chat/completions.
type Provider struct {
	name      string
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewProvider builds a provider for one of the OpenAI-compatible flavours.
// The HTTP client carries no timeout; callers bound each call with a context.
func NewProvider(name string, cfg config.AIConfig) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[name]
	}
	model := cfg.Model
	if model == "" {
		model = defaultModels[name]
	}
	return &Provider{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     model,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{},
	}
}

func (p *Provider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Provider) CompleteJSON(ctx context.Context, req models.CompletionRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:      maxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var resp chatResponse
	if err := aihttp.PostJSON(ctx, p.client, p.baseURL+"/chat/completions", headers, body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%s: %w: empty completion", p.name, models.ErrInvalidResponse)
	}
	return []byte(resp.Choices[0].Message.Content), nil
}

var _ models.LLMProvider = (*Provider)(nil)
