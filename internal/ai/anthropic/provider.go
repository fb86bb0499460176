package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai/aihttp"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultModel   = "claude-3-5-sonnet-latest"
	apiVersion     = "2023-06-01"
	jsonOnlySuffix = "\n\nRespond with a single JSON object and nothing else."
)

// Provider implements models.LLMProvider using the Messages API.
type Provider struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

func NewProvider(cfg config.AIConfig) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Provider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{},
	}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (p *Provider) CompleteJSON(ctx context.Context, req models.CompletionRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	body := messagesRequest{
		Model:       p.model,
		System:      req.System + jsonOnlySuffix,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": apiVersion,
	}

	var resp messagesResponse
	if err := aihttp.PostJSON(ctx, p.client, p.baseURL+"/v1/messages", headers, body, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("anthropic: %w: empty completion", models.ErrInvalidResponse)
	}
	return []byte(text), nil
}

var _ models.LLMProvider = (*Provider)(nil)
