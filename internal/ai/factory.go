package ai

import (
	"fmt"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai/anthropic"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai/openai"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// NewProvider constructs the appropriate LLM provider based on config.
// Called once at worker startup.
func NewProvider(cfg config.AIConfig) (models.LLMProvider, error) {
	switch cfg.Provider {
	case "openai", "groq", "ollama", "vllm":
		return openai.NewProvider(cfg.Provider, cfg), nil
	case "anthropic":
		return anthropic.NewProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: must be one of openai, groq, ollama, vllm, anthropic", cfg.Provider)
	}
}
