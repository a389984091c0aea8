package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nathy/internal/config"
)

// FromConfig registers every provider that has enough configuration to run.
// The selected provider must be among them.
func FromConfig(ctx context.Context, cfg config.LLM, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	providers := make(map[string]Provider, 3)

	if strings.TrimSpace(cfg.OpenAI.APIKey) != "" {
		p, err := NewOpenAI(OpenAIConfig{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("llm from config: %w", err)
		}
		providers[config.ProviderOpenAI] = p
	}
	if strings.TrimSpace(cfg.Gemini.APIKey) != "" {
		p, err := NewGemini(ctx, GeminiConfig{APIKey: cfg.Gemini.APIKey})
		if err != nil {
			return nil, fmt.Errorf("llm from config: %w", err)
		}
		providers[config.ProviderGemini] = p
	}
	if strings.TrimSpace(cfg.Ollama.Host) != "" {
		p, err := NewOllama(OllamaConfig{Host: cfg.Ollama.Host})
		if err != nil {
			return nil, fmt.Errorf("llm from config: %w", err)
		}
		providers[config.ProviderOllama] = p
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("llm from config: %w", ErrNotConfigured)
	}

	registry, err := NewRegistry(providers)
	if err != nil {
		return nil, fmt.Errorf("llm from config: %w", err)
	}
	if _, err := registry.Resolve(cfg.Provider); err != nil {
		return nil, fmt.Errorf("llm from config: %w", err)
	}
	logger.Info("llm providers registered",
		zap.Strings("providers", registry.Names()),
		zap.String("selected", cfg.Provider))
	return registry, nil
}

// ModelFor returns the configured model of the named provider.
func ModelFor(cfg config.LLM, provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case config.ProviderOpenAI:
		return cfg.OpenAI.Model
	case config.ProviderGemini:
		return cfg.Gemini.Model
	case config.ProviderOllama:
		return cfg.Ollama.Model
	default:
		return ""
	}
}
