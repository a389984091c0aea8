package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nathy/internal/config"
)

func TestFromConfigRegistersConfiguredProviders(t *testing.T) {
	cfg := config.LLM{
		Provider: config.ProviderOllama,
		OpenAI:   config.OpenAI{APIKey: "sk-test", Model: "gpt-4o-mini"},
		Ollama:   config.Ollama{Host: "http://127.0.0.1:11434", Model: "qwen2.5:7b"},
	}
	registry, err := FromConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama", "openai"}, registry.Names())
	assert.Equal(t, "qwen2.5:7b", ModelFor(cfg, "OLLAMA"))
	assert.Equal(t, "gpt-4o-mini", ModelFor(cfg, "openai"))
	assert.Empty(t, ModelFor(cfg, "unknown"))
}

func TestFromConfigRejectsUnavailableSelection(t *testing.T) {
	_, err := FromConfig(context.Background(), config.LLM{
		Provider: config.ProviderGemini,
		Ollama:   config.Ollama{Host: "http://127.0.0.1:11434"},
	}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = FromConfig(context.Background(), config.LLM{Provider: config.ProviderOpenAI}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
