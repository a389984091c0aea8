// Package config holds the service configuration: defaults, an optional
// YAML/JSON file and the environment variables the container is started with.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	EmbeddingsHashed = "hashed"
	EmbeddingsMiniLM = "minilm"

	DefaultSecretKey = "nathy-secret-key"

	DefaultSystemPrompt = "Você é a Nathy, uma VTuber 3D estilo chibi brasileira com personalidade única. " +
		"Características: fofa, divertida, curiosa, inteligente, com humor sarcástico leve. " +
		"Adora tecnologia, jogos e memes brasileiros. Fale em pt-BR natural. " +
		"Use expressões como 'Ué!', 'Nossa!', 'Legal!' ocasionalmente. " +
		"Seja autêntica e mostre sua personalidade vibrante. " +
		"Faça perguntas quando quiser saber mais sobre o usuário."
)

type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Environment     string        `yaml:"environment"`
	Debug           bool          `yaml:"debug"`
	SecretKey       string        `yaml:"secret_key"`
	DataDir         string        `yaml:"data_dir"`
	StaticDir       string        `yaml:"static_dir"` // empty serves the embedded assets
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type OpenAI struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxRetries *int   `yaml:"max_retries"`
}

type Gemini struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type Ollama struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type LLM struct {
	Provider        string        `yaml:"provider"`
	SystemPrompt    string        `yaml:"system_prompt"`
	Temperature     float64       `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	OpenAI          OpenAI        `yaml:"openai"`
	Gemini          Gemini        `yaml:"gemini"`
	Ollama          Ollama        `yaml:"ollama"`
}

type ElevenLabs struct {
	APIKey                   string   `yaml:"api_key"`
	BaseURL                  string   `yaml:"base_url"`
	VoiceID                  string   `yaml:"voice_id"`
	Model                    string   `yaml:"model"`
	Stability                *float64 `yaml:"stability"`
	SimilarityBoost          *float64 `yaml:"similarity_boost"`
	Speed                    *float64 `yaml:"speed"`
	OptimizeStreamingLatency *int     `yaml:"optimize_streaming_latency"`
}

type TTS struct {
	Enabled        bool       `yaml:"enabled"`
	SampleRate     int        `yaml:"sample_rate"`
	CacheDir       string     `yaml:"cache_dir"`
	CacheMaxSizeMB int        `yaml:"cache_max_size_mb"`
	ElevenLabs     ElevenLabs `yaml:"elevenlabs"`
}

type STT struct {
	Enabled  bool   `yaml:"enabled"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Prompt   string `yaml:"prompt"`
}

type Memory struct {
	DatabaseURL  string `yaml:"database_url"`
	SQLitePath   string `yaml:"sqlite_path"`
	RedisURL     string `yaml:"redis_url"`
	HistoryTurns int    `yaml:"history_turns"`
	FactsLimit   int    `yaml:"facts_limit"`
}

type Embeddings struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"` // hashed | minilm
	ModelDir   string `yaml:"model_dir"`
	RuntimeLib string `yaml:"runtime_lib"`
}

type WebSocket struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	VADThreshold    float64       `yaml:"vad_threshold"`
	SilenceDuration time.Duration `yaml:"silence_duration"`
	MaxUtterance    time.Duration `yaml:"max_utterance"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	LLM        LLM        `yaml:"llm"`
	TTS        TTS        `yaml:"tts"`
	STT        STT        `yaml:"stt"`
	Memory     Memory     `yaml:"memory"`
	Embeddings Embeddings `yaml:"embeddings"`
	WebSocket  WebSocket  `yaml:"websocket"`
}

// Default returns the configuration used when neither a file nor the
// environment say otherwise.
func Default() Config {
	return Config{
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8000,
			Environment:     EnvDevelopment,
			SecretKey:       DefaultSecretKey,
			DataDir:         "data",
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLM{
			Provider:        ProviderOpenAI,
			SystemPrompt:    DefaultSystemPrompt,
			Temperature:     0.7,
			MaxOutputTokens: 500,
			RequestTimeout:  60 * time.Second,
			OpenAI:          OpenAI{Model: "gpt-4o-mini"},
			Gemini:          Gemini{Model: "gemini-2.5-flash"},
			Ollama:          Ollama{Host: "http://127.0.0.1:11434", Model: "qwen2.5:7b"},
		},
		TTS: TTS{
			Enabled:        true,
			SampleRate:     16000,
			CacheMaxSizeMB: 64,
			ElevenLabs: ElevenLabs{
				VoiceID: "EXAVITQu4vr4xnSDxMaL", // Sarah
				Model:   "eleven_turbo_v2_5",
			},
		},
		STT: STT{
			Enabled:  true,
			Model:    "whisper-1",
			Language: "pt",
			Prompt:   "Transcrição de voz para uma assistente virtual.",
		},
		Memory: Memory{
			HistoryTurns: 10,
			FactsLimit:   6,
		},
		Embeddings: Embeddings{Backend: EmbeddingsHashed},
		WebSocket: WebSocket{
			Enabled:         true,
			Path:            "/ws",
			VADThreshold:    0.01,
			SilenceDuration: 1500 * time.Millisecond,
			MaxUtterance:    30 * time.Second,
		},
	}
}

// IsProduction reports whether the service runs with the production environment name.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Server.Environment), EnvProduction)
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate fills derived values and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port must be between 0 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: shutdown_timeout must be > 0")
	}
	if c.Memory.SQLitePath == "" {
		c.Memory.SQLitePath = c.Server.DataDir + "/memory.sqlite3"
	}
	if c.Embeddings.ModelDir == "" {
		c.Embeddings.ModelDir = c.Server.DataDir + "/models/minilm"
	}
	if c.TTS.CacheDir == "" && c.TTS.CacheMaxSizeMB > 0 {
		c.TTS.CacheDir = c.Server.DataDir + "/tts_cache"
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required when LLM_PROVIDER=%s", ProviderOpenAI)
		}
	case ProviderGemini:
		if c.LLM.Gemini.APIKey == "" {
			return fmt.Errorf("config: GEMINI_API_KEY is required when LLM_PROVIDER=%s", ProviderGemini)
		}
	case ProviderOllama:
		if c.LLM.Ollama.Host == "" {
			return fmt.Errorf("config: ollama host is required when LLM_PROVIDER=%s", ProviderOllama)
		}
	default:
		return fmt.Errorf("config: unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 {
		return fmt.Errorf("config: temperature must be >= 0")
	}
	if c.LLM.MaxOutputTokens < 0 {
		return fmt.Errorf("config: max_output_tokens must be >= 0")
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be > 0")
	}
	if strings.TrimSpace(c.LLM.SystemPrompt) == "" {
		c.LLM.SystemPrompt = DefaultSystemPrompt
	}

	el := c.TTS.ElevenLabs
	if el.Stability != nil && (*el.Stability < 0 || *el.Stability > 1) {
		return fmt.Errorf("config: stability must be between 0.0 and 1.0, got %f", *el.Stability)
	}
	if el.SimilarityBoost != nil && (*el.SimilarityBoost < 0 || *el.SimilarityBoost > 1) {
		return fmt.Errorf("config: similarity_boost must be between 0.0 and 1.0, got %f", *el.SimilarityBoost)
	}
	if el.Speed != nil && (*el.Speed <= 0.7 || *el.Speed > 1.2) {
		return fmt.Errorf("config: speed must be in (0.7, 1.2], got %f", *el.Speed)
	}
	if el.OptimizeStreamingLatency != nil && (*el.OptimizeStreamingLatency < 0 || *el.OptimizeStreamingLatency > 4) {
		return fmt.Errorf("config: optimize_streaming_latency must be between 0 and 4, got %d", *el.OptimizeStreamingLatency)
	}
	switch c.TTS.SampleRate {
	case 16000, 22050, 24000, 44100:
	default:
		return fmt.Errorf("config: unsupported tts sample_rate %d", c.TTS.SampleRate)
	}

	if c.Memory.HistoryTurns < 0 {
		return fmt.Errorf("config: history_turns must be >= 0")
	}
	if c.Memory.FactsLimit <= 0 {
		return fmt.Errorf("config: facts_limit must be > 0")
	}

	switch c.Embeddings.Backend {
	case "", EmbeddingsHashed, EmbeddingsMiniLM:
	default:
		return fmt.Errorf("config: unsupported embeddings backend %q", c.Embeddings.Backend)
	}

	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ws"
	}
	if c.WebSocket.SilenceDuration <= 0 || c.WebSocket.MaxUtterance <= 0 {
		return fmt.Errorf("config: websocket durations must be > 0")
	}

	if c.IsProduction() && c.Server.SecretKey == DefaultSecretKey {
		return fmt.Errorf("config: SECRET_KEY must be changed in production")
	}
	return nil
}
