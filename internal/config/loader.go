package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the variable holding an optional config file path.
const EnvConfigFile = "VTUBER_CONFIG"

// Loader builds a Config from defaults, an optional file and the environment.
// Tests override Lookup and ReadFile to inject deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load resolves the configuration. An empty path falls back to VTUBER_CONFIG;
// when neither is set only defaults and environment variables apply.
func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Default()

	if strings.TrimSpace(path) == "" {
		if v, ok := l.Lookup(EnvConfigFile); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		b, err := l.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"HOST":                &cfg.Server.Host,
		"ENVIRONMENT":         &cfg.Server.Environment,
		"SECRET_KEY":          &cfg.Server.SecretKey,
		"DATA_DIR":            &cfg.Server.DataDir,
		"STATIC_DIR":          &cfg.Server.StaticDir,
		"LLM_PROVIDER":        &cfg.LLM.Provider,
		"SYSTEM_PROMPT":       &cfg.LLM.SystemPrompt,
		"OPENAI_API_KEY":      &cfg.LLM.OpenAI.APIKey,
		"OPENAI_BASE_URL":     &cfg.LLM.OpenAI.BaseURL,
		"OPENAI_MODEL":        &cfg.LLM.OpenAI.Model,
		"GEMINI_API_KEY":      &cfg.LLM.Gemini.APIKey,
		"GEMINI_MODEL":        &cfg.LLM.Gemini.Model,
		"OLLAMA_HOST":         &cfg.LLM.Ollama.Host,
		"OLLAMA_MODEL":        &cfg.LLM.Ollama.Model,
		"ELEVENLABS_API_KEY":  &cfg.TTS.ElevenLabs.APIKey,
		"ELEVENLABS_VOICE_ID": &cfg.TTS.ElevenLabs.VoiceID,
		"ELEVENLABS_MODEL":    &cfg.TTS.ElevenLabs.Model,
		"DATABASE_URL":        &cfg.Memory.DatabaseURL,
		"MEMORY_DB_PATH":      &cfg.Memory.SQLitePath,
		"REDIS_URL":           &cfg.Memory.RedisURL,
		"EMBEDDINGS_BACKEND":  &cfg.Embeddings.Backend,
	}
	for key, target := range strs {
		overrideString(l.Lookup, key, target)
	}

	if v, ok := l.Lookup("DEBUG"); ok && strings.TrimSpace(v) != "" {
		cfg.Server.Debug = ParseBool(v)
	}
	if v, ok := l.Lookup("EMBEDDINGS_ENABLED"); ok && strings.TrimSpace(v) != "" {
		cfg.Embeddings.Enabled = ParseBool(v)
	}
	if v, ok := l.Lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: parse PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// ParseBool accepts "true" in any case and "1"; everything else is false.
func ParseBool(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	return v == "true" || v == "1"
}

// ErrNoConfigFile is returned by FindFile when no candidate exists.
var ErrNoConfigFile = errors.New("config file not found")

// FindFile returns the first existing candidate path.
func FindFile(candidates ...string) (string, error) {
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", ErrNoConfigFile
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}
