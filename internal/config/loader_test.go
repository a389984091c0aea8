package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func fakeFiles(m map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		v, ok := m[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(v), nil
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := Loader{Lookup: fakeEnv(map[string]string{"OPENAI_API_KEY": "sk-test"})}.Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, EnvDevelopment, cfg.Server.Environment)
	assert.False(t, cfg.Server.Debug)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, DefaultSystemPrompt, cfg.LLM.SystemPrompt)
	assert.Equal(t, "data/memory.sqlite3", cfg.Memory.SQLitePath)
	assert.Equal(t, "data/tts_cache", cfg.TTS.CacheDir)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoaderEnvironmentOverrides(t *testing.T) {
	env := fakeEnv(map[string]string{
		"PORT":               "9001",
		"ENVIRONMENT":        "production",
		"DEBUG":              "TRUE",
		"SECRET_KEY":         "s3cr3t",
		"LLM_PROVIDER":       "Ollama",
		"OLLAMA_HOST":        "http://ollama:11434",
		"ELEVENLABS_API_KEY": "el-key",
		"DATABASE_URL":       "postgres://u:p@db/nathy",
		"REDIS_URL":          "redis://cache:6379/0",
	})
	cfg, err := Loader{Lookup: env}.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.Ollama.Host)
	assert.Equal(t, "el-key", cfg.TTS.ElevenLabs.APIKey)
	assert.Equal(t, "postgres://u:p@db/nathy", cfg.Memory.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Memory.RedisURL)
}

func TestLoaderFileThenEnv(t *testing.T) {
	files := fakeFiles(map[string]string{
		"nathy.yaml": `
server:
  port: 7000
  shutdown_timeout: 3s
llm:
  provider: gemini
  gemini:
    api_key: g-key
    model: gemini-test
tts:
  elevenlabs:
    stability: 0.4
websocket:
  silence_duration: 2s
`,
	})
	env := fakeEnv(map[string]string{"PORT": "7100"})

	cfg, err := Loader{Lookup: env, ReadFile: files}.Load("nathy.yaml")
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "gemini-test", cfg.LLM.Gemini.Model)
	require.NotNil(t, cfg.TTS.ElevenLabs.Stability)
	assert.InDelta(t, 0.4, *cfg.TTS.ElevenLabs.Stability, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.WebSocket.SilenceDuration)
}

func TestLoaderConfigFileFromEnv(t *testing.T) {
	files := fakeFiles(map[string]string{"/etc/nathy.json": `{"llm": {"provider": "ollama"}}`})
	env := fakeEnv(map[string]string{EnvConfigFile: "/etc/nathy.json"})

	cfg, err := Loader{Lookup: env, ReadFile: files}.Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
}

func TestLoaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		path    string
		wantErr string
	}{
		{
			name:    "missing openai key",
			env:     map[string]string{},
			wantErr: "OPENAI_API_KEY is required",
		},
		{
			name:    "missing gemini key",
			env:     map[string]string{"LLM_PROVIDER": "gemini"},
			wantErr: "GEMINI_API_KEY is required",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"LLM_PROVIDER": "claude"},
			wantErr: "unsupported LLM_PROVIDER",
		},
		{
			name:    "bad port",
			env:     map[string]string{"OPENAI_API_KEY": "k", "PORT": "eighty"},
			wantErr: "parse PORT",
		},
		{
			name:    "port out of range",
			env:     map[string]string{"OPENAI_API_KEY": "k", "PORT": "70000"},
			wantErr: "port must be between",
		},
		{
			name:    "default secret in production",
			env:     map[string]string{"OPENAI_API_KEY": "k", "ENVIRONMENT": "production"},
			wantErr: "SECRET_KEY must be changed",
		},
		{
			name:    "missing file",
			env:     map[string]string{"OPENAI_API_KEY": "k"},
			path:    "nope.yaml",
			wantErr: "read config nope.yaml",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Loader{Lookup: fakeEnv(tc.env), ReadFile: fakeFiles(nil)}.Load(tc.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateVoiceSettingRanges(t *testing.T) {
	bad := 1.5
	latency := 7

	cfg := Default()
	cfg.LLM.OpenAI.APIKey = "k"
	cfg.TTS.ElevenLabs.Stability = &bad
	require.ErrorContains(t, cfg.Validate(), "stability must be between")

	cfg = Default()
	cfg.LLM.OpenAI.APIKey = "k"
	cfg.TTS.ElevenLabs.OptimizeStreamingLatency = &latency
	require.ErrorContains(t, cfg.Validate(), "optimize_streaming_latency")

	slow := 0.5
	cfg = Default()
	cfg.LLM.OpenAI.APIKey = "k"
	cfg.TTS.ElevenLabs.Speed = &slow
	require.ErrorContains(t, cfg.Validate(), "speed must be in")

	cfg = Default()
	cfg.LLM.OpenAI.APIKey = "k"
	cfg.TTS.SampleRate = 8000
	require.ErrorContains(t, cfg.Validate(), "sample_rate")
}

func TestParseBool(t *testing.T) {
	for raw, want := range map[string]bool{"true": true, "True": true, " 1 ": true, "false": false, "yes": false, "": false} {
		assert.Equal(t, want, ParseBool(raw), "ParseBool(%q)", raw)
	}
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/nathy.yaml"
	require.NoError(t, os.WriteFile(path, []byte("server: {}"), 0o644))

	got, err := FindFile(dir+"/missing.yaml", path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = FindFile(dir + "/missing.yaml")
	assert.True(t, errors.Is(err, ErrNoConfigFile))

	_, err = FindFile(dir)
	assert.ErrorContains(t, err, "is a directory")
}
