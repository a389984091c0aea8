package stt

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"go.uber.org/zap"

	"nathy/internal/audio"
	"nathy/internal/config"
	"nathy/internal/services/llm"
)

const (
	DefaultModel    = "whisper-1"
	DefaultLanguage = "pt"
	DefaultPrompt   = "Transcrição de voz para uma assistente virtual."
)

type transcriptionsClient interface {
	transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error)
}

type openAITranscriptions struct {
	service *openai.AudioTranscriptionService
}

func (a openAITranscriptions) transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error) {
	res, err := a.service.New(ctx, params)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Whisper transcribes through the OpenAI audio transcriptions endpoint.
type Whisper struct {
	client   transcriptionsClient
	model    string
	language string
	prompt   string
	logger   *zap.Logger
}

// New returns a Whisper transcriber, or nil when STT is disabled.
func New(cfg config.STT, openAI config.OpenAI, logger *zap.Logger) (*Whisper, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(openAI.APIKey) == "" {
		return nil, fmt.Errorf("new whisper: missing openai api_key: %w", ErrNotConfigured)
	}
	opts := llm.OpenAIOptions(llm.OpenAIConfig{
		APIKey:     openAI.APIKey,
		BaseURL:    openAI.BaseURL,
		MaxRetries: openAI.MaxRetries,
	})
	client := openai.NewClient(opts...)
	return newWhisper(openAITranscriptions{service: &client.Audio.Transcriptions}, cfg, logger), nil
}

func newWhisper(client transcriptionsClient, cfg config.STT, logger *zap.Logger) *Whisper {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Whisper{
		client:   client,
		model:    cfg.Model,
		language: cfg.Language,
		prompt:   cfg.Prompt,
		logger:   logger.Named("stt"),
	}
	if w.model == "" {
		w.model = DefaultModel
	}
	if w.language == "" {
		w.language = DefaultLanguage
	}
	if w.prompt == "" {
		w.prompt = DefaultPrompt
	}
	return w
}

// Transcribe uploads one utterance. Raw PCM is wrapped as WAV first.
func (w *Whisper) Transcribe(ctx context.Context, in Input) (Result, error) {
	if w == nil || w.client == nil {
		return Result{}, ErrNotConfigured
	}
	if len(in.Audio) == 0 {
		return Result{}, ErrNoAudio
	}

	data, name := in.Audio, in.Filename
	var dur time.Duration
	if in.SampleRate > 0 {
		dur = audio.Duration(in.Audio, in.SampleRate)
		data = audio.EncodeWAV(in.Audio, in.SampleRate)
		name = "utterance.wav"
	}
	if name == "" {
		name = "audio.wav"
	}
	lang := firstNonEmpty(in.Language, w.language)
	params := openai.AudioTranscriptionNewParams{
		File:     openai.File(bytes.NewReader(data), filepath.Base(name), contentType(name)),
		Model:    openai.AudioModel(w.model),
		Language: openai.String(lang),
		Prompt:   openai.String(firstNonEmpty(in.Prompt, w.prompt)),
	}

	start := time.Now()
	text, err := w.client.transcribe(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("whisper transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	w.logger.Debug("transcribed",
		zap.Int("bytes", len(data)),
		zap.Duration("audio", dur),
		zap.Duration("took", time.Since(start)),
		zap.Int("chars", len(text)))
	return Result{Text: text, Language: lang, Duration: dur}, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".mpeg", ".mpga":
		return "audio/mpeg"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
