package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"nathy/internal/config"
	"nathy/internal/server"
	"nathy/internal/services/chat"
	"nathy/internal/services/embeddings"
	"nathy/internal/services/history"
	"nathy/internal/services/llm"
	"nathy/internal/services/memory"
	"nathy/internal/services/stt"
	"nathy/internal/services/tts"
)

// services holds everything the server needs. Optional parts stay nil.
type services struct {
	embedder embeddings.Service
	memory   memory.Store
	history  history.History
	chat     *chat.Engine
	tts      *tts.Service
	stt      *stt.Whisper

	model          string
	memoryBackend  string
	historyBackend string
	closers        []io.Closer
}

func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *services, err error) {
	s := &services{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.embedder, err = embeddings.New(cfg.Embeddings, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := s.embedder.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	s.memory, err = openMemory(ctx, cfg.Memory, s.embedder)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.memory)
	s.memoryBackend = "sqlite"
	if memory.IsPostgresURL(cfg.Memory.DatabaseURL) {
		s.memoryBackend = "postgres"
	}

	s.history, s.historyBackend = openHistory(ctx, cfg.Memory, logger)
	s.closers = append(s.closers, s.history)

	registry, err := llm.FromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	provider, err := registry.Resolve(cfg.LLM.Provider)
	if err != nil {
		return nil, err
	}
	s.model = llm.ModelFor(cfg.LLM, cfg.LLM.Provider)
	s.chat, err = chat.New(chat.Options{
		Provider:        provider,
		ProviderName:    cfg.LLM.Provider,
		Model:           s.model,
		SystemPrompt:    cfg.LLM.SystemPrompt,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		RequestTimeout:  cfg.LLM.RequestTimeout,
		HistoryTurns:    cfg.Memory.HistoryTurns,
		FactsLimit:      cfg.Memory.FactsLimit,
		Memory:          s.memory,
		History:         s.history,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	s.tts, err = tts.New(cfg.TTS, logger)
	if err != nil {
		return nil, err
	}

	s.stt, err = stt.New(cfg.STT, cfg.LLM.OpenAI, logger)
	if errors.Is(err, stt.ErrNotConfigured) {
		logger.Warn("speech recognition needs OPENAI_API_KEY, voice input disabled")
		s.stt, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openMemory(ctx context.Context, cfg config.Memory, embedder embeddings.Service) (memory.Store, error) {
	store, err := memory.Open(ctx, memory.Options{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		Embedder:    embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	return store, nil
}

// openHistory prefers Redis and degrades to process memory when it is
// unreachable, so a missing cache never blocks startup.
func openHistory(ctx context.Context, cfg config.Memory, logger *zap.Logger) (history.History, string) {
	if strings.TrimSpace(cfg.RedisURL) != "" {
		h, err := history.NewRedis(ctx, cfg.RedisURL, cfg.HistoryTurns)
		if err == nil {
			return h, "redis"
		}
		logger.Warn("redis unavailable, keeping history in memory", zap.Error(err))
	}
	return history.NewMemory(cfg.HistoryTurns), "memory"
}

// dependencies converts to server dependencies, leaving disabled services as
// untyped nils so the server can detect them.
func (s *services) dependencies(logger *zap.Logger) server.Dependencies {
	d := server.Dependencies{
		Chat:    s.chat,
		Memory:  s.memory,
		History: s.history,
		Logger:  logger,
	}
	if s.embedder != nil {
		d.Embeddings = s.embedder
	}
	if s.tts != nil {
		d.TTS = s.tts
	}
	if s.stt != nil {
		d.STT = s.stt
	}
	return d
}

func (s *services) ttsBackend() string {
	if s.tts == nil {
		return "disabled"
	}
	return s.tts.Backend()
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
