package tts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nathy/internal/audio"
	"nathy/internal/config"
)

// Service voices replies with the current settings, serving repeated
// phrases from the disk cache when one is configured.
type Service struct {
	synth      Synthesizer
	cache      *Cache
	settings   *Settings
	sampleRate int
	backend    string
	logger     *zap.Logger
}

// New wires the ElevenLabs client, or the silent stub when no API key is set.
// It returns nil when TTS is disabled.
func New(cfg config.TTS, logger *zap.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tts")

	el := cfg.ElevenLabs
	var synth Synthesizer
	backend := "elevenlabs"
	if strings.TrimSpace(el.APIKey) == "" {
		logger.Warn("ELEVENLABS_API_KEY not set, replies will be silent")
		synth = NewSilent(cfg.SampleRate, logger)
		backend = "silent"
	} else {
		synth = NewElevenLabs(el.APIKey, el.BaseURL, cfg.SampleRate)
	}

	var cache *Cache
	if cfg.CacheDir != "" && cfg.CacheMaxSizeMB > 0 {
		var err error
		cache, err = NewCache(cfg.CacheDir, int64(cfg.CacheMaxSizeMB)<<20, logger)
		if err != nil {
			return nil, err
		}
	}

	settings := NewSettings(Voice{
		ID:              el.VoiceID,
		Model:           el.Model,
		Stability:       el.Stability,
		SimilarityBoost: el.SimilarityBoost,
		Speed:           el.Speed,
		OptimizeLatency: el.OptimizeStreamingLatency,
	})
	return NewService(synth, cache, settings, cfg.SampleRate, backend, logger), nil
}

// NewService assembles a service from parts. cache may be nil.
func NewService(synth Synthesizer, cache *Cache, settings *Settings, sampleRate int, backend string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings == nil {
		settings = NewSettings(Voice{})
	}
	return &Service{
		synth:      synth,
		cache:      cache,
		settings:   settings,
		sampleRate: sampleRate,
		backend:    backend,
		logger:     logger,
	}
}

// Synthesize voices text and applies the volume setting.
func (s *Service) Synthesize(ctx context.Context, text string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	voice := s.settings.Voice()
	volume := s.settings.Volume()

	// Silent clips never reach the cache, so a later real backend does not replay them.
	cache := s.cache
	if !s.Ready() {
		cache = nil
	}

	var key string
	if cache != nil {
		key = Key(text, voice, s.sampleRate)
		if pcm, ok := cache.Get(key); ok {
			s.logger.Debug("tts cache hit", zap.String("key", key))
			return Audio{PCM: applyVolume(pcm, volume), SampleRate: s.sampleRate}, nil
		}
	}

	out, err := s.synth.Synthesize(ctx, text, voice)
	if err != nil {
		return Audio{}, fmt.Errorf("synthesize: %w", err)
	}
	if out.SampleRate == 0 {
		out.SampleRate = s.sampleRate
	}
	if cache != nil {
		if err := cache.Put(key, out.PCM); err != nil {
			s.logger.Warn("tts cache put failed", zap.Error(err))
		}
	}
	out.PCM = applyVolume(out.PCM, volume)
	return out, nil
}

// Settings exposes the runtime voice settings.
func (s *Service) Settings() *Settings { return s.settings }

// SampleRate of produced audio.
func (s *Service) SampleRate() int { return s.sampleRate }

// Backend names the active synthesizer.
func (s *Service) Backend() string { return s.backend }

// Ready reports whether real speech is produced.
func (s *Service) Ready() bool { return s.backend != "silent" }

func applyVolume(pcm []byte, volume float64) []byte {
	if volume >= 1 {
		return pcm
	}
	return audio.Scale(pcm, volume)
}
