package tts

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// bytesPerChar is 10 ms of 16 kHz PCM16 per input byte.
const bytesPerChar = 320

// Silent produces deterministic silence proportional to the text length. It
// stands in for ElevenLabs when no API key is configured.
type Silent struct {
	sampleRate int
	logger     *zap.Logger
}

// NewSilent returns a stub synthesizer.
func NewSilent(sampleRate int, logger *zap.Logger) *Silent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &Silent{sampleRate: sampleRate, logger: logger}
}

func (s *Silent) Synthesize(_ context.Context, text string, voice Voice) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, ErrEmptyText
	}
	n := len(text) * bytesPerChar
	s.logger.Debug("silent synthesis",
		zap.Int("text_length", len(text)),
		zap.String("voice_id", voice.ID),
		zap.Int("bytes", n))
	return Audio{PCM: make([]byte, n), SampleRate: s.sampleRate}, nil
}
