// Package tts voices assistant replies as 16-bit mono PCM.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("tts: text is required")

// Audio is signed 16-bit little-endian mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Voice selects and tunes the synthesized voice.
type Voice struct {
	ID              string
	Model           string
	LanguageCode    string
	Stability       *float64
	SimilarityBoost *float64
	Speed           *float64
	OptimizeLatency *int
}

// Synthesizer turns text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) (Audio, error)
}
