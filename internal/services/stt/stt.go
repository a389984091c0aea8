// Package stt turns recorded speech into text.
package stt

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoAudio is returned for an empty upload or utterance.
	ErrNoAudio = errors.New("stt: no audio")
	// ErrNotConfigured is returned when no transcription backend is available.
	ErrNotConfigured = errors.New("stt: not configured")
)

// Input is one utterance. Audio is either a complete audio file (WAV, MP3,
// ...) named by Filename, or raw PCM16 mono when SampleRate is set.
type Input struct {
	Audio      []byte
	Filename   string
	SampleRate int
	Language   string
	Prompt     string
}

// Result is the transcript of one utterance.
type Result struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration time.Duration `json:"-"`
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, in Input) (Result, error)
}
