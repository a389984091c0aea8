package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// ElevenLabsBaseURL is the public API root.
	ElevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	elevenLabsTimeout   = 30 * time.Second
	elevenLabsErrorBody = 4096
)

// ElevenLabs calls the ElevenLabs streaming text-to-speech endpoint and
// requests raw PCM so no transcoding is needed.
type ElevenLabs struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	sampleRate int
}

// NewElevenLabs builds a client. An empty baseURL uses the public API.
func NewElevenLabs(apiKey, baseURL string, sampleRate int) *ElevenLabs {
	if baseURL == "" {
		baseURL = ElevenLabsBaseURL
	}
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &ElevenLabs{
		httpClient: &http.Client{Timeout: elevenLabsTimeout},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		sampleRate: sampleRate,
	}
}

type elevenLabsVoiceSettings struct {
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

type elevenLabsRequest struct {
	Text                     string                   `json:"text"`
	ModelID                  string                   `json:"model_id,omitempty"`
	LanguageCode             string                   `json:"language_code,omitempty"`
	VoiceSettings            *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	OptimizeStreamingLatency *int                     `json:"optimize_streaming_latency,omitempty"`
}

// Synthesize returns the whole utterance as PCM at the client's sample rate.
func (c *ElevenLabs) Synthesize(ctx context.Context, text string, voice Voice) (Audio, error) {
	if voice.ID == "" {
		return Audio{}, fmt.Errorf("elevenlabs: voice_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return Audio{}, ErrEmptyText
	}

	body := elevenLabsRequest{
		Text:                     text,
		ModelID:                  voice.Model,
		LanguageCode:             voice.LanguageCode,
		OptimizeStreamingLatency: voice.OptimizeLatency,
	}
	if voice.Stability != nil || voice.SimilarityBoost != nil || voice.Speed != nil {
		body.VoiceSettings = &elevenLabsVoiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
			Speed:           voice.Speed,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_%d", c.baseURL, voice.ID, c.sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, elevenLabsErrorBody))
		return Audio{}, fmt.Errorf("elevenlabs: API error (status %d): %s", resp.StatusCode, string(msg))
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return Audio{PCM: pcm, SampleRate: c.sampleRate}, nil
}
