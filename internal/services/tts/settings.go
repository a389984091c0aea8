package tts

import (
	"fmt"
	"sync"
)

// VoiceSettingsUpdate carries the optional fields of a settings change.
type VoiceSettingsUpdate struct {
	Speed           *float64 `json:"speed,omitempty"`
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
	Volume          *float64 `json:"volume,omitempty"`
}

// VoiceSettingsSnapshot is the current voice tuning as reported to clients.
type VoiceSettingsSnapshot struct {
	VoiceID         string   `json:"voice_id"`
	Model           string   `json:"model"`
	Speed           *float64 `json:"speed,omitempty"`
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
	Volume          float64  `json:"volume"`
}

// Settings holds the voice used for new syntheses. Updates apply to the
// next reply; audio already produced is not affected.
type Settings struct {
	mu     sync.RWMutex
	voice  Voice
	volume float64
}

// NewSettings starts from voice at full volume.
func NewSettings(voice Voice) *Settings {
	return &Settings{voice: voice, volume: 1}
}

// Update validates every provided field before applying any of them.
func (s *Settings) Update(u VoiceSettingsUpdate) error {
	if u.Speed != nil && (*u.Speed <= 0.7 || *u.Speed > 1.2) {
		return fmt.Errorf("speed must be in (0.7, 1.2], got %g", *u.Speed)
	}
	if err := unitRange("stability", u.Stability); err != nil {
		return err
	}
	if err := unitRange("similarity_boost", u.SimilarityBoost); err != nil {
		return err
	}
	if err := unitRange("volume", u.Volume); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Speed != nil {
		s.voice.Speed = ptr(*u.Speed)
	}
	if u.Stability != nil {
		s.voice.Stability = ptr(*u.Stability)
	}
	if u.SimilarityBoost != nil {
		s.voice.SimilarityBoost = ptr(*u.SimilarityBoost)
	}
	if u.Volume != nil {
		s.volume = *u.Volume
	}
	return nil
}

// Voice returns a copy of the current voice.
func (s *Settings) Voice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voice
}

// Volume returns the output gain in [0,1].
func (s *Settings) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// Snapshot reports the current tuning.
func (s *Settings) Snapshot() VoiceSettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return VoiceSettingsSnapshot{
		VoiceID:         s.voice.ID,
		Model:           s.voice.Model,
		Speed:           s.voice.Speed,
		Stability:       s.voice.Stability,
		SimilarityBoost: s.voice.SimilarityBoost,
		Volume:          s.volume,
	}
}

func unitRange(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be in [0, 1], got %g", name, *v)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
