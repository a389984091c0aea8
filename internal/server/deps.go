package server

import (
	"context"

	"go.uber.org/zap"

	"nathy/internal/services/chat"
	"nathy/internal/services/embeddings"
	"nathy/internal/services/history"
	"nathy/internal/services/memory"
	"nathy/internal/services/stt"
	"nathy/internal/services/tts"
)

// ChatService answers user messages.
type ChatService interface {
	ReplyStream(ctx context.Context, userID, text string, onDelta func(string)) (chat.Reply, error)
	SetSystemPrompt(prompt string) error
	Status(ctx context.Context) chat.Status
}

// Speaker voices replies. *tts.Service implements it.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (tts.Audio, error)
	Settings() *tts.Settings
	SampleRate() int
	Ready() bool
}

// Dependencies are the services behind the HTTP and WebSocket surface.
// Every field except Chat may be nil; the matching routes then answer 503.
type Dependencies struct {
	Chat       ChatService
	Memory     memory.Store
	History    history.History
	TTS        Speaker
	STT        stt.Transcriber
	Embeddings embeddings.Service
	Logger     *zap.Logger
}

func (d Dependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
