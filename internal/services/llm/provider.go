// Package llm defines a provider-neutral, stream-first text generation contract
// and its OpenAI, Gemini and Ollama implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrUnknownProvider is returned when a registry has no provider for a name.
	ErrUnknownProvider = errors.New("unknown llm provider")
	// ErrNotConfigured is returned by providers missing mandatory settings.
	ErrNotConfigured = errors.New("llm provider not configured")
)

// Provider exposes one streaming generation operation.
type Provider interface {
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

// Pinger is implemented by providers that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stream is a pull-based stream of generated text.
type Stream interface {
	// Recv returns the next chunk, or io.EOF once the stream completes normally.
	Recv(ctx context.Context) (Chunk, error)
	// Close releases provider resources. It is safe to call more than once.
	Close() error
}

// Role identifies one side of the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Validate checks whether this role value is supported.
func (r Role) Validate() error {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("validate llm role: unsupported role %q", r)
	}
}

// Message is one ordered entry of a generation request.
type Message struct {
	Role    Role
	Content string
}

// Validate checks one message.
func (m Message) Validate() error {
	if err := m.Role.Validate(); err != nil {
		return fmt.Errorf("validate llm message: %w", err)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("validate llm message: missing content")
	}
	return nil
}

// Request describes one generation call.
type Request struct {
	Model           string
	Messages        []Message
	MaxOutputTokens int
	Temperature     float64
}

// Validate checks the request contract.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("validate llm request: missing model")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("validate llm request: missing messages")
	}
	for i, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("validate llm request messages[%d]: %w", i, err)
		}
	}
	if r.MaxOutputTokens < 0 {
		return fmt.Errorf("validate llm request: max_output_tokens must be >= 0")
	}
	if r.Temperature < 0 {
		return fmt.Errorf("validate llm request: temperature must be >= 0")
	}
	return nil
}

// Chunk carries incremental text.
type Chunk struct {
	Delta string
}

// Collect drains stream into one string, calling onDelta (if non-nil) for every
// chunk. The stream is always closed.
func Collect(ctx context.Context, stream Stream, onDelta func(string)) (string, error) {
	defer func() { _ = stream.Close() }()

	var b strings.Builder
	for {
		chunk, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), fmt.Errorf("collect llm stream: %w", err)
		}
		b.WriteString(chunk.Delta)
		if onDelta != nil {
			onDelta(chunk.Delta)
		}
	}
}

// sliceStream replays fixed chunks. Ollama answers in one piece.
type sliceStream struct {
	chunks []Chunk
	closed bool
}

func newSliceStream(text ...string) *sliceStream {
	s := &sliceStream{}
	for _, t := range text {
		if t != "" {
			s.chunks = append(s.chunks, Chunk{Delta: t})
		}
	}
	return s
}

func (s *sliceStream) Recv(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, fmt.Errorf("llm stream recv context: %w", err)
	}
	if s.closed || len(s.chunks) == 0 {
		return Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
