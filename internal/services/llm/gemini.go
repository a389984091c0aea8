package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const geminiAPIVersion = "v1beta"

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

// Gemini streams completions from the Gemini API.
type Gemini struct {
	models     geminiModelsClient
	listModels func(ctx context.Context) error
}

type geminiModelsClient interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// NewGemini builds a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("new gemini provider: missing api_key: %w", ErrNotConfigured)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimSpace(cfg.BaseURL),
			APIVersion: geminiAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}
	models := client.Models
	return &Gemini{
		models: models,
		listModels: func(ctx context.Context) error {
			_, err := models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
			return err
		},
	}, nil
}

// GenerateStream starts one streaming generation.
func (p *Gemini) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	if p == nil || p.models == nil {
		return nil, fmt.Errorf("gemini generate stream: %w", ErrNotConfigured)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("gemini generate stream validate request: %w", err)
	}
	contents, config, err := mapGeminiRequest(req)
	if err != nil {
		return nil, fmt.Errorf("gemini generate stream map request: %w", err)
	}
	// The caller's context is the only deadline for streams.
	noTimeout := time.Duration(0)
	config.HTTPOptions = &genai.HTTPOptions{Timeout: &noTimeout}

	seq := p.models.GenerateContentStream(ctx, strings.TrimSpace(req.Model), contents, config)
	if seq == nil {
		return nil, fmt.Errorf("gemini generate stream: stream is nil")
	}
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}, nil
}

// Ping lists one model to check the key and the endpoint.
func (p *Gemini) Ping(ctx context.Context) error {
	if p == nil || p.listModels == nil {
		return ErrNotConfigured
	}
	if err := p.listModels(ctx); err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

func mapGeminiRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for i, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{Text: m.Content}}})
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{{Text: m.Content}}})
		default:
			return nil, nil, fmt.Errorf("messages[%d] role: unsupported role %q", i, m.Role)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("missing non-system messages")
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if req.MaxOutputTokens > 0 {
		if req.MaxOutputTokens > math.MaxInt32 {
			return nil, nil, fmt.Errorf("max_output_tokens exceeds int32 range")
		}
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	return contents, config, nil
}

type geminiStream struct {
	mu       sync.Mutex
	next     func() (*genai.GenerateContentResponse, error, bool)
	stop     func()
	finished bool
	pending  []Chunk
}

func (s *geminiStream) Recv(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return Chunk{}, fmt.Errorf("gemini stream recv context: %w", err)
		}

		s.mu.Lock()
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return c, nil
		}
		if s.finished || s.next == nil {
			s.mu.Unlock()
			return Chunk{}, io.EOF
		}
		next := s.next
		s.mu.Unlock()

		resp, err, ok := next()
		if !ok {
			s.markFinished()
			return Chunk{}, io.EOF
		}
		if err != nil {
			s.markFinished()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Chunk{}, fmt.Errorf("gemini stream context: %w", ctxErr)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Chunk{}, fmt.Errorf("gemini stream canceled: %w", err)
			}
			return Chunk{}, fmt.Errorf("gemini stream next: %w", err)
		}

		chunks := geminiChunks(resp)
		if len(chunks) == 0 {
			continue
		}
		s.mu.Lock()
		s.pending = append(s.pending, chunks[1:]...)
		s.mu.Unlock()
		return chunks[0], nil
	}
}

func (s *geminiStream) Close() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.next = nil
	s.finished = true
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	return nil
}

func (s *geminiStream) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

// geminiChunks keeps visible text parts of the first candidate; thought parts are dropped.
func geminiChunks(resp *genai.GenerateContentResponse) []Chunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []Chunk
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" || part.Thought {
			continue
		}
		out = append(out, Chunk{Delta: part.Text})
	}
	return out
}
