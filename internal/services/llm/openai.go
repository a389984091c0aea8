package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	openAIEventOutputTextDelta = "response.output_text.delta"
	openAIEventCompleted       = "response.completed"
	openAIEventFailed          = "response.failed"
	openAIEventError           = "error"
)

// OpenAIConfig configures the OpenAI Responses provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// MaxRetries overrides the SDK retry count. Nil keeps the SDK default.
	MaxRetries *int
}

// OpenAI streams completions through the OpenAI Responses API.
type OpenAI struct {
	responses openAIResponsesClient
	listModels func(ctx context.Context) error
}

type openAIResponsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) openAIResponseStream
}

type openAIResponseStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
	Close() error
}

type openAIResponseServiceAdapter struct {
	service responses.ResponseService
}

func (a openAIResponseServiceAdapter) NewStreaming(
	ctx context.Context,
	body responses.ResponseNewParams,
	opts ...option.RequestOption,
) openAIResponseStream {
	return a.service.NewStreaming(ctx, body, opts...)
}

// NewOpenAI builds an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("new openai provider: missing api_key: %w", ErrNotConfigured)
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("new openai provider: parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("new openai provider: parse base_url: must include scheme and host")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("new openai provider: max_retries must be >= 0")
	}

	client := openai.NewClient(OpenAIOptions(cfg)...)
	models := client.Models
	return &OpenAI{
		responses: openAIResponseServiceAdapter{service: client.Responses},
		listModels: func(ctx context.Context) error {
			_, err := models.List(ctx)
			return err
		},
	}, nil
}

// OpenAIOptions converts cfg to SDK request options. The Whisper transcriber
// shares them so both clients hit the same endpoint.
func OpenAIOptions(cfg OpenAIConfig) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}
	return opts
}

// GenerateStream starts one Responses streaming request.
func (p *OpenAI) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	if p == nil || p.responses == nil {
		return nil, fmt.Errorf("openai generate stream: %w", ErrNotConfigured)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("openai generate stream validate request: %w", err)
	}

	params, err := mapOpenAIRequest(req)
	if err != nil {
		return nil, fmt.Errorf("openai generate stream map request: %w", err)
	}
	stream := p.responses.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("openai generate stream: openai stream is nil")
	}
	return &openAIStream{stream: stream}, nil
}

// Ping lists models, which fails on a bad key or an unreachable endpoint.
func (p *OpenAI) Ping(ctx context.Context) error {
	if p == nil || p.listModels == nil {
		return ErrNotConfigured
	}
	if err := p.listModels(ctx); err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

func mapOpenAIRequest(req Request) (responses.ResponseNewParams, error) {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for i, m := range req.Messages {
		var role responses.EasyInputMessageRole
		switch m.Role {
		case RoleSystem:
			role = responses.EasyInputMessageRoleSystem
		case RoleUser:
			role = responses.EasyInputMessageRoleUser
		case RoleAssistant:
			role = responses.EasyInputMessageRoleAssistant
		default:
			return responses.ResponseNewParams{}, fmt.Errorf("messages[%d] role: unsupported role %q", i, m.Role)
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, role))
	}

	params := responses.ResponseNewParams{
		Model: strings.TrimSpace(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	return params, nil
}

type openAIStream struct {
	mu       sync.Mutex
	stream   openAIResponseStream
	closed   bool
	finished bool
}

func (s *openAIStream) Recv(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return Chunk{}, fmt.Errorf("openai stream recv context: %w", err)
		}

		event, err := s.nextEvent(ctx)
		if err != nil {
			return Chunk{}, err
		}

		chunk, done, err := mapOpenAIEvent(event)
		if err != nil {
			return Chunk{}, err
		}
		if done {
			s.mu.Lock()
			s.finished = true
			s.mu.Unlock()
			return Chunk{}, io.EOF
		}
		if chunk.Delta == "" {
			continue
		}
		return chunk, nil
	}
}

func (s *openAIStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.finished = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("openai stream close: %w", err)
	}
	return nil
}

func (s *openAIStream) nextEvent(ctx context.Context) (responses.ResponseStreamEventUnion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.finished || s.stream == nil {
		s.finished = true
		return responses.ResponseStreamEventUnion{}, io.EOF
	}
	if !s.stream.Next() {
		s.finished = true
		err := s.stream.Err()
		if err == nil {
			return responses.ResponseStreamEventUnion{}, io.EOF
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream context: %w", ctxErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream canceled: %w", err)
		}
		return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream next: %w", err)
	}
	return s.stream.Current(), nil
}

func mapOpenAIEvent(event responses.ResponseStreamEventUnion) (Chunk, bool, error) {
	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case "":
		return Chunk{}, false, fmt.Errorf("openai stream parse event: missing type")
	case openAIEventOutputTextDelta:
		if !event.JSON.Delta.Valid() {
			return Chunk{}, false, fmt.Errorf("openai stream parse event %s: missing delta", eventType)
		}
		return Chunk{Delta: event.Delta}, false, nil
	case openAIEventCompleted:
		return Chunk{}, true, nil
	case openAIEventFailed:
		status := strings.TrimSpace(string(event.Response.Status))
		if status == "" {
			status = "unknown"
		}
		return Chunk{}, false, fmt.Errorf("openai stream response failed: status=%s", status)
	case openAIEventError:
		message := strings.TrimSpace(event.Message)
		if message == "" {
			message = "unknown error"
		}
		if code := strings.TrimSpace(event.Code); code != "" {
			return Chunk{}, false, fmt.Errorf("openai stream error %s: %s", code, message)
		}
		return Chunk{}, false, fmt.Errorf("openai stream error: %s", message)
	default:
		// Non-text events (reasoning, tool calls, progress) are skipped.
		return Chunk{}, false, nil
	}
}
