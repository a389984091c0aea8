package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ollamaDefaultTimeout = 120 * time.Second
	ollamaErrorBodyLimit = 4096
)

// OllamaConfig configures a local Ollama endpoint.
type OllamaConfig struct {
	Host       string
	HTTPClient *http.Client
}

// Ollama talks to a local Ollama server. Replies are not streamed; the whole
// message arrives as a single chunk.
type Ollama struct {
	host   string
	client *http.Client
}

// NewOllama builds an Ollama provider.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("new ollama provider: missing host: %w", ErrNotConfigured)
	}
	parsed, err := url.Parse(host)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("new ollama provider: host %q must include scheme and host", host)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: ollamaDefaultTimeout}
	}
	return &Ollama{host: host, client: client}, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// GenerateStream posts one /api/chat request and returns its reply as a stream.
func (p *Ollama) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("ollama generate validate request: %w", err)
	}

	body := ollamaChatRequest{
		Model:  strings.TrimSpace(req.Model),
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
			NumPredict:  req.MaxOutputTokens,
		},
	}
	if req.Temperature > 0 {
		body.Options.Temperature = req.Temperature
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama generate: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, ollamaErrorBodyLimit))
		return nil, fmt.Errorf("ollama generate: API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ollama generate: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("ollama generate: %s", decoded.Error)
	}
	return newSliceStream(decoded.Message.Content), nil
}

// Ping checks GET /api/tags.
func (p *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama ping: status %d", resp.StatusCode)
	}
	return nil
}
