// Package chat turns one user message into one assistant reply, weaving in
// remembered facts and recent conversation turns.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"nathy/internal/services/history"
	"nathy/internal/services/llm"
	"nathy/internal/services/memory"
)

// ErrEmptyMessage is returned for blank user input.
var ErrEmptyMessage = errors.New("chat: empty message")

const (
	factsHeader = "\n\nMemórias relevantes sobre o usuário:\n"
	pingTimeout = 5 * time.Second
)

// Options wires an Engine. Memory and History are optional.
type Options struct {
	Provider        llm.Provider
	ProviderName    string
	Model           string
	SystemPrompt    string
	Temperature     float64
	MaxOutputTokens int
	RequestTimeout  time.Duration
	HistoryTurns    int
	FactsLimit      int
	Memory          memory.Store
	History         history.History
	Logger          *zap.Logger
}

// Reply is the outcome of one exchange.
type Reply struct {
	Text string `json:"reply"`
	// Fallback is set when the provider failed and a canned reply was used.
	Fallback bool     `json:"fallback,omitempty"`
	Facts    []string `json:"-"`
}

// Status reports provider reachability.
type Status struct {
	Provider  string `json:"llm_provider"`
	Connected bool   `json:"llm_connected"`
}

// Engine is safe for concurrent use.
type Engine struct {
	provider     llm.Provider
	providerName string
	model        string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	historyTurns int
	factsLimit   int
	memory       memory.Store
	history      history.History
	logger       *zap.Logger
	now          func() time.Time

	mu           sync.RWMutex
	systemPrompt string
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("new chat engine: nil provider")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("new chat engine: missing model")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		provider:     opts.Provider,
		providerName: opts.ProviderName,
		model:        opts.Model,
		temperature:  opts.Temperature,
		maxTokens:    opts.MaxOutputTokens,
		timeout:      opts.RequestTimeout,
		historyTurns: opts.HistoryTurns,
		factsLimit:   opts.FactsLimit,
		memory:       opts.Memory,
		history:      opts.History,
		logger:       opts.Logger.Named("chat"),
		now:          time.Now,
		systemPrompt: opts.SystemPrompt,
	}, nil
}

// SystemPrompt returns the persona prompt in use.
func (e *Engine) SystemPrompt() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.systemPrompt
}

// SetSystemPrompt replaces the persona prompt for subsequent replies.
func (e *Engine) SetSystemPrompt(prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("set system prompt: empty prompt")
	}
	e.mu.Lock()
	e.systemPrompt = prompt
	e.mu.Unlock()
	e.logger.Info("system prompt updated", zap.Int("length", len(prompt)))
	return nil
}

// Reply answers text for userID.
func (e *Engine) Reply(ctx context.Context, userID, text string) (Reply, error) {
	return e.ReplyStream(ctx, userID, text, nil)
}

// ReplyStream answers text for userID, calling onDelta for every generated
// chunk. When the provider fails before producing anything, the fallback reply
// is delivered through onDelta as a single chunk.
func (e *Engine) ReplyStream(ctx context.Context, userID, text string, onDelta func(string)) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	userID = normalizeUser(userID)
	logger := e.logger.With(zap.String("user_id", userID))

	if fact, ok := memory.ExtractFact(text); ok && e.memory != nil {
		if err := e.memory.AddFact(ctx, userID, fact); err != nil {
			logger.Warn("store fact failed", zap.Error(err))
		}
	}

	facts := e.relevantFacts(ctx, logger, userID, text)
	turns := e.recentTurns(ctx, logger, userID)
	req := llm.Request{
		Model:           e.model,
		Messages:        buildMessages(e.SystemPrompt(), facts, turns, text),
		MaxOutputTokens: e.maxTokens,
		Temperature:     e.temperature,
	}

	started := e.now()
	answer, err := e.generate(ctx, req, onDelta)
	reply := Reply{Text: strings.TrimSpace(answer), Facts: facts}
	switch {
	case err != nil && reply.Text != "":
		logger.Warn("llm stream interrupted, keeping partial reply", zap.Error(err))
	case err != nil || reply.Text == "":
		if ctx.Err() != nil {
			return Reply{}, fmt.Errorf("chat reply: %w", ctx.Err())
		}
		logger.Warn("llm generation failed, using fallback",
			zap.String("provider", e.providerName), zap.Error(err))
		reply.Text = llm.Fallback(text)
		reply.Fallback = true
		if onDelta != nil {
			onDelta(reply.Text)
		}
	}
	logger.Debug("reply generated",
		zap.Duration("took", e.now().Sub(started)),
		zap.Int("facts", len(facts)),
		zap.Int("history", len(turns)),
		zap.Bool("fallback", reply.Fallback))

	if e.history != nil && e.historyTurns > 0 {
		now := e.now().UTC()
		err := e.history.Append(ctx, userID,
			history.Turn{Role: history.RoleUser, Content: text, At: now},
			history.Turn{Role: history.RoleAssistant, Content: reply.Text, At: now},
		)
		if err != nil {
			logger.Warn("append history failed", zap.Error(err))
		}
	}
	return reply, nil
}

// Status pings the provider when it supports it.
func (e *Engine) Status(ctx context.Context) Status {
	st := Status{Provider: e.providerName, Connected: true}
	if p, ok := e.provider.(llm.Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			e.logger.Debug("provider ping failed", zap.Error(err))
			st.Connected = false
		}
	}
	return st
}

func (e *Engine) generate(ctx context.Context, req llm.Request, onDelta func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stream, err := e.provider.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}
	return llm.Collect(ctx, stream, onDelta)
}

func (e *Engine) relevantFacts(ctx context.Context, logger *zap.Logger, userID, text string) []string {
	if e.memory == nil || e.factsLimit <= 0 {
		return nil
	}
	facts, err := e.memory.TopFacts(ctx, userID, text, e.factsLimit)
	if err != nil {
		logger.Warn("load facts failed", zap.Error(err))
		return nil
	}
	return facts
}

func (e *Engine) recentTurns(ctx context.Context, logger *zap.Logger, userID string) []history.Turn {
	if e.history == nil || e.historyTurns <= 0 {
		return nil
	}
	turns, err := e.history.Recent(ctx, userID, e.historyTurns)
	if err != nil {
		logger.Warn("load history failed", zap.Error(err))
		return nil
	}
	return turns
}

func buildMessages(systemPrompt string, facts []string, turns []history.Turn, text string) []llm.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)
	if len(facts) > 0 {
		sys.WriteString(factsHeader)
		for i, f := range facts {
			if i > 0 {
				sys.WriteByte('\n')
			}
			sys.WriteString("- ")
			sys.WriteString(f)
		}
	}

	messages := make([]llm.Message, 0, len(turns)+2)
	if s := strings.TrimSpace(sys.String()); s != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s})
	}
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == history.RoleAssistant {
			role = llm.RoleAssistant
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: text})
}

func normalizeUser(userID string) string {
	if u := strings.TrimSpace(userID); u != "" {
		return u
	}
	return "default"
}
