package chat

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nathy/internal/services/history"
	"nathy/internal/services/llm"
	"nathy/internal/services/memory"
)

type stubStream struct {
	chunks []string
	err    error
}

func (s *stubStream) Recv(context.Context) (llm.Chunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return llm.Chunk{}, s.err
		}
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return llm.Chunk{Delta: c}, nil
}

func (s *stubStream) Close() error { return nil }

type stubProvider struct {
	mu      sync.Mutex
	reqs    []llm.Request
	chunks  []string
	err     error
	recvErr error
	pingErr error
}

func (p *stubProvider) GenerateStream(_ context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return nil, p.err
	}
	return &stubStream{chunks: append([]string(nil), p.chunks...), err: p.recvErr}, nil
}

func (p *stubProvider) Ping(context.Context) error { return p.pingErr }

func (p *stubProvider) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.reqs)
	return p.reqs[len(p.reqs)-1]
}

func newTestEngine(t *testing.T, provider llm.Provider) (*Engine, memory.Store, history.History) {
	t.Helper()
	store, err := memory.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "facts.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	hist := history.NewMemory(10)

	engine, err := New(Options{
		Provider:       provider,
		ProviderName:   "stub",
		Model:          "test-model",
		SystemPrompt:   "Você é a Nathy.",
		Temperature:    0.7,
		RequestTimeout: time.Second,
		HistoryTurns:   10,
		FactsLimit:     6,
		Memory:         store,
		History:        hist,
	})
	require.NoError(t, err)
	return engine, store, hist
}

func TestReplyStreamsAndRecordsHistory(t *testing.T) {
	provider := &stubProvider{chunks: []string{"Oi, ", "Ana!"}}
	engine, _, hist := newTestEngine(t, provider)

	var deltas []string
	reply, err := engine.ReplyStream(context.Background(), "ana", "  Olá Nathy  ", func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "Oi, Ana!", reply.Text)
	assert.False(t, reply.Fallback)
	assert.Equal(t, []string{"Oi, ", "Ana!"}, deltas)

	req := provider.lastRequest(t)
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Você é a Nathy.", req.Messages[0].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "Olá Nathy"}, req.Messages[1])

	turns, err := hist.Recent(context.Background(), "ana", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, history.RoleUser, turns[0].Role)
	assert.Equal(t, "Olá Nathy", turns[0].Content)
	assert.Equal(t, "Oi, Ana!", turns[1].Content)

	_, err = engine.Reply(context.Background(), "ana", "e aí")
	require.NoError(t, err)
	req = provider.lastRequest(t)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, llm.RoleAssistant, req.Messages[2].Role)
}

func TestReplyRemembersFacts(t *testing.T) {
	provider := &stubProvider{chunks: []string{"Que legal!"}}
	engine, store, _ := newTestEngine(t, provider)
	ctx := context.Background()

	_, err := engine.Reply(ctx, "bia", "Meu nome é Bia e eu gosto de gatos")
	require.NoError(t, err)

	facts, err := store.Facts(ctx, "bia", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Meu nome é Bia e eu gosto de gatos", facts[0].Text)

	reply, err := engine.Reply(ctx, "bia", "Você lembra dos meus gatos?")
	require.NoError(t, err)
	assert.Contains(t, reply.Facts, "Meu nome é Bia e eu gosto de gatos")

	system := provider.lastRequest(t).Messages[0].Content
	assert.True(t, strings.HasPrefix(system, "Você é a Nathy."+factsHeader+"- "))
	assert.Contains(t, system, "- Meu nome é Bia e eu gosto de gatos")
}

func TestReplyFallsBackOnProviderError(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}
	engine, _, hist := newTestEngine(t, provider)

	var deltas []string
	reply, err := engine.ReplyStream(context.Background(), "", "Oi Nathy", func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Contains(t, llm.FallbackReplies(llm.Classify("Oi Nathy")), reply.Text)
	assert.Equal(t, []string{reply.Text}, deltas)

	turns, err := hist.Recent(context.Background(), "default", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestReplyKeepsPartialTextOnInterruptedStream(t *testing.T) {
	provider := &stubProvider{chunks: []string{"Eu acho"}, recvErr: errors.New("reset")}
	engine, _, _ := newTestEngine(t, provider)

	reply, err := engine.Reply(context.Background(), "u", "pergunta?")
	require.NoError(t, err)
	assert.Equal(t, "Eu acho", reply.Text)
	assert.False(t, reply.Fallback)
}

func TestReplyFallsBackOnEmptyAnswer(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubProvider{chunks: []string{"   "}})
	reply, err := engine.Reply(context.Background(), "u", "você é linda")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Contains(t, llm.FallbackReplies(llm.FallbackCompliment), reply.Text)
}

func TestReplyRejectsEmptyMessage(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubProvider{})
	_, err := engine.Reply(context.Background(), "u", " \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestReplyReturnsCanceledContext(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubProvider{err: context.Canceled})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Reply(ctx, "u", "oi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemPromptUpdate(t *testing.T) {
	provider := &stubProvider{chunks: []string{"ok"}}
	engine, _, _ := newTestEngine(t, provider)

	require.Error(t, engine.SetSystemPrompt("  "))
	require.NoError(t, engine.SetSystemPrompt(" Seja breve. "))
	assert.Equal(t, "Seja breve.", engine.SystemPrompt())

	_, err := engine.Reply(context.Background(), "u", "oi")
	require.NoError(t, err)
	assert.Equal(t, "Seja breve.", provider.lastRequest(t).Messages[0].Content)
}

func TestStatus(t *testing.T) {
	provider := &stubProvider{}
	engine, _, _ := newTestEngine(t, provider)
	assert.Equal(t, Status{Provider: "stub", Connected: true}, engine.Status(context.Background()))

	provider.pingErr = errors.New("down")
	assert.False(t, engine.Status(context.Background()).Connected)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Model: "m"})
	assert.ErrorContains(t, err, "nil provider")
	_, err = New(Options{Provider: &stubProvider{}})
	assert.ErrorContains(t, err, "missing model")
}
