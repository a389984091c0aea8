package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nathy/internal/audio"
	"nathy/internal/services/chat"
	"nathy/internal/services/embeddings"
	"nathy/internal/services/history"
	"nathy/internal/services/memory"
	"nathy/internal/services/stt"
	"nathy/internal/services/tts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChat struct {
	mu       sync.Mutex
	prompt   string
	deltas   []string
	err      error
	fallback bool
	pingOK   bool
	calls    []string
	block    chan struct{}
}

func (f *fakeChat) ReplyStream(ctx context.Context, userID, text string, onDelta func(string)) (chat.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userID+":"+text)
	deltas, err, block := f.deltas, f.err, f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return chat.Reply{}, ctx.Err()
		}
	}
	if err != nil {
		return chat.Reply{}, err
	}
	if strings.TrimSpace(text) == "" {
		return chat.Reply{}, chat.ErrEmptyMessage
	}
	var b strings.Builder
	for _, d := range deltas {
		if onDelta != nil {
			onDelta(d)
		}
		b.WriteString(d)
	}
	return chat.Reply{Text: b.String(), Fallback: f.fallback}, nil
}

func (f *fakeChat) SetSystemPrompt(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("empty")
	}
	f.mu.Lock()
	f.prompt = p
	f.mu.Unlock()
	return nil
}

func (f *fakeChat) Status(context.Context) chat.Status {
	return chat.Status{Provider: "openai", Connected: f.pingOK}
}

func (f *fakeChat) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// setBlock makes replies wait until ch is closed.
func (f *fakeChat) setBlock(ch chan struct{}) {
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
}

func (f *fakeChat) Prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompt
}

func (f *fakeChat) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeMemory struct {
	mu    sync.Mutex
	facts map[string][]memory.Fact
}

func newFakeMemory() *fakeMemory { return &fakeMemory{facts: map[string][]memory.Fact{}} }

func (m *fakeMemory) AddFact(_ context.Context, userID, fact string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[userID] = append(m.facts[userID], memory.Fact{
		ID: int64(len(m.facts[userID]) + 1), UserID: userID, Text: fact, CreatedAt: time.Unix(0, 0).UTC(),
	})
	return nil
}

func (m *fakeMemory) TopFacts(context.Context, string, string, int) ([]string, error) { return nil, nil }

func (m *fakeMemory) Facts(_ context.Context, userID string, limit int) ([]memory.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]memory.Fact(nil), m.facts[userID]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *fakeMemory) Forget(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.facts[userID]))
	delete(m.facts, userID)
	return n, nil
}

func (m *fakeMemory) Close() error { return nil }

type fakeSynth struct{}

func (fakeSynth) Synthesize(_ context.Context, text string, _ tts.Voice) (tts.Audio, error) {
	return tts.Audio{PCM: bytes.Repeat([]byte{1, 0}, len(text))}, nil
}

type fakeSTT struct {
	text string
	err  error
	got  chan stt.Input
}

func (f *fakeSTT) Transcribe(_ context.Context, in stt.Input) (stt.Result, error) {
	select {
	case f.got <- in:
	default:
	}
	if f.err != nil {
		return stt.Result{}, f.err
	}
	if len(in.Audio) == 0 {
		return stt.Result{}, stt.ErrNoAudio
	}
	return stt.Result{Text: f.text, Language: "pt"}, nil
}

type fixture struct {
	chat   *fakeChat
	memory *fakeMemory
	hist   *history.MemoryHistory
	tts    *tts.Service
	stt    *fakeSTT
	server *httptest.Server
}

func newFixture(t *testing.T, o Options) *fixture {
	t.Helper()
	f := &fixture{
		chat:   &fakeChat{deltas: []string{"Oi", "ee!"}, pingOK: true},
		memory: newFakeMemory(),
		hist:   history.NewMemory(10),
		tts:    tts.NewService(fakeSynth{}, nil, tts.NewSettings(tts.Voice{ID: "v"}), 16000, "elevenlabs", nil),
		stt:    &fakeSTT{text: "olá", got: make(chan stt.Input, 8)},
	}
	h := New(Dependencies{
		Chat:       f.chat,
		Memory:     f.memory,
		History:    f.hist,
		TTS:        f.tts,
		STT:        f.stt,
		Embeddings: embeddings.NewHashed(),
	}, o)
	f.server = httptest.NewServer(h)
	t.Cleanup(func() {
		f.server.Client().CloseIdleConnections()
		f.server.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m), string(data))
	return m
}

func TestPingAndHealth(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "awake", "service": "nathy-vtuber"}, decode(t, body))

	resp, body = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestIndexAndStatic(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "/static/app.js")

	resp, body = f.do(t, http.MethodGet, "/static/app.js", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "start_listening")

	resp, _ = f.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticDirOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.js"), []byte("console.log('custom')"), 0o644))
	f := newFixture(t, Options{StaticDir: dir})

	resp, body := f.do(t, http.MethodGet, "/static/custom.js", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "custom")
}

func TestChatEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodPost, "/api/chat", `{"text":"oi"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "Oiee!", decode(t, body)["reply"])
	assert.Equal(t, []string{"default:oi"}, f.chat.Calls())

	resp, body = f.do(t, http.MethodPost, "/api/chat", `{"user_id":"ana","text":"  "}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "text is required", decode(t, body)["detail"])

	resp, body = f.do(t, http.MethodPost, "/api/chat", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid json", decode(t, body)["detail"])

	f.chat.setErr(errors.New("db down"))
	resp, body = f.do(t, http.MethodPost, "/api/chat", `{"text":"oi"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "db down", decode(t, body)["detail"])

	resp, _ = f.do(t, http.MethodGet, "/api/chat", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	resp, body := f.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{
		"status":        "running",
		"llm_provider":  "openai",
		"llm_connected": true,
		"stt_ready":     true,
		"tts_ready":     true,
	}, decode(t, body))
}

func TestSystemPromptUpdate(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodPost, "/api/update_system_prompt", `{"prompt":"Seja breve."}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "success", "message": "System prompt updated"}, decode(t, body))
	assert.Equal(t, "Seja breve.", f.chat.Prompt())

	resp, _ = f.do(t, http.MethodPost, "/api/update_system_prompt", `{"prompt":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVoiceSettingsUpdate(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodPost, "/api/update_voice_settings", `{"speed":1.1,"volume":0.5}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	got := decode(t, body)
	assert.Equal(t, "Voice settings updated", got["message"])
	assert.Equal(t, 0.5, f.tts.Settings().Volume())
	assert.Equal(t, 1.1, *f.tts.Settings().Voice().Speed)

	resp, body = f.do(t, http.MethodPost, "/api/update_voice_settings", `{"speed":2}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, body)["detail"], "speed")
}

func TestAdminRoutesRequireBearerInProduction(t *testing.T) {
	f := newFixture(t, Options{Production: true, SecretKey: "s3cret"})

	resp, body := f.do(t, http.MethodPost, "/api/update_system_prompt", `{"prompt":"x"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized", decode(t, body)["detail"])

	resp, _ = f.do(t, http.MethodDelete, "/api/memory/ana", "", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/update_system_prompt", `{"prompt":"x"}`,
		http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/chat", `{"text":"oi"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "chat stays public")
}

func TestMemoryRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.memory.AddFact(ctx, "ana", "Eu gosto de gatos."))
	require.NoError(t, f.memory.AddFact(ctx, "ana", "Eu moro em Recife."))
	require.NoError(t, f.hist.Append(ctx, "ana", history.Turn{Role: history.RoleUser, Content: "oi"}))

	resp, body := f.do(t, http.MethodGet, "/api/memory/ana?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode(t, body)
	assert.Equal(t, "ana", got["user_id"])
	assert.EqualValues(t, 1, got["count"])
	facts := got["facts"].([]any)
	assert.Equal(t, "Eu gosto de gatos.", facts[0].(map[string]any)["fact"])

	resp, _ = f.do(t, http.MethodGet, "/api/memory/ana?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodDelete, "/api/memory/ana", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decode(t, body)["deleted"])

	turns, err := f.hist.Recent(ctx, "ana", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTTSEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodPost, "/v1/tts", `{"text":"abc"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	pcm, rate, err := audio.DecodeWAV(body)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Len(t, pcm, 6)

	resp, _ = f.do(t, http.MethodPost, "/v1/tts", `{"text":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscriptionEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	require.NoError(t, err)
	_, _ = fw.Write(audio.EncodeWAV(make([]byte, 320), 16000))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/audio/transcriptions", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, map[string]any{"text": "olá", "language": "pt"}, decode(t, body))

	resp2, body2 := f.do(t, http.MethodPost, "/v1/audio/transcriptions", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Contains(t, decode(t, body2)["detail"], "missing form file")
}

func TestEmbeddingsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodPost, "/v1/embeddings", `{"input":["gatos","cachorros"]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got embeddingsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "list", got.Object)
	assert.Equal(t, embeddings.ModelHashed, got.Model)
	require.Len(t, got.Data, 2)
	for i, item := range got.Data {
		assert.Equal(t, "embedding", item.Object)
		assert.Equal(t, i, item.Index)
		assert.Len(t, item.Embedding, embeddings.Dim)
	}
	assert.NotEqual(t, got.Data[0].Embedding, got.Data[1].Embedding)

	resp, _ = f.do(t, http.MethodPost, "/v1/embeddings", `{"input":42}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisabledServicesAnswer503(t *testing.T) {
	ts := httptest.NewServer(New(Dependencies{Chat: &fakeChat{}}, Options{}))
	defer ts.Close()
	defer ts.Client().CloseIdleConnections()

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/v1/tts", `{"text":"oi"}`},
		{http.MethodPost, "/v1/audio/transcriptions", ""},
		{http.MethodPost, "/v1/embeddings", `{"input":"x"}`},
		{http.MethodGet, "/api/memory/u", ""},
		{http.MethodPost, "/api/update_voice_settings", `{}`},
	} {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, strings.NewReader(tc.body))
		require.NoError(t, err)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, tc.path)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Options{})

	resp, _ := f.do(t, http.MethodOptions, "/api/chat", "", http.Header{
		"Origin":                         {"http://localhost:5173"},
		"Access-Control-Request-Method":  {"POST"},
		"Access-Control-Request-Headers": {"content-type"},
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))

	resp, _ = f.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
