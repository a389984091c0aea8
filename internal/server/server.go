// Package server exposes the assistant over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"nathy/internal/audio"
	"nathy/internal/services/chat"
	"nathy/internal/services/stt"
	"nathy/internal/services/tts"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 25 << 20
	defaultUserID = "default"
)

// Options tune the HTTP surface.
type Options struct {
	// Production enables bearer-token checks on admin routes.
	Production bool
	SecretKey  string
	// StaticDir replaces the embedded assets when set.
	StaticDir string
	WS        WSOptions
}

// New builds the complete handler: routes, UI, WebSocket and middleware.
func New(d Dependencies, o Options) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, d, o)
	RegisterUI(mux, o.StaticDir, d.logger())
	RegisterWSRoutes(mux, d, o.WS)
	return withRecover(d.logger(), withLogging(d.logger(), withCORS(mux)))
}

// RegisterRoutes mounts the JSON API and the OpenAI-style audio routes.
func RegisterRoutes(mux *http.ServeMux, d Dependencies, o Options) {
	admin := func(h http.HandlerFunc) http.Handler {
		return requireBearer(o.Production, o.SecretKey, h)
	}

	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "awake", "service": "nathy-vtuber"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) { handleChat(w, r, d) })
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) { handleStatus(w, r, d) })
	mux.Handle("POST /api/update_system_prompt", admin(func(w http.ResponseWriter, r *http.Request) {
		handleUpdateSystemPrompt(w, r, d)
	}))
	mux.Handle("POST /api/update_voice_settings", admin(func(w http.ResponseWriter, r *http.Request) {
		handleUpdateVoiceSettings(w, r, d)
	}))
	mux.HandleFunc("GET /api/memory/{user_id}", func(w http.ResponseWriter, r *http.Request) { handleListFacts(w, r, d) })
	mux.Handle("DELETE /api/memory/{user_id}", admin(func(w http.ResponseWriter, r *http.Request) {
		handleForget(w, r, d)
	}))

	mux.HandleFunc("POST /v1/tts", func(w http.ResponseWriter, r *http.Request) { handleTTS(w, r, d) })
	mux.HandleFunc("POST /v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) { handleTranscribe(w, r, d) })
	mux.HandleFunc("POST /v1/embeddings", func(w http.ResponseWriter, r *http.Request) { handleEmbeddings(w, r, d) })
}

// -------- Chat --------

type chatRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func handleChat(w http.ResponseWriter, r *http.Request, d Dependencies) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeDetail(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}
	reply, err := d.Chat.ReplyStream(r.Context(), req.UserID, req.Text, nil)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			writeDetail(w, http.StatusBadRequest, "text is required")
			return
		}
		d.logger().Error("chat failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type statusResponse struct {
	Status       string `json:"status"`
	LLMProvider  string `json:"llm_provider"`
	LLMConnected bool   `json:"llm_connected"`
	STTReady     bool   `json:"stt_ready"`
	TTSReady     bool   `json:"tts_ready"`
}

func handleStatus(w http.ResponseWriter, r *http.Request, d Dependencies) {
	st := d.Chat.Status(r.Context())
	writeJSON(w, http.StatusOK, statusResponse{
		Status:       "running",
		LLMProvider:  st.Provider,
		LLMConnected: st.Connected,
		STTReady:     d.STT != nil,
		TTSReady:     d.TTS != nil && d.TTS.Ready(),
	})
}

type systemPromptRequest struct {
	Prompt string `json:"prompt"`
}

func handleUpdateSystemPrompt(w http.ResponseWriter, r *http.Request, d Dependencies) {
	var req systemPromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := d.Chat.SetSystemPrompt(req.Prompt); err != nil {
		writeDetail(w, http.StatusBadRequest, "prompt is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "System prompt updated"})
}

func handleUpdateVoiceSettings(w http.ResponseWriter, r *http.Request, d Dependencies) {
	if d.TTS == nil {
		writeDetail(w, http.StatusServiceUnavailable, "text-to-speech is disabled")
		return
	}
	var req tts.VoiceSettingsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	settings := d.TTS.Settings()
	if err := settings.Update(req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  "Voice settings updated",
		"settings": settings.Snapshot(),
	})
}

// -------- Memory --------

func handleListFacts(w http.ResponseWriter, r *http.Request, d Dependencies) {
	if d.Memory == nil {
		writeDetail(w, http.StatusServiceUnavailable, "memory is disabled")
		return
	}
	userID := r.PathValue("user_id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	facts, err := d.Memory.Facts(r.Context(), userID, limit)
	if err != nil {
		d.logger().Error("list facts failed", zap.String("user_id", userID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "facts": facts, "count": len(facts)})
}

func handleForget(w http.ResponseWriter, r *http.Request, d Dependencies) {
	if d.Memory == nil {
		writeDetail(w, http.StatusServiceUnavailable, "memory is disabled")
		return
	}
	userID := r.PathValue("user_id")
	n, err := d.Memory.Forget(r.Context(), userID)
	if err != nil {
		d.logger().Error("forget failed", zap.String("user_id", userID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d.History != nil {
		if err := d.History.Clear(r.Context(), userID); err != nil {
			d.logger().Warn("clear history failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	d.logger().Info("user forgotten", zap.String("user_id", userID), zap.Int64("facts", n))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "user_id": userID, "deleted": n})
}

// -------- Speech --------

type ttsRequest struct {
	Text string `json:"text"`
}

func handleTTS(w http.ResponseWriter, r *http.Request, d Dependencies) {
	if d.TTS == nil {
		writeDetail(w, http.StatusServiceUnavailable, "text-to-speech is disabled")
		return
	}
	var req ttsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeDetail(w, http.StatusBadRequest, "missing text")
		return
	}
	out, err := d.TTS.Synthesize(r.Context(), req.Text)
	if err != nil {
		d.logger().Error("tts failed", zap.Error(err))
		writeDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", "inline; filename=tts.wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.EncodeWAV(out.PCM, out.SampleRate))
}

func handleTranscribe(w http.ResponseWriter, r *http.Request, d Dependencies) {
	if d.STT == nil {
		writeDetail(w, http.StatusServiceUnavailable, "speech recognition is disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		file, hdr, err = r.FormFile("audio")
	}
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "missing form file 'file' or 'audio'")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	res, err := d.STT.Transcribe(r.Context(), stt.Input{
		Audio:    data,
		Filename: filepath.Base(hdr.Filename),
		Language: r.FormValue("language"),
		Prompt:   r.FormValue("prompt"),
	})
	if err != nil {
		if errors.Is(err, stt.ErrNoAudio) {
			writeDetail(w, http.StatusBadRequest, "empty audio file")
			return
		}
		d.logger().Error("transcription failed", zap.Error(err))
		writeDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// -------- Embeddings --------

type embeddingsRequest struct {
	Input any `json:"input"` // string or []string
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingsResponse struct {
	Object string          `json:"object"`
	Data   []embeddingItem `json:"data"`
	Model  string          `json:"model"`
}

func handleEmbeddings(w http.ResponseWriter, r *http.Request, d Dependencies) {
	if d.Embeddings == nil {
		writeDetail(w, http.StatusServiceUnavailable, "embeddings are disabled")
		return
	}
	var req embeddingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inputs, ok := coerceInputs(req.Input)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "input must be string or array of strings")
		return
	}
	if len(inputs) == 0 {
		writeDetail(w, http.StatusBadRequest, "no input provided")
		return
	}
	vecs, model, err := d.Embeddings.Embed(r.Context(), inputs)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := embeddingsResponse{Object: "list", Model: model, Data: make([]embeddingItem, len(vecs))}
	for i, v := range vecs {
		resp.Data[i] = embeddingItem{Object: "embedding", Index: i, Embedding: v}
	}
	writeJSON(w, http.StatusOK, resp)
}

func coerceInputs(in any) ([]string, bool) {
	switch v := in.(type) {
	case string:
		return []string{v}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// -------- Helpers --------

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail answers with the {"detail": ...} error shape clients expect.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
