package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nathy/internal/audio"
	"nathy/internal/services/stt"
)

const (
	defaultInputRate = 16000
	minUtterance     = 300 * time.Millisecond
	normalizePeak    = 0.95
	wsWriteTimeout   = 10 * time.Second
	wsReadLimit      = 1 << 20
	wsOutQueue       = 64
	wsJobQueue       = 4
)

// WSOptions configure the /ws voice session endpoint.
type WSOptions struct {
	Enable          bool
	Path            string
	VADThreshold    float64
	SilenceDuration time.Duration
	MaxUtterance    time.Duration
	// Sessions tracks live connections for shutdown. Nil leaves them untracked.
	Sessions *Sessions
}

// Sessions counts live WebSocket sessions. Hijacked connections are not
// waited for by http.Server.Shutdown, so callers wait here before closing
// the services those sessions use.
type Sessions struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func (s *Sessions) add() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Sessions) done() {
	if s != nil {
		s.wg.Done()
	}
}

// Wait refuses new sessions and blocks until the live ones end or ctx is done.
func (s *Sessions) Wait(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o WSOptions) withDefaults() WSOptions {
	if o.Path == "" {
		o.Path = "/ws"
	}
	if o.VADThreshold <= 0 {
		o.VADThreshold = 0.01
	}
	if o.SilenceDuration <= 0 {
		o.SilenceDuration = 1500 * time.Millisecond
	}
	if o.MaxUtterance <= 0 {
		o.MaxUtterance = 30 * time.Second
	}
	return o
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// RegisterWSRoutes mounts the voice session endpoint.
func RegisterWSRoutes(mux *http.ServeMux, d Dependencies, o WSOptions) {
	if !o.Enable {
		return
	}
	o = o.withDefaults()
	mux.HandleFunc("GET "+o.Path, func(w http.ResponseWriter, r *http.Request) {
		if !o.Sessions.add() {
			writeDetail(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		defer o.Sessions.done()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.logger().Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		newSession(conn, d, o).run(r.Context())
	})
	d.logger().Info("websocket endpoint enabled", zap.String("path", o.Path))
}

type inbound struct {
	Type         string   `json:"type"`
	UserID       string   `json:"user_id,omitempty"`
	Text         string   `json:"text,omitempty"`
	VADThreshold *float64 `json:"vad_threshold,omitempty"`
	SampleRate   *int     `json:"sample_rate,omitempty"`
}

type outFrame struct {
	kind int
	data []byte
}

type jobKind int

const (
	jobText jobKind = iota
	jobVoice
)

type job struct {
	kind       jobKind
	userID     string
	text       string
	pcm        []byte
	sampleRate int
}

// session is one browser connection. The reader loop owns the audio state;
// a single worker runs replies one at a time and a single writer owns the
// connection's write side.
type session struct {
	id     string
	conn   *websocket.Conn
	deps   Dependencies
	opts   WSOptions
	logger *zap.Logger
	now    func() time.Time

	out  chan outFrame
	jobs chan job

	mu           sync.Mutex
	userID       string
	listening    bool
	inputRate    int
	threshold    float64
	buf          *audio.Buffer
	speaking     bool
	silenceSince time.Time
}

func newSession(conn *websocket.Conn, d Dependencies, o WSOptions) *session {
	id := uuid.NewString()
	return &session{
		id:        id,
		conn:      conn,
		deps:      d,
		opts:      o,
		logger:    d.logger().With(zap.String("component", "ws"), zap.String("session_id", id)),
		now:       time.Now,
		out:       make(chan outFrame, wsOutQueue),
		jobs:      make(chan job, wsJobQueue),
		userID:    defaultUserID,
		inputRate: defaultInputRate,
		threshold: o.VADThreshold,
		buf:       audio.NewBuffer(defaultInputRate, o.MaxUtterance),
	}
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	// Unblocks the reader when the server shuts down or the writer fails.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	s.logger.Info("websocket connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.workLoop(gctx) })

	err := s.readLoop(gctx)
	cancel()
	_ = s.conn.Close()
	_ = g.Wait()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Debug("websocket read ended", zap.Error(err))
	}
	s.logger.Info("websocket disconnected")
}

func (s *session) readLoop(ctx context.Context) error {
	s.conn.SetReadLimit(wsReadLimit)
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch kind {
		case websocket.BinaryMessage:
			s.handleAudio(ctx, data)
		case websocket.TextMessage:
			s.handleText(ctx, data)
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(f.kind, f.data); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				_ = s.conn.Close()
				return err
			}
		}
	}
}

func (s *session) workLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-s.jobs:
			switch j.kind {
			case jobText:
				s.answerText(ctx, j)
			case jobVoice:
				s.answerVoice(ctx, j)
			}
		}
	}
}

func (s *session) handleText(ctx context.Context, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(ctx, "Invalid JSON format")
		return
	}

	switch msg.Type {
	case "hello":
		s.mu.Lock()
		if u := strings.TrimSpace(msg.UserID); u != "" {
			s.userID = u
		}
		userID := s.userID
		s.mu.Unlock()
		s.sendJSON(ctx, map[string]any{"type": "hello", "session_id": s.id, "user_id": userID})

	case "start_listening":
		s.mu.Lock()
		s.listening = true
		s.resetUtteranceLocked()
		s.mu.Unlock()
		s.sendStatus(ctx, "listening")

	case "stop_listening":
		s.mu.Lock()
		s.listening = false
		j, ok := s.takeUtteranceLocked()
		s.mu.Unlock()
		s.sendStatus(ctx, "idle")
		if ok {
			s.enqueue(ctx, j)
		}

	case "text":
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		s.mu.Lock()
		userID := s.userID
		s.mu.Unlock()
		s.enqueue(ctx, job{kind: jobText, userID: userID, text: text})

	case "audio_config":
		if msg.VADThreshold != nil && (*msg.VADThreshold < 0 || *msg.VADThreshold > 1) {
			s.sendError(ctx, "vad_threshold must be in [0, 1]")
			return
		}
		if msg.SampleRate != nil && (*msg.SampleRate < 8000 || *msg.SampleRate > 48000) {
			s.sendError(ctx, "sample_rate must be between 8000 and 48000")
			return
		}
		s.mu.Lock()
		if msg.VADThreshold != nil {
			s.threshold = *msg.VADThreshold
		}
		if msg.SampleRate != nil && *msg.SampleRate != s.inputRate {
			s.inputRate = *msg.SampleRate
			s.buf = audio.NewBuffer(s.inputRate, s.opts.MaxUtterance)
			s.speaking = false
			s.silenceSince = time.Time{}
		}
		s.mu.Unlock()

	case "ping":
		s.sendJSON(ctx, map[string]string{"type": "pong"})

	default:
		s.sendError(ctx, "Unknown message type: "+msg.Type)
	}
}

// handleAudio buffers one PCM frame and runs the voice activity check. An
// utterance ends after SilenceDuration of quiet frames following speech.
func (s *session) handleAudio(ctx context.Context, frame []byte) {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return
	}
	s.buf.Append(frame)

	now := s.now()
	var (
		j     job
		ready bool
	)
	if audio.RMS(frame) > s.threshold {
		s.speaking = true
		s.silenceSince = time.Time{}
	} else if s.speaking {
		if s.silenceSince.IsZero() {
			s.silenceSince = now
		} else if now.Sub(s.silenceSince) >= s.opts.SilenceDuration {
			j, ready = s.takeUtteranceLocked()
		}
	}
	s.mu.Unlock()

	if ready {
		s.logger.Debug("end of speech detected")
		s.enqueue(ctx, j)
	}
}

// takeUtteranceLocked drains the buffer into a voice job. Caller holds mu.
func (s *session) takeUtteranceLocked() (job, bool) {
	pcm := s.buf.Bytes()
	rate := s.inputRate
	s.resetUtteranceLocked()
	if audio.Duration(pcm, rate) < minUtterance {
		return job{}, false
	}
	return job{kind: jobVoice, userID: s.userID, pcm: pcm, sampleRate: rate}, true
}

func (s *session) resetUtteranceLocked() {
	s.buf.Reset()
	s.speaking = false
	s.silenceSince = time.Time{}
}

func (s *session) enqueue(ctx context.Context, j job) {
	select {
	case s.jobs <- j:
	default:
		s.sendError(ctx, "Still answering the previous message, try again in a moment")
	}
}

func (s *session) answerText(ctx context.Context, j job) {
	s.sendJSON(ctx, map[string]string{"type": "transcription", "text": j.text})
	s.reply(ctx, j.userID, j.text, "response")
}

func (s *session) answerVoice(ctx context.Context, j job) {
	if s.deps.STT == nil {
		s.sendError(ctx, "Speech recognition is disabled")
		return
	}
	res, err := s.deps.STT.Transcribe(ctx, stt.Input{
		Audio:      audio.Normalize(j.pcm, normalizePeak),
		SampleRate: j.sampleRate,
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("transcription failed", zap.Error(err))
			s.sendError(ctx, "Error processing audio")
		}
		return
	}
	if strings.TrimSpace(res.Text) == "" {
		s.logger.Debug("no speech in utterance", zap.Duration("audio", res.Duration))
		return
	}
	s.sendJSON(ctx, map[string]string{"type": "user_speech", "text": res.Text, "language": res.Language})
	s.reply(ctx, j.userID, res.Text, "assistant_text")
}

func (s *session) reply(ctx context.Context, userID, text, finalType string) {
	reply, err := s.deps.Chat.ReplyStream(ctx, userID, text, func(delta string) {
		s.sendJSON(ctx, map[string]string{"type": "response_delta", "text": delta})
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("reply failed", zap.String("user_id", userID), zap.Error(err))
			s.sendError(ctx, "Error processing message")
		}
		return
	}
	s.sendJSON(ctx, map[string]any{"type": finalType, "text": reply.Text, "fallback": reply.Fallback})

	if s.deps.TTS == nil {
		return
	}
	speech, err := s.deps.TTS.Synthesize(ctx, reply.Text)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("speech synthesis failed", zap.Error(err))
		}
		return
	}
	s.sendJSON(ctx, map[string]any{"type": "audio", "sample_rate": speech.SampleRate, "bytes": len(speech.PCM)})
	s.send(ctx, outFrame{kind: websocket.BinaryMessage, data: speech.PCM})
}

func (s *session) sendStatus(ctx context.Context, status string) {
	s.sendJSON(ctx, map[string]string{"type": "status", "status": status})
}

func (s *session) sendError(ctx context.Context, message string) {
	s.sendJSON(ctx, map[string]string{"type": "error", "message": message})
}

func (s *session) sendJSON(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal websocket message", zap.Error(err))
		return
	}
	s.send(ctx, outFrame{kind: websocket.TextMessage, data: b})
}

func (s *session) send(ctx context.Context, f outFrame) {
	select {
	case s.out <- f:
	case <-ctx.Done():
	}
}
