// Package gateway exposes the realtime websocket surface: /ws/chat for
// streamed text conversations, /ws/voice for the ear daemon's utterance
// uplink and synthesized speech downlink, and /ws/events for the monitor's
// broadcast feed.
//
// Each connection owns one session; messages on a connection are processed
// strictly in arrival order, and the session is dropped on disconnect.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hearthward/jarvisd/internal/engine"
	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/session"
	"github.com/hearthward/jarvisd/internal/speech"
	"github.com/hearthward/jarvisd/internal/tools"
	"github.com/hearthward/jarvisd/internal/transcript"
	"github.com/hearthward/jarvisd/pkg/provider/stt"
)

// writeTimeout bounds each outbound frame so one stuck client cannot wedge
// a response goroutine.
const writeTimeout = 10 * time.Second

// maxUtteranceBytes caps inbound voice payloads. 30 s of 16 kHz mono PCM is
// under 1 MB; base64 and headers leave generous room at 4 MB.
const maxUtteranceBytes = 4 << 20

// Authenticator validates a bearer token. Empty tokens are passed through so
// implementations decide whether anonymous connections are allowed.
type Authenticator func(token string) bool

// Gateway owns the websocket handlers.
type Gateway struct {
	engine     *engine.Engine
	sessions   *session.Manager
	transcribe stt.Transcriber
	corrector  *transcript.Corrector
	bus        *events.Bus
	auth       Authenticator
}

// Config assembles a [Gateway]. Engine, Sessions, and Bus are required;
// Transcriber and Corrector are needed only when /ws/voice is served.
type Config struct {
	Engine     *engine.Engine
	Sessions   *session.Manager
	Transcribe stt.Transcriber
	Corrector  *transcript.Corrector
	Bus        *events.Bus
	Auth       Authenticator
}

// New creates the gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		engine:     cfg.Engine,
		sessions:   cfg.Sessions,
		transcribe: cfg.Transcribe,
		corrector:  cfg.Corrector,
		bus:        cfg.Bus,
		auth:       cfg.Auth,
	}
}

// clientMessage is the inbound wire shape across namespaces.
type clientMessage struct {
	Type string `json:"type"`

	// Text carries the user message on /ws/chat.
	Text string `json:"text,omitempty"`

	// Seq and Audio carry the utterance on /ws/voice.
	Seq   int    `json:"seq,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// serverMessage is the outbound wire shape across namespaces.
type serverMessage struct {
	Type string `json:"type"`

	Text        string           `json:"text,omitempty"`
	Name        string           `json:"name,omitempty"`
	Result      *tools.Result    `json:"result,omitempty"`
	Index       int              `json:"index,omitempty"`
	ContentType string           `json:"contentType,omitempty"`
	Audio       string           `json:"audio,omitempty"`
	TotalChunks int              `json:"totalChunks,omitempty"`
	Timing      map[string]int64 `json:"timing,omitempty"`
	Message     string           `json:"message,omitempty"`
	Event       *events.Event    `json:"event,omitempty"`
}

// accept upgrades the request after checking the bearer token.
func (g *Gateway) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if g.auth != nil {
		token := bearerToken(r)
		if !g.auth(token) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return nil, false
		}
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "path", r.URL.Path, "error", err)
		return nil, false
	}
	return conn, true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	// Browsers cannot set websocket headers; fall back to a query param.
	return r.URL.Query().Get("token")
}

// HandleChat serves /ws/chat: one session per connection, user messages in,
// streamed deltas and tool-call progress out.
func (g *Gateway) HandleChat(w http.ResponseWriter, r *http.Request) {
	conn, ok := g.accept(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	sessionID := uuid.NewString()
	defer g.sessions.Remove(sessionID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	slog.Info("chat connection open", "session", sessionID)
	for {
		var msg clientMessage
		if err := readJSON(ctx, conn, &msg); err != nil {
			slog.Debug("chat connection closed", "session", sessionID, "error", err)
			return
		}
		if msg.Type != "message" || msg.Text == "" {
			g.send(ctx, conn, serverMessage{Type: "error", Message: "expected {type: message, text}"})
			continue
		}
		g.respondChat(ctx, conn, sessionID, msg.Text)
	}
}

func (g *Gateway) respondChat(ctx context.Context, conn *websocket.Conn, sessionID, text string) {
	timer := session.NewRequestTimer()
	g.send(ctx, conn, serverMessage{Type: "timing", Timing: timer.Breakdown()})

	reply, err := g.engine.Respond(ctx, engine.Request{
		SessionID: sessionID,
		Text:      text,
		Caller:    "chat",
		Timer:     timer,
		Callbacks: engine.Callbacks{
			OnFirstToken: func() {
				g.send(ctx, conn, serverMessage{Type: "first_token"})
			},
			OnDelta: func(delta string) {
				g.send(ctx, conn, serverMessage{Type: "delta", Text: delta})
			},
			OnToolCall: func(name string, args map[string]any, result tools.Result) {
				g.send(ctx, conn, serverMessage{Type: "tool_call", Name: name, Result: &result})
			},
		},
	})
	if err != nil {
		slog.Error("chat response failed", "session", sessionID, "error", err)
		g.send(ctx, conn, serverMessage{Type: "error", Message: "response failed"})
		return
	}
	timer.Log(sessionID)
	g.send(ctx, conn, serverMessage{Type: "done", Text: reply.Text, Timing: timer.Breakdown()})
}

// HandleVoice serves /ws/voice: WAV utterances in, transcript plus ordered
// synthesized speech out.
func (g *Gateway) HandleVoice(w http.ResponseWriter, r *http.Request) {
	conn, ok := g.accept(w, r)
	if !ok {
		return
	}
	conn.SetReadLimit(maxUtteranceBytes)
	ctx := r.Context()
	sessionID := uuid.NewString()
	defer g.sessions.Remove(sessionID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	slog.Info("voice connection open", "session", sessionID)
	var utterance []byte
	for {
		var msg clientMessage
		if err := readJSON(ctx, conn, &msg); err != nil {
			slog.Debug("voice connection closed", "session", sessionID, "error", err)
			return
		}

		switch msg.Type {
		case "audio_start":
			utterance = nil
			g.send(ctx, conn, serverMessage{Type: "listening"})
		case "audio_chunk":
			data, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				g.send(ctx, conn, serverMessage{Type: "error", Message: "undecodable audio chunk"})
				continue
			}
			utterance = append(utterance, data...)
		case "audio_end":
			if len(utterance) == 0 {
				g.send(ctx, conn, serverMessage{Type: "error", Message: "empty utterance"})
				continue
			}
			g.respondVoice(ctx, conn, sessionID, utterance)
			utterance = nil
		default:
			g.send(ctx, conn, serverMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (g *Gateway) respondVoice(ctx context.Context, conn *websocket.Conn, sessionID string, wav []byte) {
	timer := session.NewRequestTimer()
	g.send(ctx, conn, serverMessage{Type: "processing"})

	text, err := g.transcribe.Transcribe(ctx, wav)
	if err != nil {
		slog.Error("transcription failed", "session", sessionID, "error", err)
		g.send(ctx, conn, serverMessage{Type: "error", Message: "transcription failed"})
		return
	}
	if g.corrector != nil {
		corrected, corrections := g.corrector.Correct(text)
		for _, c := range corrections {
			slog.Info("transcript corrected",
				"from", c.Original, "to", c.Corrected, "confidence", c.Confidence)
		}
		text = corrected
	}
	g.send(ctx, conn, serverMessage{Type: "transcript", Text: text})
	g.send(ctx, conn, serverMessage{Type: "thinking"})

	_, err = g.engine.Respond(ctx, engine.Request{
		SessionID: sessionID,
		Text:      text,
		Voice:     true,
		Caller:    "voice",
		Timer:     timer,
		Callbacks: engine.Callbacks{
			OnToolCall: func(name string, args map[string]any, result tools.Result) {
				g.send(ctx, conn, serverMessage{Type: "tool_call", Name: name, Result: &result})
			},
			OnTTSChunk: func(c speech.Chunk) {
				g.send(ctx, conn, serverMessage{
					Type:        "tts_chunk",
					Index:       c.Index,
					ContentType: c.ContentType,
					Audio:       base64.StdEncoding.EncodeToString(c.Audio),
				})
			},
			OnTTSDone: func(total int) {
				g.send(ctx, conn, serverMessage{Type: "tts_done", TotalChunks: total})
			},
		},
	})
	if err != nil {
		slog.Error("voice response failed", "session", sessionID, "error", err)
		g.send(ctx, conn, serverMessage{Type: "error", Message: "response failed"})
		return
	}
	timer.Log(sessionID)
}

// HandleEvents serves /ws/events: a push-only feed of cluster events.
func (g *Gateway) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, ok := g.accept(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch, cancel := g.bus.Subscribe()
	defer cancel()

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := g.sendErr(ctx, conn, serverMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		}
	}
}

// send writes one message, logging failures. Response goroutines keep going
// on a failed write; the read loop notices the dead connection and exits.
func (g *Gateway) send(ctx context.Context, conn *websocket.Conn, msg serverMessage) {
	if err := g.sendErr(ctx, conn, msg); err != nil {
		slog.Debug("websocket write failed", "type", msg.Type, "error", err)
	}
}

func (g *Gateway) sendErr(ctx context.Context, conn *websocket.Conn, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
