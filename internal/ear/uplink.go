package ear

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Reconnection backoff parameters.
const (
	uplinkBackoff    = 1 * time.Second
	uplinkMaxBackoff = 30 * time.Second
)

// uplinkMessage is the voice namespace wire shape, both directions. Unused
// fields are omitted per message type.
type uplinkMessage struct {
	Type        string `json:"type"`
	Seq         int    `json:"seq,omitempty"`
	Audio       string `json:"audio,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Index       int    `json:"index,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	Text        string `json:"text,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Uplink is the reconnecting websocket connection to the control plane's
// voice namespace. Utterances go up as a single base64 WAV chunk; synthesized
// speech comes back as ordered tts_chunk messages and is played through the
// configured [Player].
//
// SendUtterance is safe for concurrent use with the run loop. When the
// backend is unreachable the utterance is dropped, not queued: a stale
// command replayed a minute later is worse than a lost one.
type Uplink struct {
	url     string
	token   string
	player  Player
	machine *Machine

	mu   sync.Mutex
	conn *websocket.Conn

	playQueue chan playItem
}

type playItem struct {
	audio       []byte
	contentType string
	// last marks the final chunk of a response; playback completion opens
	// the follow-up window.
	last bool
}

// NewUplink creates the uplink. url is the voice websocket endpoint; token
// is sent as a bearer header on dial.
func NewUplink(url, token string, player Player, machine *Machine) *Uplink {
	return &Uplink{
		url:       url,
		token:     token,
		player:    player,
		machine:   machine,
		playQueue: make(chan playItem, 32),
	}
}

// Run dials, reads, and reconnects with exponential backoff until ctx is
// cancelled. Local capture keeps running throughout; the playback goroutine
// is owned by Run.
func (u *Uplink) Run(ctx context.Context) {
	go u.playLoop(ctx)

	backoff := uplinkBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := u.dial(ctx)
		if err != nil {
			slog.Warn("uplink dial failed", "url", u.url, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, uplinkMaxBackoff)
			continue
		}

		slog.Info("uplink connected", "url", u.url)
		backoff = uplinkBackoff

		u.mu.Lock()
		u.conn = conn
		u.mu.Unlock()

		err = u.readLoop(ctx, conn)

		u.mu.Lock()
		u.conn = nil
		u.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return
		}
		slog.Warn("uplink disconnected, reconnecting", "error", err)
	}
}

func (u *Uplink) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := &websocket.DialOptions{}
	if u.token != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + u.token},
		}
	}
	conn, _, err := websocket.Dial(dctx, u.url, opts)
	if err != nil {
		return nil, fmt.Errorf("ear: dial uplink: %w", err)
	}
	conn.SetReadLimit(16 << 20) // synthesized audio chunks are large
	return conn, nil
}

// SendUtterance streams one complete utterance: audio_start, a single
// audio_chunk carrying the whole WAV, audio_end. Mixed-header concatenation
// of separate WAV blobs is invalid, so the utterance never spans chunks.
func (u *Uplink) SendUtterance(ctx context.Context, wav []byte) {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		slog.Warn("uplink down, dropping utterance", "bytes", len(wav))
		return
	}

	msgs := []uplinkMessage{
		{Type: "audio_start"},
		{Type: "audio_chunk", Seq: 0, Audio: base64.StdEncoding.EncodeToString(wav)},
		{Type: "audio_end"},
	}
	for _, msg := range msgs {
		if err := writeJSON(ctx, conn, msg); err != nil {
			slog.Error("uplink write failed", "type", msg.Type, "error", err)
			return
		}
	}
}

// readLoop dispatches server messages until the connection drops.
func (u *Uplink) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg uplinkMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("uplink: malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case "listening", "processing", "thinking":
			slog.Debug("backend state", "state", msg.Type)
		case "transcript":
			slog.Info("transcript", "text", msg.Text)
		case "tts_chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				slog.Warn("uplink: undecodable tts chunk", "index", msg.Index, "error", err)
				continue
			}
			u.enqueue(ctx, playItem{audio: audio, contentType: msg.ContentType})
		case "tts_done":
			slog.Debug("response complete", "chunks", msg.TotalChunks)
			u.enqueue(ctx, playItem{last: true})
		case "error":
			slog.Error("backend error", "message", msg.Message)
		}
	}
}

func (u *Uplink) enqueue(ctx context.Context, item playItem) {
	select {
	case u.playQueue <- item:
	case <-ctx.Done():
	}
}

// playLoop plays chunks strictly in arrival order. The final chunk of each
// response opens the machine's follow-up window.
func (u *Uplink) playLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-u.playQueue:
			if item.last {
				if u.machine != nil {
					u.machine.NotifyPlaybackDone()
				}
				continue
			}
			if u.player == nil {
				continue
			}
			if err := u.player.Play(ctx, item.audio, item.contentType); err != nil {
				slog.Error("playback failed", "error", err)
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
