// Package piper provides a TTS engine backed by a piper HTTP server.
//
// Piper's HTTP wrapper accepts GET /?text=... and returns a WAV blob. It is
// the fast primary engine; quality is traded for latency.
package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearthward/jarvisd/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const defaultTimeout = 30 * time.Second

// maxAudioBytes caps a single synthesis response.
const maxAudioBytes = 32 << 20

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s. The
// speech router applies its own tighter per-sentence deadline via ctx.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// Engine implements tts.Engine against a piper HTTP server.
type Engine struct {
	serverURL  string
	httpClient *http.Client
}

// New creates an engine for the piper server at serverURL
// (e.g. "http://piper.lan:5000").
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements tts.Engine.
func (e *Engine) Name() string { return "piper" }

// Synthesize implements tts.Engine.
func (e *Engine) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	reqURL := e.serverURL + "/?text=" + url.QueryEscape(text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("piper: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("piper: GET /: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("piper: GET / returned status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, "", fmt.Errorf("piper: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", errors.New("piper: empty audio response")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/wav"
	}
	return audio, ct, nil
}
