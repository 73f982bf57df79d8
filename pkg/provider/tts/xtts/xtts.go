// Package xtts provides a TTS engine backed by a Coqui XTTS v2 API server.
//
// Synthesis goes through POST /tts_to_audio/ with a JSON body and returns a
// WAV blob. XTTS is the slow fallback engine; it keeps speaking when piper
// is down and sounds considerably better.
package xtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hearthward/jarvisd/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 60 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	maxAudioBytes   = 32 << 20
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// WithSpeaker sets the speaker_wav reference voice.
func WithSpeaker(speaker string) Option {
	return func(e *Engine) {
		e.speaker = speaker
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// Engine implements tts.Engine against an XTTS v2 API server.
type Engine struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
}

// New creates an engine for the XTTS server at serverURL
// (e.g. "http://xtts.lan:8020").
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("xtts: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements tts.Engine.
func (e *Engine) Name() string { return "xtts" }

// ttsRequest is the JSON body sent to POST /tts_to_audio/.
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Engine.
func (e *Engine) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	data, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: e.speaker, Language: e.language})
	if err != nil {
		return nil, "", fmt.Errorf("xtts: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("xtts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("xtts: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("xtts: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, "", fmt.Errorf("xtts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", errors.New("xtts: empty audio response")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/wav"
	}
	return audio, ct, nil
}
