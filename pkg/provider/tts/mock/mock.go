// Package mock provides a test double for the tts.Engine interface.
package mock

import (
	"context"
	"sync"

	"github.com/hearthward/jarvisd/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

// Engine is a mock implementation of tts.Engine. Zero values return empty
// audio and nil errors; set Err to inject failures, Delay to simulate a
// slow server, and SynthesizeFn for full control.
type Engine struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Audio and ContentType are returned by Synthesize.
	Audio       []byte
	ContentType string

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// SynthesizeFn, if set, replaces the canned response entirely.
	SynthesizeFn func(ctx context.Context, text string) ([]byte, string, error)

	// Calls records every synthesised text in order.
	Calls []string
}

// Name implements tts.Engine.
func (e *Engine) Name() string {
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// Synthesize implements tts.Engine.
func (e *Engine) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, text)
	fn := e.SynthesizeFn
	audio, ct, err := e.Audio, e.ContentType, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, "", err
	}
	if ct == "" {
		ct = "audio/wav"
	}
	return audio, ct, nil
}

// CallCount returns how many times Synthesize has been invoked.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}
