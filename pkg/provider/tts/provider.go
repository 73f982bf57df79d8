// Package tts defines the Engine interface for text-to-speech backends.
//
// The control plane runs two engines: piper (primary, fast, robotic) and
// xtts (fallback, slower, natural). Each engine turns one sentence into one
// container audio blob; streaming assembly, ordering, caching, and failover
// between the two live in the speech router, not here.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Engine is the abstraction over one TTS backend.
type Engine interface {
	// Name identifies the engine in logs, health reports, and cache keys.
	Name() string

	// Synthesize turns text into a complete audio blob and reports its
	// content type (e.g. "audio/wav"). The context deadline bounds the
	// whole call.
	Synthesize(ctx context.Context, text string) (audio []byte, contentType string, err error)
}
