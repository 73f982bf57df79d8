// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The ear daemon ships one complete WAV utterance per request; there is no
// partial-transcript streaming in this pipeline.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcriber is the abstraction over one STT backend.
type Transcriber interface {
	// Transcribe converts a complete WAV blob into text. The context
	// deadline bounds the whole call.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
