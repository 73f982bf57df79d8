// Package llm defines the Provider interface for the chat-completion backend.
//
// The control plane talks to one OpenAI-compatible endpoint (a local
// llama.cpp server in the reference deployment). The interface exposes
// streaming and non-streaming completions plus the server's exact tokenizer,
// which the context manager uses for budget accounting.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed when the stream ends or ctx is cancelled.
package llm

import (
	"context"

	"github.com/hearthward/jarvisd/pkg/types"
)

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation context, system prompt included.
	Messages []types.Message

	// Tools is the set of tool definitions offered to the model.
	Tools []types.ToolDefinition

	// Temperature controls output randomness. Zero uses the server default.
	Temperature float64

	// MaxTokens caps completion length. Zero uses the server default.
	MaxTokens int
}

// Chunk is one fragment of a streaming completion. A single chunk may carry
// text, tool calls, a finish signal, or any combination.
type Chunk struct {
	// Text is the incremental text content. May be empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls",
	// or "error" for mid-stream failures.
	FinishReason string

	// ToolCalls holds fully accumulated tool invocations, emitted on the
	// final chunk only.
	ToolCalls []types.ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is the abstraction over the chat-completion backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel emitting chunks as
	// they arrive. The channel is closed when generation finishes or ctx is
	// cancelled; callers must drain it. Mid-stream failures surface as a
	// chunk with FinishReason "error"; the error return covers only failures
	// that prevent the stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Tokenize returns the exact token count of text according to the
	// server's own tokenizer.
	Tokenize(ctx context.Context, text string) (int, error)
}
