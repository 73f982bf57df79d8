// Package engine runs the conversational loop: context assembly, streaming
// LLM completion, tool dispatch rounds, and the optional sentence-to-speech
// pipeline for voice sessions.
//
// One [Engine] serves all sessions. Per-request state (timer, callbacks,
// the TTS engine lock) lives inside a single [Engine.Respond] call; sessions
// serialize their requests at the connection layer, so the engine itself
// holds no per-session locks.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/internal/session"
	"github.com/hearthward/jarvisd/internal/speech"
	"github.com/hearthward/jarvisd/internal/tools"
	"github.com/hearthward/jarvisd/pkg/provider/llm"
	"github.com/hearthward/jarvisd/pkg/types"
)

const (
	// maxToolRounds bounds the dispatch loop so a model stuck requesting
	// tools cannot spin forever.
	maxToolRounds = 4

	// memoryLimit is how many stored memories are injected into the system
	// prompt.
	memoryLimit = 10

	// summarizeTimeout bounds the out-of-band summarisation pass.
	summarizeTimeout = 60 * time.Second

	// toolResultTokenLimit caps a single serialized tool result before it
	// rejoins the context; read_file alone may return 256 KiB.
	toolResultTokenLimit = 2048
)

// Recorder persists conversation turns and supplies long-term memories for
// prompt injection. Implemented by the sqlite store.
type Recorder interface {
	AppendConversation(ctx context.Context, sessionID, role, content string) error
	MemoryContext(ctx context.Context, limit int) (string, error)
}

// Callbacks deliver response progress to the connection layer. Any field may
// be nil. All callbacks fire on the goroutine running Respond, in order.
type Callbacks struct {
	// OnFirstToken fires once, when the first text delta arrives.
	OnFirstToken func()

	// OnDelta receives each text fragment as it streams.
	OnDelta func(text string)

	// OnToolCall receives each dispatched tool call and its outcome,
	// including safety blocks.
	OnToolCall func(name string, args map[string]any, result tools.Result)

	// OnTTSChunk receives synthesized audio in strict index order. Voice
	// requests only.
	OnTTSChunk func(chunk speech.Chunk)

	// OnTTSDone fires after the last chunk with the emitted total. Voice
	// requests only.
	OnTTSDone func(totalChunks int)
}

// Request is one user turn.
type Request struct {
	SessionID string
	Text      string

	// Voice enables the sentence splitter and TTS router.
	Voice bool

	// Caller tags dispatched tool calls for the audit trail ("chat",
	// "voice", "api").
	Caller string

	// Override propagates a privileged operator override into the safety
	// kernel for this request only.
	Override bool

	// Timer, when set, receives the pipeline latency marks.
	Timer *session.RequestTimer

	Callbacks Callbacks
}

// Reply is the completed response.
type Reply struct {
	Text      string
	ToolCalls int
	TTSChunks int
}

// Engine owns the conversational loop dependencies.
type Engine struct {
	provider   llm.Provider
	dispatcher *tools.Dispatcher
	sessions   *session.Manager
	speech     *speech.Router
	recorder   Recorder

	systemPrompt string
	temperature  float64
}

// Config assembles an [Engine].
type Config struct {
	Provider   llm.Provider
	Dispatcher *tools.Dispatcher
	Sessions   *session.Manager

	// Speech may be nil when no TTS engines are deployed; voice requests
	// then stream text only.
	Speech *speech.Router

	// Recorder may be nil; turns are then held in memory only.
	Recorder Recorder

	SystemPrompt string
	Temperature  float64
}

// New creates the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("engine: nil LLM provider")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("engine: nil dispatcher")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("engine: nil session manager")
	}
	return &Engine{
		provider:     cfg.Provider,
		dispatcher:   cfg.Dispatcher,
		sessions:     cfg.Sessions,
		speech:       cfg.Speech,
		recorder:     cfg.Recorder,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
	}, nil
}

// Respond runs one full user turn: the user message joins the session, the
// model streams a reply (dispatching tools between rounds), and for voice
// requests each complete sentence is synthesized and emitted in order.
// Summarisation, when due, is kicked off after the stream completes so it
// never contends with a live response.
func (e *Engine) Respond(ctx context.Context, req Request) (*Reply, error) {
	mark(req.Timer, session.MarkRouted)

	e.sessions.AddMessage(req.SessionID, types.RoleUser, req.Text)
	e.record(ctx, req.SessionID, types.RoleUser, req.Text)

	system := e.buildSystemMessage(ctx)
	systemTokens := e.sessions.TokenCount(system.Content)

	// Voice path: deltas flow through the sentence splitter into the TTS
	// router; the router goroutine emits chunks via the callback.
	var (
		deltas   chan string
		ttsTotal chan int
	)
	speakCtx, stopSpeak := context.WithCancel(ctx)
	defer stopSpeak()
	if req.Voice && e.speech != nil {
		deltas = make(chan string, 16)
		sentences := make(chan string, 16)
		ttsTotal = make(chan int, 1)
		go speech.SplitSentences(speakCtx, deltas, sentences)
		go func() {
			first := true
			n := e.speech.Speak(speakCtx, sentences, func(c speech.Chunk) {
				if first {
					mark(req.Timer, session.MarkTTSFirst)
					first = false
				}
				if req.Callbacks.OnTTSChunk != nil {
					req.Callbacks.OnTTSChunk(c)
				}
			})
			ttsTotal <- n
		}()
	}

	reply, err := e.converse(ctx, req, system, systemTokens, deltas)
	if err != nil {
		if deltas != nil {
			close(deltas)
			stopSpeak()
			<-ttsTotal
		}
		return nil, err
	}
	mark(req.Timer, session.MarkLLMDone)

	if deltas != nil {
		mark(req.Timer, session.MarkTTSQueued)
		close(deltas)
		reply.TTSChunks = <-ttsTotal
		mark(req.Timer, session.MarkAudioDelivered)
		if req.Callbacks.OnTTSDone != nil {
			req.Callbacks.OnTTSDone(reply.TTSChunks)
		}
	}

	if reply.Text != "" {
		e.sessions.AddMessage(req.SessionID, types.RoleAssistant, reply.Text)
		e.record(ctx, req.SessionID, types.RoleAssistant, reply.Text)
	}

	if e.sessions.ShouldSummarize(req.SessionID) {
		go func() {
			sctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
			defer cancel()
			e.sessions.Summarize(sctx, req.SessionID, e.provider)
		}()
	}
	return reply, nil
}

// converse runs the stream / dispatch-tools / re-stream loop and returns the
// accumulated assistant text.
func (e *Engine) converse(ctx context.Context, req Request, system types.Message, systemTokens int, deltas chan<- string) (*Reply, error) {
	reply := &Reply{}

	// extra accumulates this turn's tool exchange; it is rebuilt into the
	// request each round but only the final text joins the session history.
	var extra []types.Message
	var text strings.Builder
	firstToken := false

	for round := 0; round <= maxToolRounds; round++ {
		msgs := append([]types.Message{system}, e.sessions.BuildContext(req.SessionID, systemTokens, e.exchangeTokens(extra))...)
		msgs = append(msgs, extra...)

		mark(req.Timer, session.MarkLLMStart)
		stream, err := e.provider.StreamCompletion(ctx, llm.CompletionRequest{
			Messages:    msgs,
			Tools:       e.dispatcher.Definitions(),
			Temperature: e.temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: start completion: %w", err)
		}

		var calls []types.ToolCall
		var streamErr string
		for chunk := range stream {
			if chunk.Text != "" {
				if !firstToken {
					firstToken = true
					mark(req.Timer, session.MarkFirstToken)
					if req.Callbacks.OnFirstToken != nil {
						req.Callbacks.OnFirstToken()
					}
				}
				text.WriteString(chunk.Text)
				if req.Callbacks.OnDelta != nil {
					req.Callbacks.OnDelta(chunk.Text)
				}
				if deltas != nil {
					select {
					case deltas <- chunk.Text:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
			}
			if len(chunk.ToolCalls) > 0 {
				calls = append(calls, chunk.ToolCalls...)
			}
			if chunk.FinishReason == "error" {
				streamErr = "stream aborted"
			}
		}
		if streamErr != "" {
			return nil, fmt.Errorf("engine: completion stream failed mid-response")
		}
		if len(calls) == 0 {
			reply.Text = text.String()
			return reply, nil
		}

		extra = append(extra, types.Message{Role: types.RoleAssistant, ToolCalls: calls})
		for _, call := range calls {
			result := e.dispatch(ctx, req, call)
			reply.ToolCalls++
			extra = append(extra, types.Message{
				Role:       types.RoleTool,
				ToolCallID: call.ID,
				Content:    resultContent(e.clampResult(result)),
			})
		}
	}
	return nil, fmt.Errorf("engine: tool round limit (%d) exceeded", maxToolRounds)
}

// dispatch parses the model's argument JSON and runs the call through the
// dispatcher. Malformed arguments become an error result without touching
// the registry.
func (e *Engine) dispatch(ctx context.Context, req Request, call types.ToolCall) tools.Result {
	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			slog.Warn("model produced malformed tool arguments", "tool", call.Name, "error", err)
			return tools.Result{IsError: true, Content: fmt.Sprintf("malformed arguments: %v", err)}
		}
	}

	result := e.dispatcher.Execute(ctx, call.Name, args, safety.CallContext{
		Caller:   safety.Caller(req.Caller),
		Override: req.Override,
	})
	if req.Callbacks.OnToolCall != nil {
		req.Callbacks.OnToolCall(call.Name, args, result)
	}
	return result
}

// buildSystemMessage joins the static prompt with the long-term memory
// block. Memory failures degrade to the bare prompt.
func (e *Engine) buildSystemMessage(ctx context.Context) types.Message {
	content := e.systemPrompt
	if e.recorder != nil {
		memories, err := e.recorder.MemoryContext(ctx, memoryLimit)
		if err != nil {
			slog.Warn("memory context unavailable", "error", err)
		} else if memories != "" {
			content += "\n\n<memories>\n" + memories + "\n</memories>"
		}
	}
	return types.Message{Role: types.RoleSystem, Content: content}
}

func (e *Engine) record(ctx context.Context, sessionID string, role types.Role, content string) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.AppendConversation(ctx, sessionID, string(role), content); err != nil {
		slog.Warn("conversation append failed", "session", sessionID, "error", err)
	}
}

// exchangeTokens totals the token cost of this turn's tool exchange so the
// rebuilt session history shrinks to make room for it.
func (e *Engine) exchangeTokens(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.sessions.TokenCount(m.Content)
		for _, tc := range m.ToolCalls {
			total += e.sessions.TokenCount(tc.Arguments)
		}
	}
	return total
}

// clampResult bounds a tool result's content before it rejoins the context.
// Callbacks see the full result; only the model's copy is trimmed.
func (e *Engine) clampResult(r tools.Result) tools.Result {
	tokens := e.sessions.TokenCount(r.Content)
	if tokens <= toolResultTokenLimit {
		return r
	}
	keep := len(r.Content) * toolResultTokenLimit / tokens
	for keep > 0 && !utf8.RuneStart(r.Content[keep]) {
		keep--
	}
	trimmed := r.Content[:keep]
	for len(trimmed) > 0 && e.sessions.TokenCount(trimmed) > toolResultTokenLimit {
		cut := len(trimmed) * 9 / 10
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut]
	}
	r.Content = trimmed + "\n[output truncated]"
	return r
}

// resultContent serializes a tool result for the model. The full result
// shape travels so the model can see blocks and explain them.
func resultContent(r tools.Result) string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"isError":true,"content":"unserializable result: %v"}`, err)
	}
	return string(data)
}

func mark(t *session.RequestTimer, name string) {
	if t != nil {
		t.Mark(name)
	}
}
