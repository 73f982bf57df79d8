// Package llamacpp provides an LLM provider backed by a llama.cpp server's
// OpenAI-compatible API.
//
// Chat completions go through the openai-go SDK pointed at the local server.
// Token counting uses the llama.cpp extension endpoint POST /tokenize, which
// returns the server's exact tokenization rather than an approximation.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/hearthward/jarvisd/pkg/provider/llm"
	"github.com/hearthward/jarvisd/pkg/types"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

const (
	defaultTimeout   = 120 * time.Second
	tokenizeEndpoint = "/tokenize"
	tokenizeTimeout  = 5 * time.Second
)

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for completion calls.
// Defaults to 120 s; local models on modest hardware can be slow.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithAPIKey sets the bearer token, for servers started with --api-key.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// Provider implements llm.Provider against a llama.cpp server.
type Provider struct {
	client   oai.Client
	baseURL  string
	model    string
	apiKey   string
	timeout  time.Duration
	tokenize *http.Client
}

// New creates a provider for the llama.cpp server at baseURL
// (e.g. "http://llama.lan:8080"). The model name is echoed into requests;
// llama.cpp ignores it but logs it, which helps when several servers share
// a reverse proxy.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("llamacpp: baseURL must not be empty")
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(p.baseURL + "/v1"),
		option.WithAPIKey(p.apiKey),
		option.WithHTTPClient(&http.Client{Timeout: p.timeout}),
	}
	p.client = oai.NewClient(reqOpts...)
	p.tokenize = &http.Client{Timeout: tokenizeTimeout}
	return p, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("llamacpp: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		// Tool call fragments arrive spread across chunks, keyed by index.
		toolCallAccum := map[int]*types.ToolCall{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			out := llm.Chunk{
				Text:         delta.Content,
				FinishReason: choice.FinishReason,
			}

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				if _, ok := toolCallAccum[idx]; !ok {
					toolCallAccum[idx] = &types.ToolCall{ID: tc.ID, Name: tc.Function.Name}
				}
				existing := toolCallAccum[idx]
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Function.Name != "" {
					existing.Name = tc.Function.Name
				}
				existing.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason == "tool_calls" || (choice.FinishReason != "" && len(toolCallAccum) > 0) {
				for i := 0; i < len(toolCallAccum); i++ {
					if tc, ok := toolCallAccum[i]; ok {
						out.ToolCalls = append(out.ToolCalls, *tc)
					}
				}
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llamacpp: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// tokenizeRequest is the JSON body of POST /tokenize.
type tokenizeRequest struct {
	Content string `json:"content"`
}

// tokenizeResponse is the JSON body returned by POST /tokenize.
type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

// Tokenize implements llm.Provider using the llama.cpp /tokenize extension.
func (p *Provider) Tokenize(ctx context.Context, text string) (int, error) {
	data, err := json.Marshal(tokenizeRequest{Content: text})
	if err != nil {
		return 0, fmt.Errorf("llamacpp: marshal tokenize request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+tokenizeEndpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("llamacpp: create tokenize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.tokenize.Do(req)
	if err != nil {
		return 0, fmt.Errorf("llamacpp: POST %s: %w", tokenizeEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("llamacpp: POST %s returned status %d", tokenizeEndpoint, resp.StatusCode)
	}
	var tr tokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return 0, fmt.Errorf("llamacpp: decode tokenize response: %w", err)
	}
	return len(tr.Tokens), nil
}

// buildParams converts a CompletionRequest into openai-go SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		case types.RoleUser:
			messages = append(messages, oai.UserMessage(m.Content))
		case types.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, oai.AssistantMessage(m.Content))
				continue
			}
			asst := oai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = param.NewOpt(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: oai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			messages = append(messages, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case types.RoleTool:
			messages = append(messages, oai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("llamacpp: unsupported message role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		var schema shared.FunctionParameters
		if len(td.Parameters) > 0 {
			if err := json.Unmarshal(td.Parameters, &schema); err != nil {
				return oai.ChatCompletionNewParams{}, fmt.Errorf("llamacpp: tool %q schema: %w", td.Name, err)
			}
		}
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  schema,
			},
		})
	}
	return params, nil
}
