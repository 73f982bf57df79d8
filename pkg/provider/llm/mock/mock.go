// Package mock provides a test double for the llm.Provider interface.
//
// Zero values for response fields cause methods to return zero values and
// nil errors; set Err fields to inject failures. Call records are appended
// under an internal mutex and may be read after the test completes.
package mock

import (
	"context"
	"sync"

	"github.com/hearthward/jarvisd/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the sequence emitted on the channel returned by
	// StreamCompletion. All chunks are sent before the channel closes.
	StreamChunks []llm.Chunk

	// StreamFn, if set, replaces the canned stream entirely. Useful for
	// scripting different responses across successive calls.
	StreamFn func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error)

	// StreamErr, if non-nil, is returned instead of starting a stream.
	StreamErr error

	// CompleteResponse is returned by Complete. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by Complete.
	CompleteErr error

	// TokenizeFn, if set, computes the Tokenize result. Otherwise
	// TokenCount/TokenizeErr are returned.
	TokenizeFn  func(text string) (int, error)
	TokenCount  int
	TokenizeErr error

	// StreamCalls and CompleteCalls record requests in order.
	StreamCalls   []llm.CompletionRequest
	CompleteCalls []llm.CompletionRequest
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	err := p.StreamErr
	fn := p.StreamFn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	return p.CompleteResponse, p.CompleteErr
}

// Tokenize implements llm.Provider.
func (p *Provider) Tokenize(ctx context.Context, text string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenizeFn != nil {
		return p.TokenizeFn(text)
	}
	return p.TokenCount, p.TokenizeErr
}
