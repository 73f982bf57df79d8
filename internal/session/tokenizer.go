package session

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens for context budgeting. It prefers an exact
// tiktoken encoding and degrades to the ceil(len/4) character estimate when
// the encoding is unavailable, so budgeting keeps working offline.
type Tokenizer struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

// NewTokenizer loads the cl100k_base encoding. An encoding load failure is
// logged once and the tokenizer falls back to estimation permanently.
func NewTokenizer() *Tokenizer {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tokenizer: encoding unavailable, using character estimate", "error", err)
		return &Tokenizer{}
	}
	return &Tokenizer{encoding: enc}
}

// Count returns the token count of text.
func (t *Tokenizer) Count(text string) int {
	if t.encoding != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return len(t.encoding.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens is the chars/4 fallback, rounded up.
func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
