// Package speech turns a streaming LLM response into ordered spoken audio:
// a sentence splitter cuts the token stream at terminal punctuation and a
// [Router] synthesizes each sentence with primary/fallback failover, a small
// cache, and a per-response engine lock that keeps the voice consistent.
package speech

import (
	"context"
	"strings"
)

// SplitSentences reads text deltas from in, accumulates them into complete
// sentences, and writes each sentence to out as soon as its boundary
// arrives, keeping time-to-first-audio low. Any remaining partial sentence
// is flushed when in closes. out is closed on return.
func SplitSentences(ctx context.Context, in <-chan string, out chan<- string) {
	defer close(out)

	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			return
		case delta, ok := <-in:
			if !ok {
				if s := strings.TrimSpace(buf.String()); s != "" {
					select {
					case out <- s:
					case <-ctx.Done():
					}
				}
				return
			}
			buf.WriteString(delta)

			for {
				idx := sentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := strings.TrimSpace(buf.String()[:idx+1])
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				if sentence == "" {
					continue
				}
				select {
				case out <- sentence:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// sentenceBoundary returns the index of the first '.', '!', or '?' followed
// by whitespace, or -1. The trailing character of the buffer never counts:
// the stream may continue with "..", "?!", or a decimal digit.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
