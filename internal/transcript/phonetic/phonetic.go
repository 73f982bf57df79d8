// Package phonetic matches misheard transcript words against the known
// vocabulary of node, VM, and service names.
//
// Speech recognition reliably mangles homelab jargon: "frigate" arrives as
// "free gate", "pve1" as "p v e one". Matching happens in two stages. Double
// Metaphone codes are computed for the input and every vocabulary term; terms
// sharing at least one code are phonetic candidates and the best candidate by
// Jaro-Winkler similarity wins, subject to the phonetic threshold. When no
// term sounds alike, a stricter pure Jaro-Winkler pass (fuzzy threshold,
// default 0.85) catches plain misspellings.
//
// Multi-word terms work on both sides: the matcher scores full strings,
// space-stripped concatenations, and every token pair, and keeps the best.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a sound-alike term to
// be accepted. Default 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum similarity for the non-phonetic
// fallback pass. Default 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores transcript words against a vocabulary. Read-only after
// construction, so safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with default thresholds unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary term most similar to word, its similarity
// score, and whether any term cleared its threshold. word may be a
// space-separated phrase. On no match, corrected is word unchanged.
//
// A phonetic candidate always beats a fuzzy-only candidate, whatever the
// scores: sounding alike is stronger evidence of a mishearing than looking
// alike.
func (m *Matcher) Match(word string, vocab []string) (corrected string, confidence float64, matched bool) {
	if len(vocab) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	wordCodes := metaphoneCodes(wordTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, term := range vocab {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		soundsAlike := overlaps(wordCodes, metaphoneCodes(termTokens))
		score := similarity(wordTokens, termTokens, wordLower, termLower)

		switch {
		case soundsAlike && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestTerm, bestScore, bestPhonetic = term, score, true
			}
		case !soundsAlike && !bestPhonetic:
			if score >= m.fuzzyThreshold && score > bestScore {
				bestTerm, bestScore = term, score
			}
		}
	}

	if bestTerm == "" {
		return word, 0, false
	}
	return bestTerm, bestScore, true
}

// metaphoneCodes returns the union of Double Metaphone codes over tokens.
// Short or vowel-only tokens can produce empty codes; those are dropped.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score across three views of the pair:
// the full strings, the space-stripped strings ("free gate" vs "frigate"),
// and every token pair.
func similarity(wordTokens, termTokens []string, wordFull, termFull string) float64 {
	score := matchr.JaroWinkler(wordFull, termFull, false)

	if len(wordTokens) > 1 || len(termTokens) > 1 {
		joined := matchr.JaroWinkler(
			strings.Join(wordTokens, ""),
			strings.Join(termTokens, ""),
			false,
		)
		score = max(score, joined)
	}

	for _, wt := range wordTokens {
		for _, tt := range termTokens {
			score = max(score, matchr.JaroWinkler(wt, tt, false))
		}
	}
	return score
}
