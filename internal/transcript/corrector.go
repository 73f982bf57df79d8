// Package transcript corrects speech-to-text output against the homelab's
// known vocabulary before the text reaches the model.
//
// Whisper is good at English and bad at infrastructure proper nouns: node
// names, VM names, and service names come back as phonetic near-misses
// ("pie hole", "free gate"). The [Corrector] scans the raw transcript for
// bigrams and single words that phonetically align with a vocabulary entry
// and substitutes the canonical spelling, recording every substitution so
// callers can log what changed.
//
// The vocabulary is rebuilt from live cluster state, so newly created guests
// become correctable without a restart.
package transcript

import (
	"strings"
	"sync"

	"github.com/hearthward/jarvisd/internal/transcript/phonetic"
)

// minTokenLen skips short function words that would otherwise phonetically
// collide with almost anything.
const minTokenLen = 3

// Correction records a single substitution applied to a transcript.
type Correction struct {
	// Original is the text as produced by the STT engine.
	Original string

	// Corrected is the vocabulary entry that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score (0.0 to 1.0).
	Confidence float64
}

// Corrector applies phonetic vocabulary correction to transcripts. Safe for
// concurrent use; SetVocabulary may be called while Correct runs.
type Corrector struct {
	matcher *phonetic.Matcher

	mu    sync.RWMutex
	vocab []string
	// single holds the entries without spaces: the only ones a lone token
	// may be rewritten to.
	single []string
	exact  map[string]struct{}
}

// NewCorrector creates a corrector with the given initial vocabulary.
func NewCorrector(vocab []string, opts ...phonetic.Option) *Corrector {
	c := &Corrector{matcher: phonetic.New(opts...)}
	c.SetVocabulary(vocab)
	return c
}

// SetVocabulary replaces the known-entity list. Called by the monitor when
// cluster membership changes.
func (c *Corrector) SetVocabulary(vocab []string) {
	exact := make(map[string]struct{}, len(vocab))
	clean := make([]string, 0, len(vocab))
	var single []string
	for _, v := range vocab {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		clean = append(clean, v)
		exact[strings.ToLower(v)] = struct{}{}
		if !strings.ContainsRune(v, ' ') {
			single = append(single, v)
		}
	}

	c.mu.Lock()
	c.vocab = clean
	c.single = single
	c.exact = exact
	c.mu.Unlock()
}

// Correct scans text and substitutes phonetic near-misses of vocabulary
// entries. Bigrams are tried before single words so split names ("pie hole")
// collapse into one entity. Words that already spell a vocabulary entry are
// left alone.
func (c *Corrector) Correct(text string) (string, []Correction) {
	c.mu.RLock()
	vocab := c.vocab
	single := c.single
	exact := c.exact
	c.mu.RUnlock()

	if len(vocab) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	var corrections []Correction

	for i := 0; i < len(tokens); i++ {
		word, punct := splitTrailingPunct(tokens[i])

		if _, known := exact[strings.ToLower(word)]; known {
			out = append(out, tokens[i])
			continue
		}

		// Bigram first: a split entity name beats two independent words.
		// To keep an innocent neighbour from being swallowed when one
		// token alone explains the match, the bigram must score strictly
		// better than either token on its own.
		if i+1 < len(tokens) && punct == "" {
			next, nextPunct := splitTrailingPunct(tokens[i+1])
			if _, known := exact[strings.ToLower(word+" "+next)]; known {
				out = append(out, tokens[i], tokens[i+1])
				i++
				continue
			}
			if len(word) >= minTokenLen || len(next) >= minTokenLen {
				bigram := word + " " + next
				if corrected, conf, ok := c.matcher.Match(bigram, vocab); ok &&
					conf > c.singleScore(word, single) && conf > c.singleScore(next, single) {
					out = append(out, corrected+nextPunct)
					corrections = append(corrections, Correction{
						Original: bigram, Corrected: corrected, Confidence: conf,
					})
					i++
					continue
				}
			}
		}

		// A lone token may only become a single-word entry; it cannot
		// reconstruct a multi-word name by itself.
		if len(word) >= minTokenLen {
			if corrected, conf, ok := c.matcher.Match(word, single); ok {
				out = append(out, corrected+punct)
				corrections = append(corrections, Correction{
					Original: word, Corrected: corrected, Confidence: conf,
				})
				continue
			}
		}
		out = append(out, tokens[i])
	}

	return strings.Join(out, " "), corrections
}

// singleScore is the token's best single-word match confidence, 0 when the
// token is too short or nothing matches.
func (c *Corrector) singleScore(word string, single []string) float64 {
	if len(word) < minTokenLen {
		return 0
	}
	_, conf, _ := c.matcher.Match(word, single)
	return conf
}

// splitTrailingPunct separates trailing sentence punctuation from a token so
// "pihole." still matches "pihole" and the punctuation survives.
func splitTrailingPunct(token string) (word, punct string) {
	end := len(token)
	for end > 0 && strings.ContainsRune(".,!?;:", rune(token[end-1])) {
		end--
	}
	return token[:end], token[end:]
}
