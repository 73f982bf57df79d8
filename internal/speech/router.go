package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthward/jarvisd/pkg/provider/tts"
)

const (
	// primaryDeadline is the hard budget for the fast primary engine. If
	// the primary cannot answer inside it, the fallback takes over.
	primaryDeadline = 3 * time.Second

	// fallbackDeadline budgets the slower but reliable fallback engine.
	fallbackDeadline = 10 * time.Second

	// recoveryInterval is how long the primary is bypassed after a
	// failure before the next response may probe it again.
	recoveryInterval = 30 * time.Second

	// cacheSize bounds the per-text synthesis cache.
	cacheSize = 64
)

// Chunk is one synthesized sentence. Indices are strictly monotonic per
// response; a sentence that fails on both engines leaves a gap.
type Chunk struct {
	Index       int
	Text        string
	Audio       []byte
	ContentType string
	Engine      string
}

// engineHealth is the process-global primary health state. Concurrent
// markFailed calls are benign: the timestamps are monotonic and any
// observed value is valid.
type engineHealth struct {
	mu          sync.Mutex
	lastFailure time.Time
	now         func() time.Time
}

func (h *engineHealth) markFailed() {
	h.mu.Lock()
	h.lastFailure = h.now()
	h.mu.Unlock()
}

func (h *engineHealth) markHealthy() {
	h.mu.Lock()
	h.lastFailure = time.Time{}
	h.mu.Unlock()
}

// shouldTryPrimary reports whether the primary may be probed: always, except
// within the recovery interval after a failure.
func (h *engineHealth) shouldTryPrimary() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFailure.IsZero() || h.now().Sub(h.lastFailure) >= recoveryInterval
}

type cacheKey struct {
	text   string
	engine string
}

type cacheEntry struct {
	audio       []byte
	contentType string
}

// synthCache is a small LRU keyed on (text, engine). Repeated phrases
// ("Done.", "Anything else?") skip synthesis entirely.
type synthCache struct {
	mu      sync.Mutex
	max     int
	entries map[cacheKey]cacheEntry
	order   []cacheKey
}

func newSynthCache(max int) *synthCache {
	return &synthCache{max: max, entries: make(map[cacheKey]cacheEntry)}
}

func (c *synthCache) get(key cacheKey) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *synthCache) put(key cacheKey, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
		if len(c.order) > c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[key] = e
}

// Router synthesizes sentences with primary/fallback failover. One Router is
// shared by all responses; per-response state (the engine lock, the index
// counter) lives in [Router.Speak].
type Router struct {
	primary  tts.Engine
	fallback tts.Engine
	health   *engineHealth
	cache    *synthCache
}

// NewRouter creates a [Router] over the two engines. fallback may equal
// primary when no second engine is deployed.
func NewRouter(primary, fallback tts.Engine) *Router {
	return &Router{
		primary:  primary,
		fallback: fallback,
		health:   &engineHealth{now: time.Now},
		cache:    newSynthCache(cacheSize),
	}
}

// Speak drains sentences sequentially, emitting one [Chunk] per successful
// synthesis in strict index order, and returns the number of chunks emitted.
// Once any sentence falls back, the rest of the response stays on the
// fallback engine so the listener never hears a mid-response voice switch.
// Cancellation stops production; already-emitted chunks are not recalled.
func (r *Router) Speak(ctx context.Context, sentences <-chan string, emit func(Chunk)) int {
	locked := false
	index := 0
	emitted := 0

	for {
		select {
		case <-ctx.Done():
			return emitted
		case text, ok := <-sentences:
			if !ok {
				return emitted
			}
			audio, contentType, engine := r.synthesize(ctx, text, &locked)
			if audio != nil {
				emit(Chunk{Index: index, Text: text, Audio: audio, ContentType: contentType, Engine: engine})
				emitted++
			}
			index++
		}
	}
}

// synthesize runs the per-sentence failover: cache, primary under its
// deadline, then fallback. A nil audio return means both engines failed.
func (r *Router) synthesize(ctx context.Context, text string, locked *bool) (audio []byte, contentType, engine string) {
	if !*locked && r.health.shouldTryPrimary() {
		key := cacheKey{text: text, engine: r.primary.Name()}
		if e, ok := r.cache.get(key); ok {
			return e.audio, e.contentType, r.primary.Name()
		}

		pctx, cancel := context.WithTimeout(ctx, primaryDeadline)
		audio, contentType, err := r.primary.Synthesize(pctx, text)
		cancel()
		if err == nil {
			r.health.markHealthy()
			r.cache.put(key, cacheEntry{audio: audio, contentType: contentType})
			return audio, contentType, r.primary.Name()
		}
		slog.Warn("primary tts failed, switching to fallback",
			"engine", r.primary.Name(), "error", err)
		r.health.markFailed()
	}

	key := cacheKey{text: text, engine: r.fallback.Name()}
	if e, ok := r.cache.get(key); ok {
		*locked = true
		return e.audio, e.contentType, r.fallback.Name()
	}

	fctx, cancel := context.WithTimeout(ctx, fallbackDeadline)
	fa, fct, err := r.fallback.Synthesize(fctx, text)
	cancel()
	if err != nil {
		slog.Error("fallback tts failed, dropping sentence",
			"engine", r.fallback.Name(), "error", err)
		return nil, "", ""
	}
	*locked = true
	r.cache.put(key, cacheEntry{audio: fa, contentType: fct})
	return fa, fct, r.fallback.Name()
}
