package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer mark names, in pipeline order.
const (
	MarkReceived       = "t0_received"
	MarkRouted         = "t1_routed"
	MarkLLMStart       = "t2_llm_start"
	MarkFirstToken     = "t3_first_token"
	MarkLLMDone        = "t4_llm_done"
	MarkTTSQueued      = "t5_tts_queued"
	MarkTTSFirst       = "t6_tts_first"
	MarkAudioDelivered = "t7_audio_delivered"
)

var markOrder = []string{
	MarkReceived, MarkRouted, MarkLLMStart, MarkFirstToken,
	MarkLLMDone, MarkTTSQueued, MarkTTSFirst, MarkAudioDelivered,
}

// RequestTimer records monotonic latency marks across one request's
// pipeline, all relative to t0_received. Marks may be set from different
// goroutines; setting a mark twice keeps the first value.
type RequestTimer struct {
	start time.Time

	mu    sync.Mutex
	marks map[string]time.Duration
}

// NewRequestTimer starts a timer with t0_received at now.
func NewRequestTimer() *RequestTimer {
	return &RequestTimer{
		start: time.Now(),
		marks: map[string]time.Duration{MarkReceived: 0},
	}
}

// Mark records the named mark at the current time, if not already set.
func (t *RequestTimer) Mark(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.marks[name]; !done {
		t.marks[name] = time.Since(t.start)
	}
}

// Breakdown returns the recorded marks in milliseconds, plus "total" at the
// time of the call. Attached to the response-done event.
func (t *RequestTimer) Breakdown() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int64, len(t.marks)+1)
	for name, d := range t.marks {
		out[name] = d.Milliseconds()
	}
	out["total"] = time.Since(t.start).Milliseconds()
	return out
}

// Log emits the single-line human-readable breakdown.
func (t *RequestTimer) Log(sessionID string) {
	t.mu.Lock()
	parts := make([]string, 0, len(markOrder))
	for _, name := range markOrder {
		if d, done := t.marks[name]; done {
			parts = append(parts, fmt.Sprintf("%s=%dms", name, d.Milliseconds()))
		}
	}
	t.mu.Unlock()

	slog.Info("request timing",
		"session", sessionID,
		"total_ms", time.Since(t.start).Milliseconds(),
		"breakdown", fmt.Sprintf("%v", parts))
}
