package ear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hearthward/jarvisd/pkg/audio"
)

// WakeDetector scores capture frames for the wake phrase. Detect is called
// once per speech frame in capture order; implementations accumulate
// whatever window they need internally and must return promptly, since the
// caller is the frame-interval capture loop.
type WakeDetector interface {
	Detect(frame []int16) bool
}

// Remote wake scoring parameters. The scorer wants a bit over a second of
// audio; re-scoring every few frames keeps trigger latency near 100 ms
// without hammering the endpoint.
const (
	wakeWindowSamples = 20480 // 1.28 s at 16 kHz
	wakeStrideFrames  = 4
	wakeTimeout       = 2 * time.Second
)

// RemoteWake scores audio against a wake-word inference endpoint. It keeps a
// sliding sample window and posts it as WAV every few frames; any transport
// or decode failure counts as no detection.
//
// The HTTP round trip runs on a background goroutine, never on the capture
// path: Detect snapshots the window, hands it off when no score is in
// flight, and picks up the result on a later frame.
type RemoteWake struct {
	url       string
	threshold float64
	client    *http.Client

	// window and sinceScore are touched only by the capture goroutine.
	window     []int16
	sinceScore int

	mu          sync.Mutex
	inFlight    bool
	hit         bool
	lastFailure time.Time
}

// NewRemoteWake creates a detector against the given scoring endpoint.
// threshold is the minimum score that counts as a detection.
func NewRemoteWake(url string, threshold float64) *RemoteWake {
	return &RemoteWake{
		url:       url,
		threshold: threshold,
		client:    &http.Client{Timeout: wakeTimeout},
	}
}

// Detect implements [WakeDetector]. It returns without blocking; a detection
// from an in-flight score surfaces on the next frame.
func (w *RemoteWake) Detect(frame []int16) bool {
	w.window = append(w.window, frame...)
	if excess := len(w.window) - wakeWindowSamples; excess > 0 {
		w.window = w.window[excess:]
	}

	w.mu.Lock()
	if w.hit {
		w.hit = false
		w.mu.Unlock()
		// Clear the window so the same audio cannot re-trigger.
		w.window = w.window[:0]
		w.sinceScore = 0
		return true
	}
	w.mu.Unlock()

	if len(w.window) < wakeWindowSamples {
		return false
	}
	w.sinceScore++
	if w.sinceScore < wakeStrideFrames {
		return false
	}
	w.sinceScore = 0

	w.mu.Lock()
	if w.inFlight {
		w.mu.Unlock()
		return false
	}
	w.inFlight = true
	w.mu.Unlock()

	snapshot := make([]int16, len(w.window))
	copy(snapshot, w.window)
	go w.scoreAsync(snapshot)
	return false
}

// scoreAsync runs one scoring round trip and leaves the outcome for the next
// Detect call.
func (w *RemoteWake) scoreAsync(window []int16) {
	score, err := w.score(window)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	if err != nil {
		// Log at most once per backoff interval; scoring runs many times a
		// second while the window is full.
		if time.Since(w.lastFailure) > 10*time.Second {
			slog.Warn("wake scoring failed", "error", err)
			w.lastFailure = time.Now()
		}
		return
	}
	if score >= w.threshold {
		w.hit = true
	}
}

func (w *RemoteWake) score(window []int16) (float64, error) {
	wav := audio.EncodeWAV(audio.PCMBytes(window), sampleRate, 1)

	ctx, cancel := context.WithTimeout(context.Background(), wakeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(wav))
	if err != nil {
		return 0, fmt.Errorf("ear: build wake request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ear: wake request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("ear: wake scorer returned %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ear: decode wake score: %w", err)
	}
	return out.Score, nil
}
