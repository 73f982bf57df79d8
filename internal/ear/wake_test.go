package ear

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthward/jarvisd/pkg/audio"
)

func wakeServer(t *testing.T, score float64, posts *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "audio/wav" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if _, err := audio.ParseWAV(body); err != nil {
			t.Errorf("posted body is not WAV: %v", err)
		}
		posts.Add(1)
		json.NewEncoder(w).Encode(map[string]float64{"score": score})
	}))
}

// pump feeds silent frames for up to d, returning true as soon as Detect
// fires. Scoring runs off the capture path, so a detection surfaces a few
// frames after the window fills.
func pump(w *RemoteWake, d time.Duration) bool {
	frame := make([]int16, frameSamples)
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if w.Detect(frame) {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestRemoteWakeDetects(t *testing.T) {
	var posts atomic.Int64
	srv := wakeServer(t, 0.9, &posts)
	defer srv.Close()

	w := NewRemoteWake(srv.URL, 0.5)
	if !pump(w, 2*time.Second) {
		t.Fatal("score above threshold did not detect")
	}
	if posts.Load() == 0 {
		t.Fatal("no scoring request made")
	}
	if len(w.window) != 0 {
		t.Error("window not cleared after detection")
	}
}

func TestRemoteWakeBelowThreshold(t *testing.T) {
	var posts atomic.Int64
	srv := wakeServer(t, 0.2, &posts)
	defer srv.Close()

	w := NewRemoteWake(srv.URL, 0.5)
	if pump(w, 300*time.Millisecond) {
		t.Fatal("score below threshold detected")
	}
	if posts.Load() == 0 {
		t.Fatal("no scoring request made")
	}
}

func TestRemoteWakeNoRequestUntilWindowFull(t *testing.T) {
	var posts atomic.Int64
	srv := wakeServer(t, 0.9, &posts)
	defer srv.Close()

	w := NewRemoteWake(srv.URL, 0.5)
	frame := make([]int16, frameSamples)
	for i := 0; i < 3; i++ {
		if w.Detect(frame) {
			t.Fatal("detected before the window filled")
		}
	}
	if posts.Load() != 0 {
		t.Errorf("%d requests before the window filled", posts.Load())
	}
}

func TestRemoteWakeScorerDownIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewRemoteWake(srv.URL, 0.5)
	if pump(w, 300*time.Millisecond) {
		t.Fatal("scorer failure treated as detection")
	}
}

func TestRemoteWakeDetectNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(map[string]float64{"score": 0.9})
	}))
	defer srv.Close()
	defer close(release)

	w := NewRemoteWake(srv.URL, 0.5)
	frame := make([]int16, frameSamples)
	frames := wakeWindowSamples/frameSamples + 2*wakeStrideFrames

	// With the scorer hung, every Detect call must still return well under
	// the frame interval or capture would drop audio.
	start := time.Now()
	for i := 0; i < frames; i++ {
		w.Detect(frame)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Detect held the capture path for %v with a hung scorer", elapsed)
	}
}
