package ear

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hearthward/jarvisd/pkg/audio"
	"github.com/hearthward/jarvisd/pkg/provider/vad"
)

// captureState is the utterance machine state.
type captureState int

const (
	// stateIdle waits for the wake word.
	stateIdle captureState = iota

	// stateCapturing accumulates an utterance until trailing silence or the
	// hard ceiling ends it.
	stateCapturing

	// stateConversation is the follow-up window after assistant playback:
	// speech starts a capture without a wake word.
	stateConversation
)

func (s captureState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCapturing:
		return "capturing"
	case stateConversation:
		return "conversation"
	default:
		return "unknown"
	}
}

// Machine is the utterance capture state machine. ProcessFrame is called
// from the capture goroutine with every PCM frame; completed utterances are
// handed to the sink as single WAV blobs.
//
// ProcessFrame must be called from one goroutine; NotifyPlaybackDone may be
// called from any.
type Machine struct {
	vadGate vad.Detector
	wake    WakeDetector
	sink    func(wav []byte)

	mu    sync.Mutex
	state captureState

	ring         *preRollRing
	utterance    []int16
	silentFrames int
	followUpEnds time.Time
	now          func() time.Time
}

// NewMachine creates the capture machine. sink receives each completed
// utterance as a WAV blob and may block; it runs on the capture goroutine,
// so long sinks should hand off internally.
func NewMachine(vadGate vad.Detector, wake WakeDetector, sink func(wav []byte)) *Machine {
	return &Machine{
		vadGate: vadGate,
		wake:    wake,
		sink:    sink,
		ring:    newPreRollRing(preRollFrames),
		now:     time.Now,
	}
}

// State reports the current machine state name, for health reporting.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.String()
}

// NotifyPlaybackDone opens the follow-up window: for its duration, speech
// starts a capture without the wake word. Ignored mid-capture.
func (m *Machine) NotifyPlaybackDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateCapturing {
		return
	}
	m.state = stateConversation
	m.followUpEnds = m.now().Add(followUpWindow)
	slog.Debug("follow-up window open", "until", m.followUpEnds)
}

// ProcessFrame advances the machine by one capture frame.
func (m *Machine) ProcessFrame(frame []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateIdle:
		m.ring.Push(frame)
		// The wake detector only sees speech frames.
		if m.vadGate.IsSpeech(frame) && m.wake.Detect(frame) {
			m.startCapture()
		}

	case stateConversation:
		if m.now().After(m.followUpEnds) {
			m.state = stateIdle
			m.ring.Push(frame)
			return
		}
		m.ring.Push(frame)
		if m.vadGate.IsSpeech(frame) {
			slog.Info("follow-up speech, capturing without wake word")
			m.startCapture()
		}

	case stateCapturing:
		m.utterance = append(m.utterance, frame...)
		if m.vadGate.IsSpeech(frame) {
			m.silentFrames = 0
		} else {
			m.silentFrames++
		}
		if m.silentFrames >= silenceEndFrames || len(m.utterance) >= maxUtteranceSamples {
			m.finishCapture()
		}
	}
}

// startCapture drains the pre-roll exactly once into a fresh utterance
// buffer and enters CAPTURING. Caller holds the lock; the triggering frame
// is already in the ring, so the drain includes it.
func (m *Machine) startCapture() {
	m.utterance = append(m.utterance[:0], m.ring.Drain()...)
	m.silentFrames = 0
	m.state = stateCapturing
	slog.Info("utterance capture started", "preroll_samples", len(m.utterance))
}

// finishCapture wraps the utterance in a WAV container, hands it to the
// sink, and returns to IDLE. Caller holds the lock.
func (m *Machine) finishCapture() {
	pcm := audio.PCMBytes(m.utterance)
	wav := audio.EncodeWAV(pcm, sampleRate, 1)
	duration := time.Duration(len(m.utterance)) * time.Second / sampleRate
	slog.Info("utterance complete", "duration", duration, "bytes", len(wav))

	m.state = stateIdle
	m.silentFrames = 0
	m.utterance = m.utterance[:0]

	if m.sink != nil {
		// Release the lock across the sink call so NotifyPlaybackDone from
		// the uplink cannot deadlock against a blocking sink.
		m.mu.Unlock()
		m.sink(wav)
		m.mu.Lock()
	}
}
