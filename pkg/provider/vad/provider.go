// Package vad defines the frame classifier interface used by the ear
// daemon's voice activity gate, plus a self-contained energy-based
// implementation that needs no external service.
//
// Frames are 16-bit mono PCM at the capture rate (16 kHz, 512 samples in
// the reference deployment). Classification runs per frame on the capture
// hot path, so implementations must be cheap and allocation-free.
package vad

// Detector classifies one PCM frame as speech or silence.
type Detector interface {
	// IsSpeech reports whether the frame contains voice activity.
	IsSpeech(frame []int16) bool
}

// defaultEnergyThreshold is the RMS level above which a frame counts as
// speech. Tuned for a conference microphone a metre or two from the
// speaker; quiet rooms can go lower.
const defaultEnergyThreshold = 500.0

// Energy is a [Detector] based on root-mean-square frame energy. It is the
// fallback when no model-based detector is configured; it cannot tell
// speech from any other loud noise.
type Energy struct {
	// Threshold is the RMS level above which IsSpeech returns true.
	Threshold float64
}

// NewEnergy creates an energy detector with the default threshold.
func NewEnergy() *Energy {
	return &Energy{Threshold: defaultEnergyThreshold}
}

// IsSpeech implements [Detector].
func (e *Energy) IsSpeech(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := sum / float64(len(frame))
	return rms > e.Threshold*e.Threshold
}
