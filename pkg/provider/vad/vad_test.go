package vad

import (
	"math"
	"testing"
)

// sine generates a full-scale-ish sine frame.
func sine(samples int, amplitude float64) []int16 {
	frame := make([]int16, samples)
	for i := range frame {
		frame[i] = int16(amplitude * math.Sin(2*math.Pi*float64(i)/64))
	}
	return frame
}

func TestEnergyDetector(t *testing.T) {
	d := NewEnergy()

	if d.IsSpeech(nil) {
		t.Error("empty frame classified as speech")
	}
	if d.IsSpeech(make([]int16, 512)) {
		t.Error("silence classified as speech")
	}
	if !d.IsSpeech(sine(512, 8000)) {
		t.Error("loud tone not classified as speech")
	}
	if d.IsSpeech(sine(512, 100)) {
		t.Error("quiet hum classified as speech")
	}
}

func TestEnergyThresholdAdjustable(t *testing.T) {
	d := &Energy{Threshold: 50}
	if !d.IsSpeech(sine(512, 100)) {
		t.Error("lowered threshold did not pick up quiet tone")
	}
}
