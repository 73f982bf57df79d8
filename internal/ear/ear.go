// Package ear implements the voice ingress daemon: continuous microphone
// capture, a VAD gate, wake-word detection, and an utterance [Machine] that
// assembles complete WAV utterances with pre-roll. Utterances travel to the
// control plane over a reconnecting websocket [Uplink]; assistant speech
// comes back the same way and is handed to a [Player].
//
// Capture keeps running when the backend is down. The uplink reconnects
// with exponential backoff and resumes streaming; utterances completed while
// disconnected are dropped with a log line rather than queued stale.
package ear

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// Capture format. 512-sample frames at 16 kHz are 32 ms each.
const (
	sampleRate   = 16000
	frameSamples = 512

	frameDuration = frameSamples * time.Second / sampleRate

	// preRollFrames buffers ~500 ms of audio before the wake word.
	preRollFrames = int(500*time.Millisecond/frameDuration) + 1

	// silenceEndFrames ends an utterance after >=2 s of trailing silence.
	silenceEndFrames = int(2 * time.Second / frameDuration)

	// maxUtteranceSamples is the 30 s hard ceiling.
	maxUtteranceSamples = 30 * sampleRate

	// followUpWindow is how long after assistant playback speech starts a
	// capture without the wake word.
	followUpWindow = 15 * time.Second
)

// Source produces capture frames. ReadFrame fills frame completely or
// returns an error; io.EOF means the device is gone.
type Source interface {
	ReadFrame(frame []int16) error
	Close() error
}

// Player plays one complete audio blob and returns when playback finishes.
type Player interface {
	Play(ctx context.Context, audio []byte, contentType string) error
}

// Run drives the capture loop: frames from src feed the machine until ctx
// is cancelled or the source fails.
func Run(ctx context.Context, src Source, m *Machine) error {
	frame := make([]int16, frameSamples)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := src.ReadFrame(frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ear: capture read: %w", err)
		}
		m.ProcessFrame(frame)
	}
}

// ALSASource captures from the default device through arecord, reading raw
// 16-bit mono PCM from its stdout.
type ALSASource struct {
	cmd *exec.Cmd
	out *bufio.Reader
	buf []byte
}

// NewALSASource starts the capture process.
func NewALSASource(ctx context.Context, device string) (*ALSASource, error) {
	args := []string{"-q", "-f", "S16_LE", "-r", fmt.Sprint(sampleRate), "-c", "1", "-t", "raw"}
	if device != "" {
		args = append(args, "-D", device)
	}
	cmd := exec.CommandContext(ctx, "arecord", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ear: capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ear: start arecord: %w", err)
	}
	slog.Info("audio capture started", "device", device, "rate", sampleRate)
	return &ALSASource{
		cmd: cmd,
		out: bufio.NewReaderSize(stdout, frameSamples*4),
		buf: make([]byte, frameSamples*2),
	}, nil
}

// ReadFrame implements [Source].
func (s *ALSASource) ReadFrame(frame []int16) error {
	buf := s.buf[:len(frame)*2]
	if _, err := io.ReadFull(s.out, buf); err != nil {
		return err
	}
	for i := range frame {
		frame[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return nil
}

// Close implements [Source].
func (s *ALSASource) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

// ALSAPlayer plays blobs by piping them to aplay. WAV input carries its own
// format header, so no format flags are needed.
type ALSAPlayer struct {
	// Device is the ALSA device name; empty uses the default.
	Device string
}

// Play implements [Player].
func (p *ALSAPlayer) Play(ctx context.Context, audio []byte, contentType string) error {
	args := []string{"-q"}
	if p.Device != "" {
		args = append(args, "-D", p.Device)
	}
	cmd := exec.CommandContext(ctx, "aplay", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ear: playback pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ear: start aplay: %w", err)
	}
	if _, err := stdin.Write(audio); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("ear: playback write: %w", err)
	}
	_ = stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ear: aplay: %w", err)
	}
	return nil
}
