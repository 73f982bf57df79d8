// Command jarvis-ear is the satellite microphone client. It captures audio
// from an ALSA device, gates it locally with energy VAD and a remote wake-word
// scorer, and streams complete utterances to the jarvisd voice websocket. TTS
// replies come back over the same connection and are played through aplay.
//
// Raw audio never leaves the device unless the wake word fired; only finished
// WAV utterances cross the network.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hearthward/jarvisd/internal/ear"
	"github.com/hearthward/jarvisd/pkg/provider/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		backendURL = flag.String("backend", "ws://localhost:8090/ws/voice", "jarvisd voice websocket URL")
		token      = flag.String("token", "", "bearer token or API key for the backend (empty for open LAN setups)")
		device     = flag.String("device", "", "ALSA capture/playback device (empty uses the default)")
		wakeURL    = flag.String("wake-url", "http://localhost:8100/score", "wake-word scorer endpoint")
		threshold  = flag.Float64("wake-threshold", 0.5, "minimum wake-word confidence to open an utterance")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wake := ear.NewRemoteWake(*wakeURL, *threshold)
	player := &ear.ALSAPlayer{Device: *device}

	// The machine's sink closes over the uplink, so wire the machine first
	// and hand it the uplink's sender through a late-bound pointer.
	var uplink *ear.Uplink
	machine := ear.NewMachine(vad.NewEnergy(), wake, func(wav []byte) {
		uplink.SendUtterance(ctx, wav)
	})
	uplink = ear.NewUplink(*backendURL, *token, player, machine)

	src, err := ear.NewALSASource(ctx, *device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis-ear: open capture device: %v\n", err)
		return 1
	}

	slog.Info("jarvis-ear starting",
		"backend", *backendURL,
		"device", *device,
		"wake_url", *wakeURL,
		"wake_threshold", *threshold,
	)

	go uplink.Run(ctx)

	if err := ear.Run(ctx, src, machine); err != nil && ctx.Err() == nil {
		slog.Error("capture loop failed", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
