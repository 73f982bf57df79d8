// Command jarvisd is the homelab automation control plane: the REST and
// realtime surface, the conversational engine, and the autonomous monitor in
// one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearthward/jarvisd/internal/app"
	"github.com/hearthward/jarvisd/internal/config"
	"github.com/hearthward/jarvisd/internal/observe"
	"github.com/hearthward/jarvisd/internal/resilience"
	"github.com/hearthward/jarvisd/pkg/provider/llm"
	"github.com/hearthward/jarvisd/pkg/provider/llm/llamacpp"
	"github.com/hearthward/jarvisd/pkg/provider/stt"
	"github.com/hearthward/jarvisd/pkg/provider/stt/whisper"
	"github.com/hearthward/jarvisd/pkg/provider/tts"
	"github.com/hearthward/jarvisd/pkg/provider/tts/piper"
	"github.com/hearthward/jarvisd/pkg/provider/tts/xtts"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "jarvisd.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "jarvisd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "jarvisd: %v\n", err)
		}
		return 1
	}

	// The LevelVar lets the config watcher adjust verbosity at runtime.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("jarvisd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "jarvisd"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Hot-reload the log level and correction vocabulary on config edits.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VocabularyChanged {
			application.Corrector().SetVocabulary(d.NewVocabulary)
			slog.Info("correction vocabulary reloaded", "words", len(d.NewVocabulary))
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable; edits require a restart", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("control plane ready — press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// jarvisd into reg. Each factory receives a config.ProviderEntry and
// constructs the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// llamacpp also serves any OpenAI-compatible endpoint, so "openai" is
	// an alias with the same factory.
	llmFactory := func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llamacpp.Option
		if entry.APIKey != "" {
			opts = append(opts, llamacpp.WithAPIKey(entry.APIKey))
		}
		return llamacpp.New(entry.BaseURL, entry.Model, opts...)
	}
	reg.RegisterLLM("llamacpp", llmFactory)
	reg.RegisterLLM("openai", llmFactory)

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Engine, error) {
		return piper.New(entry.BaseURL)
	})

	reg.RegisterTTS("xtts", func(entry config.ProviderEntry) (tts.Engine, error) {
		var opts []xtts.Option
		if speaker := entry.StringOption("speaker", ""); speaker != "" {
			opts = append(opts, xtts.WithSpeaker(speaker))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, xtts.WithLanguage(lang))
		}
		return xtts.New(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)

		// A configured fallback wraps both endpoints behind per-backend
		// circuit breakers.
		if fb := cfg.Providers.LLMFallback; fb != nil && fb.Name != "" {
			backup, err := reg.CreateLLM(*fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			group := resilience.NewLLMFallback(ps.LLM, name, resilience.FallbackConfig{})
			group.AddFallback(fb.Name, backup)
			ps.LLM = group
			slog.Info("provider created", "kind", "llm-fallback", "name", fb.Name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.Providers.TTSPrimary.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTSPrimary)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTSPrimary = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.TTSFallback.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTSFallback)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", name, err)
		}
		ps.TTSBackup = p
		slog.Info("provider created", "kind", "tts-fallback", "name", name)
	}

	return ps, nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
