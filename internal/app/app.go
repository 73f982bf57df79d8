// Package app wires all jarvisd subsystems into a running control plane.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the monitor tiers until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject fakes via functional options (WithHypervisor,
// WithShell, etc.). When an option is not provided, New creates real clients
// from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/hearthward/jarvisd/internal/config"
	"github.com/hearthward/jarvisd/internal/engine"
	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/gateway"
	"github.com/hearthward/jarvisd/internal/health"
	"github.com/hearthward/jarvisd/internal/mailer"
	"github.com/hearthward/jarvisd/internal/monitor"
	"github.com/hearthward/jarvisd/internal/observe"
	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/internal/server"
	"github.com/hearthward/jarvisd/internal/session"
	"github.com/hearthward/jarvisd/internal/speech"
	"github.com/hearthward/jarvisd/internal/store"
	"github.com/hearthward/jarvisd/internal/tools"
	"github.com/hearthward/jarvisd/internal/transcript"
	"github.com/hearthward/jarvisd/pkg/frigate"
	"github.com/hearthward/jarvisd/pkg/homeassistant"
	"github.com/hearthward/jarvisd/pkg/provider/llm"
	"github.com/hearthward/jarvisd/pkg/provider/stt"
	"github.com/hearthward/jarvisd/pkg/provider/tts"
	"github.com/hearthward/jarvisd/pkg/proxmox"
	"github.com/hearthward/jarvisd/pkg/sshx"
)

// Providers holds one interface value per inference endpoint. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Transcriber
	TTSPrimary tts.Engine
	TTSBackup  tts.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store      *store.Store
	bus        *events.Bus
	metrics    *observe.Metrics
	dispatcher *tools.Dispatcher
	monitor    *monitor.Monitor
	sessions   *session.Manager
	corrector  *transcript.Corrector
	engine     *engine.Engine
	gateway    *gateway.Gateway
	server     *server.Server
	httpSrv    *http.Server

	// Injected infrastructure clients. Nil means build from config.
	hypervisor tools.Hypervisor
	shell      tools.RemoteShell
	smartHome  tools.SmartHome
	nvr        *frigate.Client

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHypervisor injects a hypervisor client instead of dialing Proxmox.
func WithHypervisor(hv tools.Hypervisor) Option {
	return func(a *App) { a.hypervisor = hv }
}

// WithShell injects a remote shell instead of opening an SSH pool.
func WithShell(sh tools.RemoteShell) Option {
	return func(a *App) { a.shell = sh }
}

// WithSmartHome injects a Home Assistant client.
func WithSmartHome(ha tools.SmartHome) Option {
	return func(a *App) { a.smartHome = ha }
}

// WithStore injects an opened store instead of opening the config path.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: store open and migration,
// safety kernel and tool registration, client construction, monitor
// assembly, and the HTTP surface.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.bus = events.NewBus()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = metrics

	if err := a.initClients(); err != nil {
		return nil, fmt.Errorf("app: init clients: %w", err)
	}
	a.initTools()
	a.initMonitor()

	if err := a.initConversation(); err != nil {
		return nil, fmt.Errorf("app: init conversation: %w", err)
	}
	a.initHTTP()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore() error {
	if a.store != nil {
		return nil
	}
	st, err := store.Open(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

// initClients builds the infrastructure clients declared in config, unless a
// test double was injected.
func (a *App) initClients() error {
	if a.hypervisor == nil && a.cfg.Proxmox.BaseURL != "" {
		pveOpts := []proxmox.Option{
			proxmox.WithToken(a.cfg.Proxmox.TokenID, a.cfg.Proxmox.TokenSecret),
		}
		if a.cfg.Proxmox.InsecureTLS {
			pveOpts = append(pveOpts, proxmox.WithInsecureTLS())
		}
		pve, err := proxmox.New(a.cfg.Proxmox.BaseURL, pveOpts...)
		if err != nil {
			return fmt.Errorf("proxmox client: %w", err)
		}
		a.hypervisor = pve
	}

	if a.shell == nil && a.cfg.SSH.User != "" {
		pool, err := sshx.NewPool(sshx.Config{
			User:    a.cfg.SSH.User,
			KeyPath: a.cfg.SSH.KeyPath,
			Port:    a.cfg.SSH.Port,
		})
		if err != nil {
			return fmt.Errorf("ssh pool: %w", err)
		}
		a.shell = pool
		a.closers = append(a.closers, pool.Close)
	}

	if a.smartHome == nil && a.cfg.HomeAssistant.BaseURL != "" {
		ha, err := homeassistant.New(a.cfg.HomeAssistant.BaseURL, a.cfg.HomeAssistant.Token)
		if err != nil {
			return fmt.Errorf("homeassistant client: %w", err)
		}
		a.smartHome = ha
	}

	if a.nvr == nil && a.cfg.Frigate.BaseURL != "" {
		nvr, err := frigate.New(a.cfg.Frigate.BaseURL)
		if err != nil {
			return fmt.Errorf("frigate client: %w", err)
		}
		a.nvr = nvr
	}
	return nil
}

// initTools builds the safety kernel and registers every tool group whose
// backing client is available.
func (a *App) initTools() {
	var protectedVMIDs map[int]string
	if len(a.cfg.Safety.ProtectedVMIDs) > 0 {
		protectedVMIDs = make(map[int]string, len(a.cfg.Safety.ProtectedVMIDs))
		for _, id := range a.cfg.Safety.ProtectedVMIDs {
			protectedVMIDs[id] = "protected by configuration"
		}
	}
	kernel := safety.NewKernel(safety.Config{
		ApprovalKeyword:   a.cfg.Safety.ApprovalKeyword,
		ProtectedVMIDs:    protectedVMIDs,
		ProtectedServices: a.cfg.Safety.ProtectedServices,
		AllowedPathBases:  a.cfg.Safety.AllowedPathBases,
		ProtectedPaths:    a.cfg.Safety.ProtectedPaths,
	}, &auditSink{store: a.store, bus: a.bus})

	d := tools.NewDispatcher(kernel, a.metrics)
	tools.RegisterFileTools(d)
	tools.RegisterTransferTools(d)
	if a.hypervisor != nil {
		tools.RegisterClusterTools(d, a.hypervisor)
		tools.RegisterLifecycleTools(d, a.hypervisor)
	}
	if a.shell != nil {
		tools.RegisterSystemTools(d, a.shell)
	}
	if a.smartHome != nil {
		tools.RegisterSmartHomeTools(d, a.smartHome)
	}
	if a.nvr != nil {
		tools.RegisterCameraTools(d, a.nvr)
	}
	a.dispatcher = d
	slog.Info("tool registry built", "tools", len(d.List()))
}

// initMonitor assembles the runbook engine and polling tiers. Without a
// hypervisor there is nothing to poll and the monitor stays nil.
func (a *App) initMonitor() {
	if a.hypervisor == nil {
		slog.Warn("no hypervisor configured; autonomous monitoring disabled")
		return
	}

	var notify monitor.Notifier
	if a.cfg.Mail.Host != "" && a.shell != nil {
		m, err := mailer.New(a.shell, a.cfg.Mail.Host, a.cfg.Mail.From, a.cfg.Mail.To)
		if err != nil {
			slog.Warn("mailer unavailable; remediation emails disabled", "error", err)
		} else {
			notify = m
		}
	}

	eng := monitor.NewEngine(a.dispatcher, a.store, a.store, notify, a.hypervisor, a.bus, a.metrics)
	a.monitor = monitor.New(a.hypervisor, eng, a.store, a.bus, a.metrics)
}

// initConversation builds the session layer, speech router, transcript
// corrector, and response engine. Without an LLM the conversational surface
// is disabled and only the REST control endpoints are served.
func (a *App) initConversation() error {
	a.sessions = session.NewManager(session.NewTokenizer())
	a.corrector = transcript.NewCorrector(a.cfg.Assistant.Vocabulary)

	if a.providers.LLM == nil {
		slog.Warn("no LLM provider configured; chat and voice namespaces disabled")
		return nil
	}

	var router *speech.Router
	if a.providers.TTSPrimary != nil {
		backup := a.providers.TTSBackup
		if backup == nil {
			// A single engine still gets the router's caching and
			// deadline handling; it just has itself as the fallback.
			backup = a.providers.TTSPrimary
		}
		router = speech.NewRouter(a.providers.TTSPrimary, backup)
	}

	eng, err := engine.New(engine.Config{
		Provider:     a.providers.LLM,
		Dispatcher:   a.dispatcher,
		Sessions:     a.sessions,
		Speech:       router,
		Recorder:     a.store,
		SystemPrompt: a.cfg.Assistant.SystemPrompt,
		Temperature:  a.cfg.Assistant.Temperature,
	})
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

// initHTTP assembles the gateway, REST server, and the http.Server.
func (a *App) initHTTP() {
	var auth gateway.Authenticator
	if a.cfg.Server.PasswordHash != "" || a.cfg.Server.APIKey != "" {
		// a.server is assigned below; the closure runs per-handshake.
		auth = func(token string) bool {
			if a.cfg.Server.APIKey != "" && token == a.cfg.Server.APIKey {
				return true
			}
			return a.server.TokenValid(token)
		}
	}

	if a.engine != nil {
		a.gateway = gateway.New(gateway.Config{
			Engine:     a.engine,
			Sessions:   a.sessions,
			Transcribe: a.providers.STT,
			Corrector:  a.corrector,
			Bus:        a.bus,
			Auth:       auth,
		})
	}

	srvCfg := server.Config{
		Store:        a.store,
		Dispatcher:   a.dispatcher,
		Engine:       a.engine,
		Gateway:      a.gateway,
		Bus:          a.bus,
		Health:       health.New(a.healthCheckers()...),
		Metrics:      a.metrics,
		NVR:          a.nvr,
		PasswordHash: a.cfg.Server.PasswordHash,
		APIKey:       a.cfg.Server.APIKey,
	}
	if a.monitor != nil {
		srvCfg.Tracker = a.monitor.Tracker()
		srvCfg.MonEngine = a.monitor.Engine()
	}
	a.server = server.New(srvCfg)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           a.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// healthCheckers builds the readiness vector from whatever is configured.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{
		{Name: "database", Check: a.store.Ping},
	}
	if a.providers.LLM != nil {
		llmProvider := a.providers.LLM
		checkers = append(checkers, health.Checker{
			Name: "llm",
			Check: func(ctx context.Context) error {
				_, err := llmProvider.Tokenize(ctx, "ok")
				return err
			},
		})
	}
	if a.providers.TTSPrimary != nil {
		ttsEngine := a.providers.TTSPrimary
		checkers = append(checkers, health.Checker{
			Name: "tts",
			Check: func(ctx context.Context) error {
				_, _, err := ttsEngine.Synthesize(ctx, "ok")
				return err
			},
		})
	}
	if a.hypervisor != nil {
		hv := a.hypervisor
		checkers = append(checkers, health.Checker{
			Name: "hypervisor",
			Check: func(ctx context.Context) error {
				_, err := hv.ClusterStatus(ctx)
				return err
			},
		})
	}
	return checkers
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Server returns the REST server, for main's config hot-reload wiring.
func (a *App) Server() *server.Server {
	return a.server
}

// Corrector returns the transcript corrector, for vocabulary hot-reload.
func (a *App) Corrector() *transcript.Corrector {
	return a.corrector
}

// Run serves HTTP and the monitor tiers until ctx is cancelled. The HTTP
// listener is shut down gracefully with a 10 s drain.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	if a.monitor != nil {
		g.Go(func() error {
			a.monitor.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// auditSink persists safety kernel audit events and pushes them to realtime
// subscribers. Failures are logged; the kernel treats audit as best-effort.
type auditSink struct {
	store *store.Store
	bus   *events.Bus
}

func (s *auditSink) Record(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordEvent(ctx, ev); err != nil {
		slog.Warn("audit event write failed", "type", ev.Type, "error", err)
	}
	s.bus.Publish(ev)
}
