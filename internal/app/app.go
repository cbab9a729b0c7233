// Package app wires voicegate's subsystems into a running process.
//
// The App struct owns the full lifecycle: New creates and connects the
// config store, STT provider registry, agent-client holder, rebuilders, rate
// limiter, and HTTP surface; Run serves traffic until its context is
// cancelled; Shutdown tears everything down in order, respecting a deadline.
//
// For testing, inject test doubles via functional options (WithRegistry,
// WithProviderSet, WithAgentHolder). When an option is not provided, New
// creates the real implementation from cfg.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/glyphgate/voicegate/internal/agentclient"
	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/health"
	"github.com/glyphgate/voicegate/internal/httpapi"
	"github.com/glyphgate/voicegate/internal/orchestrator"
	"github.com/glyphgate/voicegate/internal/providerset"
	"github.com/glyphgate/voicegate/internal/ratelimit"
	"github.com/glyphgate/voicegate/internal/rebuild"
	"github.com/glyphgate/voicegate/internal/resilience"
	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
	"github.com/glyphgate/voicegate/pkg/stt/custom"
	"github.com/glyphgate/voicegate/pkg/stt/openai"
	"github.com/glyphgate/voicegate/pkg/stt/whisperx"
)

// App owns all subsystem lifetimes and serves the voice-turn gateway's HTTP
// surface.
type App struct {
	store       *config.Store
	registry    *config.Registry
	providers   *providerset.Set
	agentHolder *agentclient.Holder
	orch        *orchestrator.Orchestrator
	limiter     *ratelimit.Limiter
	api         *httpapi.Server
	httpServer  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a provider factory registry instead of the default
// one wired to pkg/stt/{whisperx,openai,custom}.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithProviderSet injects a live provider set instead of an empty one.
func WithProviderSet(p *providerset.Set) Option {
	return func(a *App) { a.providers = p }
}

// WithAgentHolder injects an agent-client holder instead of building one
// from cfg.AgentGatewayURL/AgentGatewayToken.
func WithAgentHolder(h *agentclient.Holder) Option {
	return func(a *App) { a.agentHolder = h }
}

// defaultRegistry wires the three built-in STT provider factories, mirroring
// the construction each adapter's own New performs from a GatewayConfig
// section. Registered once here; every later rebuild resolves through it
// too, so there is exactly one place that knows how to build each provider.
func defaultRegistry() *config.Registry {
	r := config.NewRegistry()
	r.RegisterSTT(ids.ProviderWhisperX, func(cfg config.GatewayConfig) (stt.Provider, error) {
		return whisperx.New(cfg.WhisperX.BaseURL,
			whisperx.WithModel(cfg.WhisperX.Model),
			whisperx.WithLanguage(cfg.WhisperX.Language),
		)
	})
	r.RegisterSTT(ids.ProviderOpenAI, func(cfg config.GatewayConfig) (stt.Provider, error) {
		return openai.New(cfg.OpenAI.APIKey,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithModel(cfg.OpenAI.Model),
		)
	})
	r.RegisterSTT(ids.ProviderCustom, func(cfg config.GatewayConfig) (stt.Provider, error) {
		return custom.New(cfg.Custom.URL,
			custom.WithAuthHeader(cfg.Custom.AuthHeader),
			custom.WithModel(cfg.Custom.Model),
		)
	})
	return r
}

// New wires every subsystem from cfg. Use Option functions to inject test
// doubles for any subsystem; every unsupplied subsystem is built from cfg.
func New(cfg config.GatewayConfig, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}

	if a.registry == nil {
		a.registry = defaultRegistry()
	}
	if a.providers == nil {
		a.providers = providerset.New()
	}

	a.store = config.NewStore(cfg)

	if err := a.seedInitialProvider(cfg); err != nil {
		return nil, fmt.Errorf("app: seed initial stt provider: %w", err)
	}

	if a.agentHolder == nil {
		a.agentHolder = agentclient.NewHolder(agentclient.New(cfg.AgentGatewayURL, cfg.AgentGatewayToken))
	}

	a.limiter = ratelimit.New(a.store)
	a.closers = append(a.closers, func() error { a.limiter.Close(); return nil })

	rebuild.RegisterSTTRebuilder(a.store, a.providers, a.registry)
	rebuild.RegisterAgentClientRebuilder(a.store, a.agentHolder)

	a.orch = orchestrator.New(a.providers, a.agentHolder, a.store)
	healthHandler := health.New(a.healthCheckers()...)
	a.api = httpapi.New(a.orch, a.store, a.limiter, healthHandler)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: a.api,
	}

	return a, nil
}

// seedInitialProvider constructs and publishes the STT provider selected by
// cfg.STTProvider, so the orchestrator's first turn never finds the
// provider set empty. It does nothing when the set already holds a provider
// for that id (for example one injected via WithProviderSet).
func (a *App) seedInitialProvider(cfg config.GatewayConfig) error {
	if _, ok := a.providers.Get(cfg.STTProvider); ok {
		return nil
	}
	p, err := a.registry.CreateSTT(cfg)
	if err != nil {
		return err
	}
	a.providers.Set(cfg.STTProvider, p)
	return nil
}

// healthCheckers builds the readiness checks for GET /readyz: STT provider
// health, the STT circuit breaker, and agent-client connectivity, per
// spec.md §6.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		{Name: "stt", Check: a.checkSTT},
		{Name: "stt_circuit", Check: a.checkSTTCircuit},
		{Name: "agent", Check: a.checkAgent},
	}
}

func (a *App) checkSTT(ctx context.Context) error {
	cfg := a.store.Get()
	p, ok := a.providers.Get(cfg.STTProvider)
	if !ok {
		return gwerr.New(gwerr.CodeNotReady, "stt provider not yet built")
	}
	status, err := p.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy {
		return fmt.Errorf("stt provider unhealthy: %s", status.Message)
	}
	return nil
}

// checkSTTCircuit reports the circuit breaker guarding the configured STT
// provider as unready while it is open, so a run of backend failures shows
// up in /readyz before the next turn would otherwise hit ErrCircuitOpen.
func (a *App) checkSTTCircuit(_ context.Context) error {
	cfg := a.store.Get()
	if state := a.orch.STTBreakerState(cfg.STTProvider); state == resilience.StateOpen {
		return fmt.Errorf("stt circuit breaker is open for provider %q", cfg.STTProvider)
	}
	return nil
}

func (a *App) checkAgent(_ context.Context) error {
	switch a.agentHolder.Current().State() {
	case agentclient.Failed:
		return fmt.Errorf("agent client handshake failed")
	case agentclient.Draining:
		return fmt.Errorf("agent client is draining")
	default:
		return nil
	}
}

// Store returns the live config store, for callers (e.g. cmd/voicegate) that
// need to load a defaults file or apply an initial patch before Run.
func (a *App) Store() *config.Store { return a.store }

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails to serve.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("voicegate: http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down the HTTP server, disconnects the *current* agent
// client (read through the holder, never a captured local, per spec.md §9's
// mutable-shared-holder design note), and runs every remaining closer. It
// respects ctx's deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("voicegate: shutting down", "closers", len(a.closers))

		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("voicegate: http server shutdown error", "err", err)
		}

		if err := a.agentHolder.Current().Disconnect(); err != nil {
			slog.Warn("voicegate: agent client disconnect error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("voicegate: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("voicegate: closer error", "index", i, "err", err)
			}
		}

		slog.Info("voicegate: shutdown complete")
	})
	return shutdownErr
}
