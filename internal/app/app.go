// Package app wires all Mnemoxa subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithTemporalProvider,
// WithAgent, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/mnemoxa/internal/agent"
	"github.com/MrWong99/mnemoxa/internal/api"
	"github.com/MrWong99/mnemoxa/internal/auth"
	"github.com/MrWong99/mnemoxa/internal/config"
	"github.com/MrWong99/mnemoxa/internal/factual"
	"github.com/MrWong99/mnemoxa/internal/health"
	"github.com/MrWong99/mnemoxa/internal/hybrid"
	"github.com/MrWong99/mnemoxa/internal/persist"
	"github.com/MrWong99/mnemoxa/internal/shortterm"
	"github.com/MrWong99/mnemoxa/internal/temporal"
	"github.com/MrWong99/mnemoxa/pkg/memory"
	"github.com/MrWong99/mnemoxa/pkg/memory/chromem"
	"github.com/MrWong99/mnemoxa/pkg/memory/factualpg"
	"github.com/MrWong99/mnemoxa/pkg/memory/temporalpg"
	"github.com/MrWong99/mnemoxa/pkg/provider/embeddings"
	"github.com/MrWong99/mnemoxa/pkg/provider/llm"
)

const defaultShutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the Mnemoxa HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	persist      *persist.Gateway
	persistIface api.Persistence
	temporalProv memory.TemporalProvider
	factualProv  memory.FactualProvider
	shortTerm    *shortterm.Store
	memory       *hybrid.Orchestrator
	agent        agent.Agent
	auth         *auth.Gateway
	server       *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTemporalProvider injects a temporal store instead of connecting one
// from config.
func WithTemporalProvider(p memory.TemporalProvider) Option {
	return func(a *App) { a.temporalProv = p }
}

// WithFactualProvider injects a factual store instead of connecting one
// from config.
func WithFactualProvider(p memory.FactualProvider) Option {
	return func(a *App) { a.factualProv = p }
}

// WithPersistence injects a users-and-transcripts store instead of
// connecting PostgreSQL.
func WithPersistence(p api.Persistence) Option {
	return func(a *App) { a.persistIface = p }
}

// WithAgent injects a conversational agent instead of building one from the
// configured LLM provider.
func WithAgent(ag agent.Agent) Option {
	return func(a *App) { a.agent = ag }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Users + transcripts ───────────────────────────────────────────
	if err := a.initPersist(ctx); err != nil {
		return nil, fmt.Errorf("app: init persistence: %w", err)
	}

	// ── 2. Memory stores ─────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 3. Agent ─────────────────────────────────────────────────────────
	if err := a.initAgent(); err != nil {
		return nil, fmt.Errorf("app: init agent: %w", err)
	}

	// ── 4. Auth ──────────────────────────────────────────────────────────
	if err := a.initAuth(); err != nil {
		return nil, fmt.Errorf("app: init auth: %w", err)
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPersist connects the PostgreSQL gateway for users and raw transcripts.
func (a *App) initPersist(ctx context.Context) error {
	if a.persistIface != nil {
		return nil // injected
	}

	gw, err := persist.NewGateway(ctx, a.cfg.Memory.PersistDSN)
	if err != nil {
		return err
	}
	a.persist = gw
	a.persistIface = gw
	a.closers = append(a.closers, func() error {
		gw.Close()
		return nil
	})
	return nil
}

// initMemory connects the temporal and factual stores and assembles the
// hybrid orchestrator. A missing factual DSN falls back to the embedded
// vector store so the service stays usable without a second database.
func (a *App) initMemory(ctx context.Context) error {
	if a.temporalProv == nil {
		if a.cfg.Memory.TemporalDSN == "" {
			return fmt.Errorf("memory.temporal_dsn is required when no temporal store is injected")
		}
		store, err := temporalpg.NewStore(ctx, a.cfg.Memory.TemporalDSN)
		if err != nil {
			return err
		}
		a.temporalProv = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	if a.factualProv == nil {
		if dsn := a.cfg.Memory.FactualDSN; dsn != "" {
			store, err := factualpg.NewStore(ctx, dsn, a.providers.Embeddings)
			if err != nil {
				return err
			}
			a.factualProv = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		} else {
			slog.Warn("factual_dsn not set; using embedded in-process vector store")
			a.factualProv = chromem.NewStore(a.providers.Embeddings)
		}
	}

	path := a.cfg.Memory.ShortTermPath
	if path == "" {
		path = ":memory:"
	}
	st, err := shortterm.NewStore(path)
	if err != nil {
		return err
	}
	a.shortTerm = st
	a.closers = append(a.closers, st.Close)

	a.memory = hybrid.New(
		temporal.NewClient(a.temporalProv),
		factual.NewClient(a.factualProv),
		hybrid.WithAgentSource(st),
	)
	return nil
}

// initAgent builds the conversational agent around the configured LLM.
func (a *App) initAgent() error {
	if a.agent != nil {
		return nil // injected
	}
	if a.providers.LLM == nil {
		return fmt.Errorf("an LLM provider is required when no agent is injected")
	}

	ag, err := agent.NewConversationAgent(agent.Config{
		Memory:        a.memory,
		LLM:           a.providers.LLM,
		ShortTerm:     a.shortTerm,
		SystemPrompt:  a.cfg.Agent.SystemPrompt,
		Temperature:   a.cfg.Agent.Temperature,
		MaxTokens:     a.cfg.Agent.MaxTokens,
		HistoryLimit:  a.cfg.Agent.HistoryLimit,
		SessionTTL:    a.cfg.Agent.SessionTTL,
		WaitForMemory: a.cfg.Memory.WaitForMemory,
	})
	if err != nil {
		return err
	}
	a.agent = ag
	return nil
}

// initAuth creates the token gateway from the configured secret.
func (a *App) initAuth() error {
	var opts []auth.Option
	if a.cfg.Auth.Issuer != "" {
		opts = append(opts, auth.WithIssuer(a.cfg.Auth.Issuer))
	}
	if a.cfg.Auth.TokenTTL > 0 {
		opts = append(opts, auth.WithTokenTTL(a.cfg.Auth.TokenTTL))
	}
	gw, err := auth.NewGateway(a.cfg.Auth.Secret, opts...)
	if err != nil {
		return err
	}
	a.auth = gw
	return nil
}

// initServer assembles the router and the HTTP server around it.
func (a *App) initServer() {
	var checkers []health.Checker
	if a.persist != nil {
		checkers = append(checkers, health.Checker{Name: "postgres", Check: a.persist.Ping})
	}

	router := api.NewRouter(api.Config{
		Agent:   a.agent,
		Memory:  a.memory,
		Auth:    a.auth,
		Persist: a.persistIface,
		Health:  health.New(checkers...),
	})

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
}

// Retune pushes reloaded agent settings into a running agent. Agents that do
// not implement [agent.Tunable] (injected test doubles, mostly) are left
// unchanged.
func (a *App) Retune(cfg config.AgentConfig) {
	t, ok := a.agent.(agent.Tunable)
	if !ok {
		return
	}
	t.Tune(agent.Tuning{
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		HistoryLimit: cfg.HistoryLimit,
	})
	slog.Info("agent settings reloaded",
		"temperature", cfg.Temperature,
		"max_tokens", cfg.MaxTokens,
		"history_limit", cfg.HistoryLimit,
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation it drains in-flight requests within the configured grace
// period before returning.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("app running", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	grace := a.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, then tears down all subsystems in init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
