// Package api is the HTTP surface of the service: registration, chat, and
// memory inspection endpoints over a chi router.
//
// Every endpoint below /api (except registration) requires a bearer token;
// the handler then operates strictly on the authenticated user's data. A
// user id mismatch anywhere is a hard 403, never a soft warning.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mnemoxa/internal/agent"
	"github.com/MrWong99/mnemoxa/internal/auth"
	"github.com/MrWong99/mnemoxa/internal/health"
	"github.com/MrWong99/mnemoxa/internal/hybrid"
	"github.com/MrWong99/mnemoxa/internal/observe"
	"github.com/MrWong99/mnemoxa/internal/persist"
	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// Persistence is the slice of the persistence gateway the API consumes.
// [persist.Gateway] satisfies it; tests substitute an in-memory double.
type Persistence interface {
	CreateUser(ctx context.Context, user memory.UserProfile) error
	GetUser(ctx context.Context, id string) (*memory.UserProfile, error)
	RecordTurn(ctx context.Context, userID, sessionID, role, content string, ts time.Time) error
	ListSessions(ctx context.Context, userID string) ([]string, error)
	ListTurns(ctx context.Context, userID, sessionID string, limit int) ([]persist.Turn, error)
}

// Compile-time check that the real gateway satisfies the API's view of it.
var _ Persistence = (*persist.Gateway)(nil)

// Config holds all dependencies needed to build the router. Agent, Memory,
// Auth, and Persist are required; Health and Metrics fall back to defaults.
type Config struct {
	// Agent runs chat turns.
	Agent agent.Agent

	// Memory serves search, summary, and fact endpoints.
	Memory *hybrid.Orchestrator

	// Auth verifies bearer tokens and issues them at registration.
	Auth *auth.Gateway

	// Persist stores users and raw transcripts.
	Persist Persistence

	// Health serves the probe endpoints. Nil means probes without checkers.
	Health *health.Handler

	// Metrics overrides the middleware metrics sink, mainly for tests.
	Metrics *observe.Metrics
}

// Handler bundles the handler state behind the router.
type Handler struct {
	agent   agent.Agent
	memory  *hybrid.Orchestrator
	auth    *auth.Gateway
	persist Persistence
}

// NewRouter builds the full route tree with observability and auth
// middleware applied.
func NewRouter(cfg Config) chi.Router {
	h := &Handler{
		agent:   cfg.Agent,
		memory:  cfg.Memory,
		auth:    cfg.Auth,
		persist: cfg.Persist,
	}
	hc := cfg.Health
	if hc == nil {
		hc = health.New()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	r := chi.NewRouter()
	r.Use(observe.Middleware(metrics))

	// Unauthenticated surface: probes, metrics, registration.
	r.Get("/health", hc.Health)
	r.Get("/ready", hc.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/api/auth/register", h.Register)

	// Everything else requires a resolved identity.
	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Post("/api/chat", h.Chat)
		r.Post("/api/memory/search", h.SearchMemory)
		r.Post("/api/memory/facts", h.AddFact)
		r.Get("/api/memory/summary", h.MemorySummary)
		r.Get("/api/memory/{memoryID}", h.GetFact)
		r.Get("/api/memory/{memoryID}/history", h.FactHistory)
		r.Get("/api/sessions", h.ListSessions)
		r.Get("/api/history", h.History)
	})

	return r
}
