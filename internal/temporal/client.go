// Package temporal wraps a [memory.TemporalProvider] with the service's
// failure policy: every provider call is guarded by a circuit breaker, and
// failures degrade to empty results instead of propagating. A chat turn must
// never fail because the session memory backend is down; it simply proceeds
// with less context.
//
// All degradations are logged at warn level and counted in the metrics so
// that the blast radius stays visible even though callers never see errors.
package temporal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/mnemoxa/internal/observe"
	"github.com/MrWong99/mnemoxa/internal/resilience"
	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// providerLabel is the metrics attribute value for this client.
const providerLabel = "temporal"

// Client is the degrade-to-empty facade over a temporal memory provider.
// All methods are safe for concurrent use.
type Client struct {
	provider memory.TemporalProvider
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics overrides the metrics instance (defaults to
// [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreakerConfig overrides the circuit breaker configuration.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) {
		cfg.Name = providerLabel
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// NewClient creates a Client around provider.
func NewClient(provider memory.TemporalProvider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: providerLabel,
		}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// call runs fn through the circuit breaker with uniform accounting. It
// returns false when the call failed and the caller should fall back to an
// empty result.
func (c *Client) call(ctx context.Context, op string, fn func() error) bool {
	start := time.Now()
	err := c.breaker.Execute(fn)
	c.metrics.MemoryOpDuration.Record(ctx, time.Since(start).Seconds(),
		observe.MemoryOpAttrs(providerLabel, op))

	if err != nil {
		c.metrics.RecordMemoryRequest(ctx, providerLabel, op, "error")
		c.metrics.RecordMemoryDegradation(ctx, providerLabel, op)
		slog.Warn("temporal memory degraded to empty",
			"op", op, "error", err)
		return false
	}
	c.metrics.RecordMemoryRequest(ctx, providerLabel, op, "ok")
	return true
}

// EnsureUser registers the user profile with the temporal store. A profile
// that already exists counts as success. Returns false only when the call
// genuinely failed.
func (c *Client) EnsureUser(ctx context.Context, user memory.UserProfile) bool {
	if user.ID == "" {
		return false
	}
	return c.call(ctx, "create_user", func() error {
		err := c.provider.CreateUser(ctx, user)
		if errors.Is(err, memory.ErrAlreadyExists) {
			return nil
		}
		return err
	})
}

// EnsureSession creates the session for userID. Creating an existing session
// is a no-op in the provider, so this is safe to call on every turn.
func (c *Client) EnsureSession(ctx context.Context, sessionID, userID string) bool {
	if sessionID == "" || userID == "" {
		return false
	}
	return c.call(ctx, "create_session", func() error {
		return c.provider.CreateSession(ctx, sessionID, userID)
	})
}

// AppendMessages appends turns to the session transcript. Failures are
// absorbed: the turn proceeds, the transcript entry is lost.
func (c *Client) AppendMessages(ctx context.Context, sessionID string, turns []memory.ConversationTurn) bool {
	if sessionID == "" || len(turns) == 0 {
		return false
	}
	return c.call(ctx, "append_messages", func() error {
		return c.provider.AppendMessages(ctx, sessionID, turns)
	})
}

// SessionMemory returns the session's rolling summary and transcript, or nil
// when the session is unknown or the backend is unavailable.
func (c *Client) SessionMemory(ctx context.Context, sessionID string) *memory.SessionMemory {
	if sessionID == "" {
		return nil
	}
	var result *memory.SessionMemory
	ok := c.call(ctx, "session_memory", func() error {
		mem, err := c.provider.SessionMemory(ctx, sessionID)
		if errors.Is(err, memory.ErrNotFound) {
			// An unknown session is an empty memory, not a degradation.
			return nil
		}
		result = mem
		return err
	})
	if !ok {
		return nil
	}
	return result
}

// SearchGraph returns the user's graph facts matching query, or an empty
// slice on failure. An empty userID short-circuits without touching the
// provider.
func (c *Client) SearchGraph(ctx context.Context, userID, query string, limit int) []memory.GraphFact {
	if userID == "" {
		return []memory.GraphFact{}
	}
	var result []memory.GraphFact
	ok := c.call(ctx, "search_graph", func() error {
		var err error
		result, err = c.provider.SearchGraph(ctx, userID, query, limit)
		return err
	})
	if !ok || result == nil {
		return []memory.GraphFact{}
	}
	return result
}

// AddGraphData stores an explicitly stated fact in the user's graph.
func (c *Client) AddGraphData(ctx context.Context, userID, data string) bool {
	if userID == "" || data == "" {
		return false
	}
	return c.call(ctx, "add_graph_data", func() error {
		return c.provider.AddGraphData(ctx, userID, data)
	})
}
