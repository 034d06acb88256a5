// Package factual wraps a [memory.FactualProvider] with the service's
// failure policy: every provider call is guarded by a circuit breaker, and
// failures degrade to empty results instead of propagating. The chat path
// keeps working when the factual store is down; it just answers with less
// context.
//
// All degradations are logged at warn level and counted in the metrics.
package factual

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
const providerLabel = "factual"

// Counting pages through the provider; these bounds keep a runaway store
// from pinning a request forever.
const (
	countPageSize = 100
	countMaxPages = 50
)

// Client is the degrade-to-empty facade over a factual memory provider.
// All methods are safe for concurrent use.
type Client struct {
	provider memory.FactualProvider
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
func NewClient(provider memory.FactualProvider, opts ...Option) *Client {
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
		slog.Warn("factual memory degraded to empty",
			"op", op, "error", err)
		return false
	}
	c.metrics.RecordMemoryRequest(ctx, providerLabel, op, "ok")
	return true
}

// AppendMessages stores the turns as factual memories for userID. An empty
// userID short-circuits without touching the provider.
func (c *Client) AppendMessages(ctx context.Context, userID string, turns []memory.ConversationTurn, metadata map[string]string) bool {
	if userID == "" || len(turns) == 0 {
		return false
	}
	return c.call(ctx, "append_messages", func() error {
		return c.provider.AppendMessages(ctx, userID, turns, metadata)
	})
}

// AddFact stores a single explicit fact for userID.
func (c *Client) AddFact(ctx context.Context, userID, content string, metadata map[string]string) bool {
	if userID == "" || content == "" {
		return false
	}
	return c.call(ctx, "add_fact", func() error {
		return c.provider.AddFact(ctx, userID, content, metadata)
	})
}

// Search returns the user's memories most similar to query, or an empty
// slice on failure or empty userID.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) []memory.Fact {
	if userID == "" {
		return []memory.Fact{}
	}
	var result []memory.Fact
	ok := c.call(ctx, "search", func() error {
		var err error
		result, err = c.provider.Search(ctx, userID, query, limit)
		return err
	})
	if !ok || result == nil {
		return []memory.Fact{}
	}
	return result
}

// ListAll returns one page of the user's memories (1-based pages), or an
// empty slice on failure.
func (c *Client) ListAll(ctx context.Context, userID string, page, pageSize int) []memory.Fact {
	if userID == "" {
		return []memory.Fact{}
	}
	var result []memory.Fact
	ok := c.call(ctx, "list_all", func() error {
		var err error
		result, err = c.provider.ListAll(ctx, userID, page, pageSize)
		return err
	})
	if !ok || result == nil {
		return []memory.Fact{}
	}
	return result
}

// Count returns the total number of memories stored for userID by paging
// through ListAll. It stops early on failure, returning the count seen so
// far, and is capped to protect against unbounded stores.
func (c *Client) Count(ctx context.Context, userID string) int {
	if userID == "" {
		return 0
	}
	total := 0
	for page := 1; page <= countMaxPages; page++ {
		batch := c.ListAll(ctx, userID, page, countPageSize)
		total += len(batch)
		if len(batch) < countPageSize {
			break
		}
	}
	return total
}

// GetByID returns the memory with the given id, or nil when it does not
// exist or the backend is unavailable.
func (c *Client) GetByID(ctx context.Context, memoryID string) *memory.Fact {
	if memoryID == "" {
		return nil
	}
	var result *memory.Fact
	ok := c.call(ctx, "get_by_id", func() error {
		fact, err := c.provider.GetByID(ctx, memoryID)
		if errors.Is(err, memory.ErrNotFound) {
			return nil
		}
		result = fact
		return err
	})
	if !ok {
		return nil
	}
	return result
}

// History returns the audit trail for a memory id, or an empty slice on
// failure.
func (c *Client) History(ctx context.Context, memoryID string) []memory.ChangeRecord {
	if memoryID == "" {
		return []memory.ChangeRecord{}
	}
	var result []memory.ChangeRecord
	ok := c.call(ctx, "history", func() error {
		var err error
		result, err = c.provider.History(ctx, memoryID)
		return err
	})
	if !ok || result == nil {
		return []memory.ChangeRecord{}
	}
	return result
}
