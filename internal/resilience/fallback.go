package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup]. The Name field of the embedded breaker config
// is overwritten with the provider's registration name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order. A typical use is a
// hosted completion backend with a local model as the fallback of last resort.
//
// Entries must be registered before the first Execute call; after that the
// group is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.entries = append(fg.entries, fg.newEntry(primaryName, primary))
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order
// they are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fg.newEntry(name, fallback))
}

func (fg *FallbackGroup[T]) newEntry(name string, value T) fallbackEntry[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	return fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	}
}

// Names returns the provider names in try order, primary first.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States reports the current breaker state per provider name.
func (fg *FallbackGroup[T]) States() map[string]State {
	states := make(map[string]State, len(fg.entries))
	for i := range fg.entries {
		states[fg.entries[i].name] = fg.entries[i].breaker.State()
	}
	return states
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped with
// the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds, returning the first successful result. This is a package-level
// function because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logEntryFailure(entry.name, err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func logEntryFailure(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping provider (circuit open)", "provider", name)
		return
	}
	slog.Warn("provider failed, trying next", "provider", name, "error", err)
}
