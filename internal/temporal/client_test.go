package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/mnemoxa/internal/resilience"
	"github.com/MrWong99/mnemoxa/pkg/memory"
	memorymock "github.com/MrWong99/mnemoxa/pkg/memory/mock"
)

func TestEnsureUser_Success(t *testing.T) {
	provider := &memorymock.Temporal{}
	c := NewClient(provider)

	if !c.EnsureUser(context.Background(), memory.UserProfile{ID: "u1", Email: "u1@example.com"}) {
		t.Fatal("expected success")
	}
	if len(provider.CreatedUsers) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(provider.CreatedUsers))
	}
}

func TestEnsureUser_AlreadyExistsIsSuccess(t *testing.T) {
	provider := &memorymock.Temporal{CreateUserErr: memory.ErrAlreadyExists}
	c := NewClient(provider)

	if !c.EnsureUser(context.Background(), memory.UserProfile{ID: "u1"}) {
		t.Fatal("already-exists should count as success")
	}
}

func TestEnsureUser_EmptyIDShortCircuits(t *testing.T) {
	provider := &memorymock.Temporal{}
	c := NewClient(provider)

	if c.EnsureUser(context.Background(), memory.UserProfile{}) {
		t.Fatal("expected failure for empty user id")
	}
	if len(provider.CreatedUsers) != 0 {
		t.Fatal("provider should not be called for empty user id")
	}
}

func TestEnsureUser_ProviderFailure(t *testing.T) {
	provider := &memorymock.Temporal{CreateUserErr: errors.New("backend down")}
	c := NewClient(provider)

	if c.EnsureUser(context.Background(), memory.UserProfile{ID: "u1"}) {
		t.Fatal("expected failure")
	}
}

func TestSessionMemory_DegradesToNil(t *testing.T) {
	provider := &memorymock.Temporal{SessionMemoryErr: errors.New("backend down")}
	c := NewClient(provider)

	if got := c.SessionMemory(context.Background(), "s1"); got != nil {
		t.Fatalf("expected nil on failure, got %+v", got)
	}
}

func TestSessionMemory_NotFoundIsEmptyNotDegradation(t *testing.T) {
	provider := &memorymock.Temporal{}
	c := NewClient(provider)

	if got := c.SessionMemory(context.Background(), "unknown"); got != nil {
		t.Fatalf("expected nil for unknown session, got %+v", got)
	}
}

func TestSessionMemory_ReturnsResult(t *testing.T) {
	provider := &memorymock.Temporal{
		SessionMemoryResult: &memory.SessionMemory{
			Context: "User discussed: trip to Japan",
			Messages: []memory.ConversationTurn{
				{Role: memory.RoleUser, Content: "I want to visit Japan", Timestamp: time.Now()},
			},
		},
	}
	c := NewClient(provider)

	got := c.SessionMemory(context.Background(), "s1")
	if got == nil {
		t.Fatal("expected result")
	}
	if got.Context != "User discussed: trip to Japan" {
		t.Fatalf("unexpected context %q", got.Context)
	}
}

func TestSearchGraph_EmptyUserShortCircuits(t *testing.T) {
	provider := &memorymock.Temporal{
		SearchGraphResult: []memory.GraphFact{{Fact: "should not appear"}},
	}
	c := NewClient(provider)

	got := c.SearchGraph(context.Background(), "", "anything", 5)
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d facts", len(got))
	}
	if len(provider.SearchCalls) != 0 {
		t.Fatal("provider should not be called for empty user id")
	}
}

func TestSearchGraph_DegradesToEmpty(t *testing.T) {
	provider := &memorymock.Temporal{SearchGraphErr: errors.New("backend down")}
	c := NewClient(provider)

	got := c.SearchGraph(context.Background(), "u1", "japan", 5)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", got)
	}
}

func TestSearchGraph_ReturnsFacts(t *testing.T) {
	provider := &memorymock.Temporal{
		SearchGraphResult: []memory.GraphFact{
			{Fact: "User likes sushi", Confidence: 0.9},
		},
	}
	c := NewClient(provider)

	got := c.SearchGraph(context.Background(), "u1", "sushi", 5)
	if len(got) != 1 || got[0].Fact != "User likes sushi" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestAppendMessages_EmptyInputsShortCircuit(t *testing.T) {
	provider := &memorymock.Temporal{}
	c := NewClient(provider)

	if c.AppendMessages(context.Background(), "", []memory.ConversationTurn{{Role: memory.RoleUser, Content: "hi"}}) {
		t.Fatal("expected failure for empty session id")
	}
	if c.AppendMessages(context.Background(), "s1", nil) {
		t.Fatal("expected failure for empty turns")
	}
	if len(provider.AppendCalls) != 0 {
		t.Fatal("provider should not be called")
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	provider := &memorymock.Temporal{SearchGraphErr: errors.New("backend down")}
	c := NewClient(provider, WithBreakerConfig(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	}))

	for i := 0; i < 5; i++ {
		c.SearchGraph(context.Background(), "u1", "q", 5)
	}

	// After 2 failures the breaker is open: later calls never reach the provider.
	if len(provider.SearchCalls) != 2 {
		t.Fatalf("expected 2 provider calls before the breaker opened, got %d", len(provider.SearchCalls))
	}
}
