package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mnemoxa/internal/factual"
	"github.com/MrWong99/mnemoxa/internal/hybrid"
	"github.com/MrWong99/mnemoxa/internal/shortterm"
	"github.com/MrWong99/mnemoxa/internal/temporal"
	"github.com/MrWong99/mnemoxa/pkg/memory"
	memmock "github.com/MrWong99/mnemoxa/pkg/memory/mock"
	"github.com/MrWong99/mnemoxa/pkg/provider/llm"
	llmmock "github.com/MrWong99/mnemoxa/pkg/provider/llm/mock"
)

// newTestAgent wires an agent over fresh mocks, waiting for memory commits
// so tests can assert on writes synchronously.
func newTestAgent(t *testing.T, cfg Config) (Agent, *memmock.Temporal, *memmock.Factual, *llmmock.Provider) {
	t.Helper()
	tm := &memmock.Temporal{}
	fm := &memmock.Factual{}
	lp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Sounds great!"},
	}
	cfg.Memory = hybrid.New(temporal.NewClient(tm), factual.NewClient(fm))
	cfg.LLM = lp
	cfg.WaitForMemory = true
	a, err := NewConversationAgent(cfg)
	if err != nil {
		t.Fatalf("NewConversationAgent: %v", err)
	}
	return a, tm, fm, lp
}

func TestNewConversationAgentValidation(t *testing.T) {
	if _, err := NewConversationAgent(Config{LLM: &llmmock.Provider{}}); err == nil {
		t.Error("expected error for nil Memory")
	}
	tm := &memmock.Temporal{}
	fm := &memmock.Factual{}
	orch := hybrid.New(temporal.NewClient(tm), factual.NewClient(fm))
	if _, err := NewConversationAgent(Config{Memory: orch}); err == nil {
		t.Error("expected error for nil LLM")
	}
}

func TestProcessMessageRequestValidation(t *testing.T) {
	a, _, _, _ := newTestAgent(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing user", Request{SessionID: "s", Message: "hi"}},
		{"missing session", Request{UserID: "u", Message: "hi"}},
		{"missing message", Request{UserID: "u", SessionID: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ProcessMessage(ctx, tt.req)
			if !memory.IsValidation(err) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestProcessMessageHappyPath(t *testing.T) {
	a, tm, fm, lp := newTestAgent(t, Config{})
	ctx := context.Background()

	resp, err := a.ProcessMessage(ctx, Request{
		UserID:    "user-1",
		SessionID: "sess-1",
		Message:   "I love pizza and I live in Austin.",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if resp.Reply != "Sounds great!" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.Fallback {
		t.Error("fallback set on successful turn")
	}

	// User and session registered.
	if len(tm.CreatedUsers) != 1 || tm.CreatedUsers[0].ID != "user-1" {
		t.Errorf("created users = %+v", tm.CreatedUsers)
	}
	if tm.CreatedSessions["sess-1"] != "user-1" {
		t.Errorf("created sessions = %+v", tm.CreatedSessions)
	}

	// Dual transcript write with both turns.
	if len(tm.AppendCalls) != 1 || len(tm.AppendCalls[0].Turns) != 2 {
		t.Fatalf("temporal appends = %+v", tm.AppendCalls)
	}
	if len(fm.AppendCalls) != 1 || len(fm.AppendCalls[0].Turns) != 2 {
		t.Fatalf("factual appends = %+v", fm.AppendCalls)
	}
	if tm.AppendCalls[0].Turns[1].Content != "Sounds great!" {
		t.Errorf("assistant turn = %q", tm.AppendCalls[0].Turns[1].Content)
	}

	// Extraction produced a preference fact and a generic fact, both routed
	// to the factual store.
	if len(fm.AddedFacts["user-1"]) != 2 {
		t.Errorf("extracted facts = %+v", fm.AddedFacts["user-1"])
	}
	if len(lp.CompleteCalls) != 1 {
		t.Fatalf("complete calls = %d, want 1", len(lp.CompleteCalls))
	}
}

func TestChatTurnIsSearchableByAuthorOnly(t *testing.T) {
	// Full path over write-through mocks: a chat turn lands in both memory
	// systems and is found by hybrid search for the author, while another
	// user searching the same term gets nothing.
	tm := &memmock.Temporal{Recording: true}
	fm := &memmock.Factual{Recording: true}
	lp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Nice, Seattle is lovely."},
	}
	orch := hybrid.New(temporal.NewClient(tm), factual.NewClient(fm))
	a, err := NewConversationAgent(Config{
		Memory:        orch,
		LLM:           lp,
		WaitForMemory: true,
	})
	if err != nil {
		t.Fatalf("NewConversationAgent: %v", err)
	}
	ctx := context.Background()

	if _, err := a.ProcessMessage(ctx, Request{
		UserID:    "user-1",
		SessionID: "sess-1",
		Message:   "I moved to Seattle last month",
	}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	results := orch.SearchMode(ctx, "user-1", "Seattle", hybrid.ModeHybrid)
	if len(results) == 0 {
		t.Fatal("author's search found nothing")
	}
	sources := map[string]bool{}
	for _, r := range results {
		if !strings.Contains(strings.ToLower(r.Content), "seattle") {
			t.Errorf("result %q does not match the query", r.Content)
		}
		sources[r.Source] = true
	}
	if !sources[memory.SourceTemporal] || !sources[memory.SourceFactual] {
		t.Errorf("sources = %v, want hits from both memory systems", sources)
	}

	if foreign := orch.SearchMode(ctx, "user-2", "Seattle", hybrid.ModeHybrid); len(foreign) != 0 {
		t.Errorf("user-2 sees %d of user-1's memories: %+v", len(foreign), foreign)
	}
}

func TestProcessMessageRegistersOncePerSession(t *testing.T) {
	a, tm, _, _ := newTestAgent(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := a.ProcessMessage(ctx, Request{
			UserID: "user-1", SessionID: "sess-1", Message: "hello there friend",
		}); err != nil {
			t.Fatalf("ProcessMessage: %v", err)
		}
	}
	if len(tm.CreatedUsers) != 1 {
		t.Errorf("CreateUser called %d times, want 1", len(tm.CreatedUsers))
	}
}

func TestProcessMessageMemoryContextInPrompt(t *testing.T) {
	a, tm, fm, lp := newTestAgent(t, Config{SystemPrompt: "Be terse."})
	tm.SessionMemoryResult = &memory.SessionMemory{
		Context: "User discussed: moving plans",
		Messages: []memory.ConversationTurn{
			{Role: memory.RoleUser, Content: "earlier question"},
			{Role: memory.RoleAssistant, Content: "earlier answer"},
		},
	}
	fm.SearchResult = []memory.Fact{{Content: "User lives in Austin", Score: 0.9}}

	resp, err := a.ProcessMessage(context.Background(), Request{
		UserID: "user-1", SessionID: "sess-1", Message: "where should I move?",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !strings.Contains(resp.MemoryContext, "Recent Context: User discussed: moving plans") {
		t.Errorf("memory context = %q", resp.MemoryContext)
	}

	req := lp.CompleteCalls[0].Req
	if !strings.HasPrefix(req.SystemPrompt, "Be terse.") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if !strings.Contains(req.SystemPrompt, "- User lives in Austin") {
		t.Errorf("system prompt missing facts: %q", req.SystemPrompt)
	}
	// History replayed, then the new message last.
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(req.Messages))
	}
	if req.Messages[2].Content != "where should I move?" {
		t.Errorf("last message = %q", req.Messages[2].Content)
	}
}

func TestProcessMessageHistoryLimit(t *testing.T) {
	a, tm, _, lp := newTestAgent(t, Config{HistoryLimit: 2})
	var turns []memory.ConversationTurn
	for i := 0; i < 6; i++ {
		turns = append(turns, memory.ConversationTurn{Role: memory.RoleUser, Content: "old"})
	}
	tm.SessionMemoryResult = &memory.SessionMemory{Messages: turns}

	if _, err := a.ProcessMessage(context.Background(), Request{
		UserID: "user-1", SessionID: "sess-1", Message: "newest message",
	}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	req := lp.CompleteCalls[0].Req
	if len(req.Messages) != 3 { // 2 history + 1 new
		t.Errorf("messages = %d, want 3", len(req.Messages))
	}
}

func TestProcessMessageLLMFailure(t *testing.T) {
	a, tm, _, lp := newTestAgent(t, Config{})
	lp.CompleteResponse = nil
	lp.CompleteErr = errors.New("provider down")

	resp, err := a.ProcessMessage(context.Background(), Request{
		UserID: "user-1", SessionID: "sess-1", Message: "hello there friend",
	})
	if err != nil {
		t.Fatalf("ProcessMessage must not fail on LLM errors: %v", err)
	}
	if resp.Reply != ApologyReply {
		t.Errorf("reply = %q, want apology", resp.Reply)
	}
	if !resp.Fallback {
		t.Error("fallback flag not set")
	}

	// The user turn is still committed, without the apology.
	if len(tm.AppendCalls) != 1 {
		t.Fatalf("temporal appends = %+v", tm.AppendCalls)
	}
	if len(tm.AppendCalls[0].Turns) != 1 {
		t.Errorf("stored %d turns, want only the user turn", len(tm.AppendCalls[0].Turns))
	}
}

func TestProcessMessageMemoryDegradationIsInvisible(t *testing.T) {
	a, tm, fm, _ := newTestAgent(t, Config{})
	tm.SessionMemoryErr = errors.New("temporal down")
	tm.AppendErr = errors.New("temporal down")
	fm.SearchErr = errors.New("factual down")
	fm.AppendErr = errors.New("factual down")

	resp, err := a.ProcessMessage(context.Background(), Request{
		UserID: "user-1", SessionID: "sess-1", Message: "hello there friend",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if resp.Reply != "Sounds great!" {
		t.Errorf("reply = %q; memory outages must not affect the reply", resp.Reply)
	}
	if resp.MemoryContext != "" {
		t.Errorf("memory context = %q, want empty", resp.MemoryContext)
	}
}

func TestProcessMessageAsyncCommit(t *testing.T) {
	scratch, err := shortterm.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer scratch.Close()

	tm := &memmock.Temporal{}
	fm := &memmock.Factual{}
	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	a, err := NewConversationAgent(Config{
		Memory:    hybrid.New(temporal.NewClient(tm), factual.NewClient(fm)),
		LLM:       lp,
		ShortTerm: scratch,
	})
	if err != nil {
		t.Fatalf("NewConversationAgent: %v", err)
	}

	if _, err := a.ProcessMessage(context.Background(), Request{
		UserID: "user-1", SessionID: "sess-1", Message: "remember this note",
	}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	// The commit runs in the background; the scratch store is the
	// race-safe probe for its completion.
	deadline := time.After(2 * time.Second)
	for scratch.Count(context.Background(), "user-1") == 0 {
		select {
		case <-deadline:
			t.Fatal("background memory commit never happened")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTuneAppliesToNextTurn(t *testing.T) {
	a, _, _, lp := newTestAgent(t, Config{Temperature: 0.7, MaxTokens: 256})
	ctx := context.Background()

	a.(Tunable).Tune(Tuning{
		SystemPrompt: "You are terse.",
		Temperature:  0.2,
		MaxTokens:    64,
	})

	if _, err := a.ProcessMessage(ctx, Request{
		UserID: "user-1", SessionID: "sess-1", Message: "hi",
	}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if len(lp.CompleteCalls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(lp.CompleteCalls))
	}
	req := lp.CompleteCalls[0].Req
	if req.Temperature != 0.2 || req.MaxTokens != 64 {
		t.Errorf("request tuning = (%v, %d), want (0.2, 64)", req.Temperature, req.MaxTokens)
	}
	if !strings.HasPrefix(req.SystemPrompt, "You are terse.") {
		t.Errorf("system prompt = %q, want the retuned persona", req.SystemPrompt)
	}
}
