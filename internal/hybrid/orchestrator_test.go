package hybrid

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/mnemoxa/internal/factual"
	"github.com/MrWong99/mnemoxa/internal/temporal"
	"github.com/MrWong99/mnemoxa/pkg/memory"
	"github.com/MrWong99/mnemoxa/pkg/memory/mock"
)

// newOrchestrator wires an orchestrator over fresh mocks and hands the mocks
// back for inspection.
func newOrchestrator(opts ...Option) (*Orchestrator, *mock.Temporal, *mock.Factual) {
	tm := &mock.Temporal{}
	fm := &mock.Factual{}
	o := New(temporal.NewClient(tm), factual.NewClient(fm), opts...)
	return o, tm, fm
}

// fakeAgentSource is a canned AgentSource for merge tests.
type fakeAgentSource struct {
	results []memory.SearchResult
	count   int
}

func (f *fakeAgentSource) Search(_ context.Context, _, _ string, limit int) []memory.SearchResult {
	if len(f.results) > limit {
		return f.results[:limit]
	}
	return f.results
}

func (f *fakeAgentSource) Recent(_ context.Context, _ string, limit int) []memory.SearchResult {
	if len(f.results) > limit {
		return f.results[:limit]
	}
	return f.results
}

func (f *fakeAgentSource) Count(_ context.Context, _ string) int {
	return f.count
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

func TestAddConversationWritesBothStores(t *testing.T) {
	o, tm, fm := newOrchestrator()

	turns := []memory.ConversationTurn{
		{Role: memory.RoleUser, Content: "I love sailing"},
		{Role: memory.RoleAssistant, Content: "Sailing sounds wonderful!"},
	}
	o.AddConversation(context.Background(), "user-1", "sess-1", turns)

	if len(tm.AppendCalls) != 1 {
		t.Fatalf("temporal append calls = %d, want 1", len(tm.AppendCalls))
	}
	if tm.AppendCalls[0].Scope != "sess-1" {
		t.Errorf("temporal write keyed by %q, want session id", tm.AppendCalls[0].Scope)
	}
	if len(fm.AppendCalls) != 1 {
		t.Fatalf("factual append calls = %d, want 1", len(fm.AppendCalls))
	}
	if fm.AppendCalls[0].Scope != "user-1" {
		t.Errorf("factual write keyed by %q, want user id", fm.AppendCalls[0].Scope)
	}
	if len(fm.AppendCalls[0].Turns) != 2 {
		t.Errorf("factual received %d turns, want 2", len(fm.AppendCalls[0].Turns))
	}
}

func TestAddConversationSurvivesOneStoreDown(t *testing.T) {
	o, tm, fm := newOrchestrator()
	tm.AppendErr = errors.New("graph backend down")

	o.AddConversation(context.Background(), "user-1", "sess-1", []memory.ConversationTurn{
		{Role: memory.RoleUser, Content: "hello"},
	})

	// The factual write still happens even though the temporal one failed.
	if len(fm.AppendCalls) != 1 {
		t.Fatalf("factual append calls = %d, want 1", len(fm.AppendCalls))
	}
}

func TestAddConversationNoTurns(t *testing.T) {
	o, tm, fm := newOrchestrator()
	o.AddConversation(context.Background(), "user-1", "sess-1", nil)
	if len(tm.AppendCalls) != 0 || len(fm.AppendCalls) != 0 {
		t.Error("empty turn slice should not reach either store")
	}
}

func TestAddMemoryRouting(t *testing.T) {
	tests := []struct {
		category string
		want     string
	}{
		{memory.CategoryTemporal, "temporal"},
		{memory.CategoryRelationship, "temporal"},
		{memory.CategorySession, "temporal"},
		{memory.CategoryPreference, "factual"},
		{memory.CategoryFact, "factual"},
		{memory.CategoryCustom, "factual"},
		{"", "factual"},
	}
	for _, tt := range tests {
		t.Run("category_"+tt.category, func(t *testing.T) {
			o, tm, fm := newOrchestrator()
			target, ok := o.AddMemory(context.Background(), "user-1", "some fact", tt.category)
			if !ok {
				t.Fatal("AddMemory reported failure")
			}
			if target != tt.want {
				t.Fatalf("routed to %q, want %q", target, tt.want)
			}
			switch tt.want {
			case "temporal":
				if len(tm.GraphData["user-1"]) != 1 {
					t.Error("expected one graph write")
				}
				if len(fm.AddedFacts["user-1"]) != 0 {
					t.Error("temporal category must not reach the factual store")
				}
			case "factual":
				if len(fm.AddedFacts["user-1"]) != 1 {
					t.Error("expected one factual write")
				}
				if len(tm.GraphData["user-1"]) != 0 {
					t.Error("factual category must not reach the graph")
				}
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Context assembly
// ─────────────────────────────────────────────────────────────────────────────

func TestContextWithQuerySearchesFactual(t *testing.T) {
	o, tm, fm := newOrchestrator()
	tm.SessionMemoryResult = &memory.SessionMemory{
		Context: "User discussed: weekend trips",
		Messages: []memory.ConversationTurn{
			{Role: memory.RoleUser, Content: "any trip ideas?"},
		},
	}
	fm.SearchResult = []memory.Fact{{Content: "User prefers trains over planes", Score: 0.91}}

	got := o.Context(context.Background(), "user-1", "sess-1", "travel")

	if len(fm.SearchCalls) != 1 || fm.SearchCalls[0] != "travel" {
		t.Errorf("factual search calls = %v, want [travel]", fm.SearchCalls)
	}
	if fm.ListAllCalls != 0 {
		t.Error("with a query, ListAll must not be called")
	}
	if got.TemporalContext != "User discussed: weekend trips" {
		t.Errorf("temporal context = %q", got.TemporalContext)
	}
	if len(got.TemporalMessages) != 1 {
		t.Errorf("temporal messages = %d, want 1", len(got.TemporalMessages))
	}
	if !strings.Contains(got.Combined, "Recent Context: User discussed: weekend trips") {
		t.Errorf("combined missing temporal section: %q", got.Combined)
	}
	if !strings.Contains(got.Combined, "- User prefers trains over planes") {
		t.Errorf("combined missing fact: %q", got.Combined)
	}
}

func TestContextWithoutQueryListsFactual(t *testing.T) {
	o, _, fm := newOrchestrator()
	fm.ListAllResult = []memory.Fact{{Content: "User works as a chemist"}}

	got := o.Context(context.Background(), "user-1", "sess-1", "")

	if fm.ListAllCalls != 1 {
		t.Errorf("ListAll calls = %d, want 1", fm.ListAllCalls)
	}
	if len(fm.SearchCalls) != 0 {
		t.Error("without a query, Search must not be called")
	}
	if len(got.FactualFacts) != 1 {
		t.Fatalf("factual facts = %d, want 1", len(got.FactualFacts))
	}
}

func TestContextBothStoresDown(t *testing.T) {
	o, tm, fm := newOrchestrator()
	tm.SessionMemoryErr = errors.New("temporal down")
	fm.SearchErr = errors.New("factual down")

	got := o.Context(context.Background(), "user-1", "sess-1", "anything")

	if got.Combined != "" {
		t.Errorf("combined = %q, want empty", got.Combined)
	}
	if got.TemporalContext != "" || len(got.FactualFacts) != 0 {
		t.Error("degraded context should be empty on both sides")
	}
}

func TestContextUnknownSessionIsNotAFailure(t *testing.T) {
	o, _, _ := newOrchestrator()
	// The mock returns not-found for unknown sessions; that is an empty
	// context, not a degradation.
	got := o.Context(context.Background(), "user-1", "never-seen", "")
	if got.Combined != "" {
		t.Errorf("combined = %q, want empty", got.Combined)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Hybrid search
// ─────────────────────────────────────────────────────────────────────────────

func TestSearchMergeOrdering(t *testing.T) {
	o, tm, fm := newOrchestrator()
	tm.SearchGraphResult = []memory.GraphFact{
		{Fact: "temporal high", Confidence: 0.7},
		{Fact: "temporal low", Confidence: 0.3},
	}
	fm.SearchResult = []memory.Fact{
		{Content: "factual top", Score: 0.9},
		{Content: "factual tie", Score: 0.7},
	}

	got := o.Search(context.Background(), "user-1", "anything")

	want := []struct {
		source  string
		content string
	}{
		{memory.SourceFactual, "factual top"},
		{memory.SourceTemporal, "temporal high"}, // wins the 0.7 tie
		{memory.SourceFactual, "factual tie"},
		{memory.SourceTemporal, "temporal low"},
	}
	if len(got) != len(want) {
		t.Fatalf("merged %d results, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Source != w.source || got[i].Content != w.content {
			t.Errorf("result[%d] = %s %q, want %s %q",
				i, got[i].Source, got[i].Content, w.source, w.content)
		}
	}
}

func TestSearchTruncatesMergedResults(t *testing.T) {
	o, tm, fm := newOrchestrator()
	for i := 0; i < 8; i++ {
		tm.SearchGraphResult = append(tm.SearchGraphResult, memory.GraphFact{Fact: "t", Confidence: 0.5})
		fm.SearchResult = append(fm.SearchResult, memory.Fact{Content: "f", Score: 0.5})
	}

	got := o.Search(context.Background(), "user-1", "q")
	if len(got) != mergedResultLimit {
		t.Errorf("merged %d results, want %d", len(got), mergedResultLimit)
	}
}

func TestSearchIncludesAgentSource(t *testing.T) {
	agent := &fakeAgentSource{
		results: []memory.SearchResult{
			{Source: memory.SourceAgent, Content: "remembered aside", Score: 0.8},
		},
	}
	o, _, fm := newOrchestrator(WithAgentSource(agent))
	fm.SearchResult = []memory.Fact{{Content: "long-term fact", Score: 0.9}}

	got := o.Search(context.Background(), "user-1", "q")

	if len(got) != 2 {
		t.Fatalf("merged %d results, want 2", len(got))
	}
	if got[0].Content != "long-term fact" || got[1].Source != memory.SourceAgent {
		t.Errorf("unexpected merge: %+v", got)
	}
}

func TestSearchModeRestrictsSources(t *testing.T) {
	agent := &fakeAgentSource{
		results: []memory.SearchResult{{Source: memory.SourceAgent, Content: "aside", Score: 0.8}},
	}
	newFixtures := func() (*Orchestrator, *mock.Temporal, *mock.Factual) {
		o, tm, fm := newOrchestrator(WithAgentSource(agent))
		tm.SearchGraphResult = []memory.GraphFact{{Fact: "graph hit", Confidence: 0.7}}
		fm.SearchResult = []memory.Fact{{Content: "vector hit", Score: 0.9}}
		return o, tm, fm
	}

	o, _, fm := newFixtures()
	got := o.SearchMode(context.Background(), "user-1", "q", ModeTemporal)
	if len(got) != 1 || got[0].Source != memory.SourceTemporal {
		t.Errorf("temporal mode results = %+v", got)
	}
	if len(fm.SearchCalls) != 0 {
		t.Error("temporal mode must not query the factual store")
	}

	o, tm, _ := newFixtures()
	got = o.SearchMode(context.Background(), "user-1", "q", ModeFactual)
	if len(got) != 1 || got[0].Source != memory.SourceFactual {
		t.Errorf("factual mode results = %+v", got)
	}
	if len(tm.SearchCalls) != 0 {
		t.Error("factual mode must not query the graph")
	}

	o, _, _ = newFixtures()
	if got = o.SearchMode(context.Background(), "user-1", "q", ModeHybrid); len(got) != 3 {
		t.Errorf("hybrid mode returned %d results, want 3", len(got))
	}
}

func TestSearchOneSourceDown(t *testing.T) {
	o, tm, fm := newOrchestrator()
	tm.SearchGraphErr = errors.New("graph down")
	fm.SearchResult = []memory.Fact{{Content: "still here", Score: 0.6}}

	got := o.Search(context.Background(), "user-1", "q")
	if len(got) != 1 || got[0].Content != "still here" {
		t.Errorf("expected the surviving source's result, got %+v", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Summary
// ─────────────────────────────────────────────────────────────────────────────

func TestSummaryAggregatesAllStores(t *testing.T) {
	agent := &fakeAgentSource{
		count:   4,
		results: []memory.SearchResult{{Content: "short-term note", Score: 0.8}},
	}
	o, tm, fm := newOrchestrator(WithAgentSource(agent))
	tm.SearchGraphResult = []memory.GraphFact{
		{Fact: "User lives in Berlin", Confidence: 0.9},
		{Fact: "User has a dog", Confidence: 0.5},
	}
	fm.ListAllResult = []memory.Fact{
		{Content: "User likes espresso"},
		{Content: "User studied chemistry"},
	}

	got := o.Summary(context.Background(), "user-1")

	if got.UserID != "user-1" {
		t.Errorf("user id = %q", got.UserID)
	}
	if got.TemporalFactCount != 2 {
		t.Errorf("temporal count = %d, want 2", got.TemporalFactCount)
	}
	if got.FactualMemoryCount != 2 {
		t.Errorf("factual count = %d, want 2", got.FactualMemoryCount)
	}
	if got.AgentMemoryCount != 4 {
		t.Errorf("agent count = %d, want 4", got.AgentMemoryCount)
	}
	if len(got.KeyFacts) != 5 {
		t.Fatalf("key facts = %d, want 5: %v", len(got.KeyFacts), got.KeyFacts)
	}
	if got.KeyFacts[0] != "User lives in Berlin" || got.KeyFacts[4] != "short-term note" {
		t.Errorf("unexpected key fact ordering: %v", got.KeyFacts)
	}
}

func TestSummaryCountsDegradeIndependently(t *testing.T) {
	o, tm, fm := newOrchestrator()
	tm.SearchGraphErr = errors.New("graph down")
	fm.ListAllResult = []memory.Fact{{Content: "User likes espresso"}}

	got := o.Summary(context.Background(), "user-1")

	if got.TemporalFactCount != 0 {
		t.Errorf("temporal count = %d, want 0 when degraded", got.TemporalFactCount)
	}
	if got.FactualMemoryCount != 1 {
		t.Errorf("factual count = %d, want 1", got.FactualMemoryCount)
	}
	if got.AgentMemoryCount != 0 {
		t.Errorf("agent count = %d, want 0 without an agent source", got.AgentMemoryCount)
	}
}
