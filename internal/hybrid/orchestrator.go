// Package hybrid fuses the two memory systems behind one orchestrator: the
// temporal store (session transcripts, rolling summaries, per-user fact
// graph) and the factual store (semantic long-term memories).
//
// The orchestrator is the single entry point the conversation agent and the
// HTTP API use for memory. It decides which store serves which request,
// writes every conversation turn to both stores, assembles the combined LLM
// context, and merges search results from all sources into one ranked list.
//
// Both underlying clients degrade to empty on failure, so orchestrator
// operations never fail outright; the worst case is an answer with less
// context.
package hybrid

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mnemoxa/internal/factual"
	"github.com/MrWong99/mnemoxa/internal/temporal"
	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// Tuning constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	// mergedResultLimit caps the merged hybrid search result list.
	mergedResultLimit = 10

	// storeSearchLimit is how many results each store contributes to a
	// hybrid search before merging.
	storeSearchLimit = 10

	// agentResultLimit caps the contribution of the agent's short-term
	// store to a hybrid search.
	agentResultLimit = 5

	// contextSearchLimit is the number of factual memories retrieved for
	// the LLM context when the turn has a query to search with.
	contextSearchLimit = 3

	// contextListPageSize is the number of factual memories listed for the
	// LLM context when there is no query.
	contextListPageSize = 5

	// summaryScanLimit bounds the graph scan used for the summary count.
	summaryScanLimit = 100

	// summaryKeyFacts is the number of key facts each store contributes to
	// a memory summary.
	summaryKeyFacts = 3
)

// temporalCategories are the memory categories routed to the temporal fact
// graph. Everything else goes to the factual store.
var temporalCategories = map[string]bool{
	memory.CategoryTemporal:     true,
	memory.CategoryRelationship: true,
	memory.CategorySession:      true,
}

// AgentSource is an optional third search source: the conversation agent's
// own short-term memory store. Implementations must be safe for concurrent
// use and must degrade to empty results on failure.
type AgentSource interface {
	// Search returns short-term memories matching query, already scored.
	Search(ctx context.Context, userID, query string, limit int) []memory.SearchResult

	// Recent returns the most recently stored short-term memories.
	Recent(ctx context.Context, userID string, limit int) []memory.SearchResult

	// Count returns the number of short-term memories held for userID.
	Count(ctx context.Context, userID string) int
}

// Orchestrator coordinates the temporal and factual memory stores.
// All methods are safe for concurrent use.
type Orchestrator struct {
	temporal *temporal.Client
	factual  *factual.Client
	agent    AgentSource
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithAgentSource registers the agent's short-term store as a third search
// source. Without it, hybrid search merges only the two main stores.
func WithAgentSource(src AgentSource) Option {
	return func(o *Orchestrator) { o.agent = src }
}

// New creates an Orchestrator over the two memory clients.
func New(temporalClient *temporal.Client, factualClient *factual.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		temporal: temporalClient,
		factual:  factualClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ─────────────────────────────────────────────────────────────────────────────
// Users and sessions
// ─────────────────────────────────────────────────────────────────────────────

// EnsureUser registers the user with the temporal store. The factual store
// creates users implicitly on first write. An existing user counts as
// success.
func (o *Orchestrator) EnsureUser(ctx context.Context, user memory.UserProfile) bool {
	return o.temporal.EnsureUser(ctx, user)
}

// EnsureSession creates the session in the temporal store. Safe to call on
// every turn.
func (o *Orchestrator) EnsureSession(ctx context.Context, sessionID, userID string) bool {
	return o.temporal.EnsureSession(ctx, sessionID, userID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// AddConversation writes the turns to BOTH stores: the temporal store keyed
// by session (transcript, summary, derived graph facts) and the factual
// store keyed by user (semantic memories). The dual write is unconditional;
// each store degrades independently.
func (o *Orchestrator) AddConversation(ctx context.Context, userID, sessionID string, turns []memory.ConversationTurn) {
	if len(turns) == 0 {
		return
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		o.temporal.AppendMessages(egCtx, sessionID, turns)
		return nil
	})
	eg.Go(func() error {
		o.factual.AppendMessages(egCtx, userID, turns, map[string]string{
			"session_id": sessionID,
			"type":       memory.CategoryConversation,
		})
		return nil
	})

	// The degrading clients never return errors.
	_ = eg.Wait()
}

// AddMemory stores an explicit memory, routing it by category: temporal,
// relationship and session facts go to the temporal graph, everything else
// to the factual store. A memory is never written to both. The returned
// string names the store that received it.
func (o *Orchestrator) AddMemory(ctx context.Context, userID, content, category string) (string, bool) {
	if category == "" {
		category = memory.CategoryGeneral
	}
	if temporalCategories[category] {
		return "temporal", o.temporal.AddGraphData(ctx, userID, content)
	}
	return "factual", o.factual.AddFact(ctx, userID, content, map[string]string{
		"type": category,
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Context assembly
// ─────────────────────────────────────────────────────────────────────────────

// Context assembles the combined LLM context for one chat turn. The two
// fetches run concurrently:
//
//  1. Temporal session memory (rolling summary + transcript) for sessionID.
//  2. Factual memories for userID: a semantic search over query when one is
//     given, otherwise the first page of stored memories.
//
// Both sides degrade to empty independently; the combined string omits empty
// sections and is "" when nothing is available.
func (o *Orchestrator) Context(ctx context.Context, userID, sessionID, query string) *memory.Context {
	var (
		session *memory.SessionMemory
		facts   []memory.Fact
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		session = o.temporal.SessionMemory(egCtx, sessionID)
		return nil
	})
	eg.Go(func() error {
		if query != "" {
			facts = o.factual.Search(egCtx, userID, query, contextSearchLimit)
		} else {
			facts = o.factual.ListAll(egCtx, userID, 1, contextListPageSize)
		}
		return nil
	})

	_ = eg.Wait()

	result := &memory.Context{FactualFacts: facts}
	if session != nil {
		result.TemporalContext = session.Context
		result.TemporalMessages = session.Messages
	}
	result.Combined = FormatCombined(result.TemporalContext, facts)
	return result
}

// ─────────────────────────────────────────────────────────────────────────────
// Hybrid search
// ─────────────────────────────────────────────────────────────────────────────

// Search modes accepted by [Orchestrator.SearchMode].
const (
	ModeHybrid   = "hybrid"
	ModeTemporal = "temporal"
	ModeFactual  = "factual"
)

// Search queries all memory sources concurrently and merges the results into
// one ranked list: sorted by score descending, with temporal results ahead
// of factual ones on equal scores, truncated to at most ten entries.
func (o *Orchestrator) Search(ctx context.Context, userID, query string) []memory.SearchResult {
	return o.SearchMode(ctx, userID, query, ModeHybrid)
}

// SearchMode is [Orchestrator.Search] restricted to one source. ModeTemporal
// and ModeFactual query only that store; ModeHybrid (or any unknown mode)
// queries everything.
func (o *Orchestrator) SearchMode(ctx context.Context, userID, query, mode string) []memory.SearchResult {
	var (
		graphFacts []memory.GraphFact
		facts      []memory.Fact
		agentHits  []memory.SearchResult
	)

	eg, egCtx := errgroup.WithContext(ctx)

	if mode != ModeFactual {
		eg.Go(func() error {
			graphFacts = o.temporal.SearchGraph(egCtx, userID, query, storeSearchLimit)
			return nil
		})
	}
	if mode != ModeTemporal {
		eg.Go(func() error {
			facts = o.factual.Search(egCtx, userID, query, storeSearchLimit)
			return nil
		})
	}
	if o.agent != nil && mode != ModeTemporal && mode != ModeFactual {
		eg.Go(func() error {
			agentHits = o.agent.Search(egCtx, userID, query, agentResultLimit)
			return nil
		})
	}

	_ = eg.Wait()

	// Merge order matters: the sort below is stable, so appending temporal
	// results first keeps them ahead of factual ones on score ties.
	merged := make([]memory.SearchResult, 0, len(graphFacts)+len(facts)+len(agentHits))
	for _, gf := range graphFacts {
		merged = append(merged, memory.SearchResult{
			Source:  memory.SourceTemporal,
			Content: gf.Fact,
			Score:   gf.Confidence,
		})
	}
	for _, f := range facts {
		merged = append(merged, memory.SearchResult{
			Source:   memory.SourceFactual,
			Content:  f.Content,
			Score:    f.Score,
			Metadata: f.Metadata,
		})
	}
	if len(agentHits) > agentResultLimit {
		agentHits = agentHits[:agentResultLimit]
	}
	merged = append(merged, agentHits...)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > mergedResultLimit {
		merged = merged[:mergedResultLimit]
	}
	return merged
}

// ─────────────────────────────────────────────────────────────────────────────
// Fact inspection
// ─────────────────────────────────────────────────────────────────────────────

// GetFact looks up one factual memory by id, or nil when it does not exist
// or the store is unavailable. Ownership checks are the caller's job; the
// returned fact carries its owning user id.
func (o *Orchestrator) GetFact(ctx context.Context, memoryID string) *memory.Fact {
	return o.factual.GetByID(ctx, memoryID)
}

// FactHistory returns the audit trail of one factual memory, oldest first.
func (o *Orchestrator) FactHistory(ctx context.Context, memoryID string) []memory.ChangeRecord {
	return o.factual.History(ctx, memoryID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Summary
// ─────────────────────────────────────────────────────────────────────────────

// Summary reports what the system remembers about a user across all stores.
// The three counts degrade independently: a store that is down contributes
// zero rather than failing the whole summary. Each store contributes up to
// three key facts.
func (o *Orchestrator) Summary(ctx context.Context, userID string) *memory.Summary {
	var (
		graphFacts []memory.GraphFact
		factCount  int
		factSample []memory.Fact
		agentCount int
		agentHits  []memory.SearchResult
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		// A broad term scan; the temporal store has no dedicated count op.
		graphFacts = o.temporal.SearchGraph(egCtx, userID, "user", summaryScanLimit)
		return nil
	})
	eg.Go(func() error {
		factCount = o.factual.Count(egCtx, userID)
		factSample = o.factual.ListAll(egCtx, userID, 1, summaryKeyFacts)
		return nil
	})
	if o.agent != nil {
		eg.Go(func() error {
			agentCount = o.agent.Count(egCtx, userID)
			agentHits = o.agent.Recent(egCtx, userID, summaryKeyFacts)
			return nil
		})
	}

	_ = eg.Wait()

	summary := &memory.Summary{
		UserID:             userID,
		TemporalFactCount:  len(graphFacts),
		FactualMemoryCount: factCount,
		AgentMemoryCount:   agentCount,
	}

	for i, gf := range graphFacts {
		if i >= summaryKeyFacts {
			break
		}
		summary.KeyFacts = append(summary.KeyFacts, gf.Fact)
	}
	for _, f := range factSample {
		summary.KeyFacts = append(summary.KeyFacts, f.Content)
	}
	for _, hit := range agentHits {
		summary.KeyFacts = append(summary.KeyFacts, hit.Content)
	}

	return summary
}
