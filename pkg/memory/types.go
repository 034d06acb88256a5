package memory

import "time"

// Role identifies the author of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Source identifies which memory system produced a search result.
const (
	SourceTemporal = "temporal"
	SourceFactual  = "factual"
	SourceAgent    = "agent"
)

// Well-known fact categories. The category decides which store a fact is
// routed to; see the hybrid orchestrator for the routing rule.
const (
	CategoryGeneral      = "general"
	CategoryPreference   = "preference"
	CategoryFact         = "fact"
	CategoryCustom       = "custom"
	CategoryTemporal     = "temporal"
	CategoryRelationship = "relationship"
	CategorySession      = "session"
	CategoryConversation = "conversation"
)

// UserProfile is the identity fragment the memory layer needs to register a
// user with a backend. The memory layer references users by ID only; identity
// records are owned by the auth/persistence side.
type UserProfile struct {
	// ID is the opaque unique user identifier. Must be non-empty.
	ID string

	// Email is the user's email address.
	Email string

	// FirstName and LastName are optional display name fragments.
	FirstName string
	LastName  string
}

// ConversationTurn is a single message in a conversation. Turns are passed by
// value into memory providers and never retained by the orchestrator.
type ConversationTurn struct {
	// Role is RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string

	// Timestamp is when the turn was produced. May be zero.
	Timestamp time.Time
}

// Fact is a short, atomic piece of information about a user held in the
// factual store (or returned from it).
type Fact struct {
	// ID is the store-assigned unique identifier for this memory.
	ID string

	// UserID is the owning user. Every fact belongs to exactly one user.
	UserID string

	// Content is the fact text.
	Content string

	// Category tags the fact (preference, fact, custom, conversation, …).
	Category string

	// Score is the store-reported relevance for search results, in [0.0, 1.0].
	// Zero for results of non-search operations.
	Score float64

	// Metadata carries store-specific key/value annotations. May be nil.
	Metadata map[string]string

	// CreatedAt and UpdatedAt are store-managed timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GraphFact is a single derived fact from the temporal provider's knowledge
// graph, with the provider-reported confidence.
type GraphFact struct {
	// Fact is the fact text.
	Fact string

	// Confidence is the provider's confidence in this fact, in [0.0, 1.0].
	Confidence float64

	// CreatedAt is when the fact was established.
	CreatedAt time.Time
}

// SessionMemory is the temporal provider's view of one session: a rolling
// summary plus the raw recent turns.
type SessionMemory struct {
	// Context is the rolling session summary. May be empty for a young session.
	Context string

	// Messages are the most recent turns, oldest first.
	Messages []ConversationTurn
}

// SearchResult is one entry in a merged hybrid search result list.
type SearchResult struct {
	// Source is SourceTemporal, SourceFactual, or SourceAgent.
	Source string

	// Content is the matched text.
	Content string

	// Score is the relevance used for merge ordering, in [0.0, 1.0].
	Score float64

	// Metadata carries source-specific annotations. May be nil.
	Metadata map[string]string
}

// Context is the ephemeral aggregate assembled for one incoming message.
// It is constructed fresh on every request and never persisted.
type Context struct {
	// TemporalContext is the session's rolling summary. May be empty.
	TemporalContext string

	// TemporalMessages are the recent session turns. May be empty.
	TemporalMessages []ConversationTurn

	// FactualFacts are the relevant long-term facts. May be empty.
	FactualFacts []Fact

	// Combined is the synthesized narrative string built from the sections
	// above. Empty when there is nothing to say — never two empty headers.
	Combined string
}

// Summary aggregates a user's memory footprint across all systems.
// Each count independently degrades to 0 when its backend is unavailable.
type Summary struct {
	UserID string

	// TemporalFactCount is the number of derived graph facts.
	TemporalFactCount int

	// FactualMemoryCount is the number of long-term memories.
	FactualMemoryCount int

	// AgentMemoryCount is the number of short-term agent memories.
	AgentMemoryCount int

	// KeyFacts holds up to three example facts from each system, for display.
	KeyFacts []string
}

// ChangeRecord is one entry in a factual memory's audit trail.
type ChangeRecord struct {
	// ID identifies this change record.
	ID string

	// MemoryID is the memory this change applies to.
	MemoryID string

	// Event describes the change: "add", "update", or "delete".
	Event string

	// OldContent and NewContent capture the content before and after the
	// change. OldContent is empty for "add" events.
	OldContent string
	NewContent string

	// CreatedAt is when the change happened.
	CreatedAt time.Time
}
