// Package memory defines the two-provider memory architecture used by the
// Mnemoxa chat backend.
//
// The architecture composes two independently consistent stores:
//
//   - Temporal provider ([TemporalProvider]): session-scoped, recency-weighted
//     memory — rolling conversation summaries, raw recent turns, and a derived
//     per-user graph of facts with confidence scores.
//   - Factual provider ([FactualProvider]): durable, user-scoped long-term
//     memory searchable by semantic similarity, with a per-record audit trail.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, chromem-go, in-memory, hosted APIs, …)
// without depending on Mnemoxa internals.
//
// Providers report failures as errors; the degrade-to-empty failure policy
// lives one layer up, in the clients that wrap these interfaces. Every
// implementation must be safe for concurrent use.
package memory

import "context"

// TemporalProvider is the contract for the session/graph memory backend.
//
// All operations are partitioned by user id: an implementation must never
// return data belonging to a different user than the one named in the call.
type TemporalProvider interface {
	// CreateUser registers a user with the temporal backend.
	// Returns [ErrAlreadyExists] when the user id is already registered;
	// callers decide whether that is an error (it usually is not).
	CreateUser(ctx context.Context, user UserProfile) error

	// CreateSession opens a new session scope for the given user.
	// sessionID and userID must be non-empty.
	CreateSession(ctx context.Context, sessionID, userID string) error

	// AppendMessages appends conversation turns to the session transcript.
	// Implementations may derive episodic graph facts from the appended turns.
	AppendMessages(ctx context.Context, sessionID string, turns []ConversationTurn) error

	// SessionMemory returns the rolling summary and recent turns for a session.
	// Returns [ErrNotFound] when the session has no memory yet.
	SessionMemory(ctx context.Context, sessionID string) (*SessionMemory, error)

	// SearchGraph performs a relevance search over the user's derived fact
	// graph, scoped strictly to userID. Results are ordered by confidence
	// descending. Returns an empty (non-nil) slice when nothing matches.
	SearchGraph(ctx context.Context, userID, query string, limit int) ([]GraphFact, error)

	// AddGraphData asserts a stated fact into the user's graph.
	AddGraphData(ctx context.Context, userID, data string) error
}

// FactualProvider is the contract for the long-term fact store backend.
//
// Search and ListAll are filtered to userID inside the store; GetByID and
// History are global lookups by memory id — verifying that the returned
// record belongs to the caller is an API-boundary responsibility.
type FactualProvider interface {
	// AppendMessages stores conversation turns as long-term memories owned by
	// userID. metadata is attached to every stored record and may be nil.
	AppendMessages(ctx context.Context, userID string, turns []ConversationTurn, metadata map[string]string) error

	// AddFact stores a single fact owned by userID.
	AddFact(ctx context.Context, userID, content string, metadata map[string]string) error

	// Search performs a semantic similarity search over the user's memories.
	// Results are ordered by score descending (1.0 = identical).
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, userID, query string, limit int) ([]Fact, error)

	// ListAll enumerates the user's memories one page at a time. Ordering is
	// stable within a page but is not guaranteed to be newest-first.
	// page is 1-based. Returns an empty (non-nil) slice past the last page.
	ListAll(ctx context.Context, userID string, page, pageSize int) ([]Fact, error)

	// GetByID retrieves a single memory by id, regardless of owner.
	// Returns [ErrNotFound] when no such memory exists.
	GetByID(ctx context.Context, memoryID string) (*Fact, error)

	// History returns the audit trail of changes to one memory, oldest first.
	// Returns an empty (non-nil) slice for an unknown memory id.
	History(ctx context.Context, memoryID string) ([]ChangeRecord, error)
}
