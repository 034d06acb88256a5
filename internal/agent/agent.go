// Package agent implements the per-turn conversation loop: assemble memory
// context, call the LLM, commit the exchange back to memory.
//
// The loop never hard-fails from the user's perspective. A completion failure
// produces a fixed apology reply, and memory failures degrade to less context
// rather than an error. The only errors ProcessMessage returns are validation
// errors for malformed requests.
package agent

import "context"

// ApologyReply is returned when response generation fails. Conversations
// degrade to an apology, never to an error page.
const ApologyReply = "I apologize, but I'm experiencing technical difficulties. Please try again."

// Request is one inbound chat message, already authenticated: UserID is the
// resolved identity of the caller, never a raw credential.
type Request struct {
	// UserID is the authenticated user. Must not be empty.
	UserID string

	// SessionID scopes the temporal memory. Must not be empty; callers
	// without a running session generate one first.
	SessionID string

	// Message is the user's message text. Must not be empty.
	Message string
}

// Response is the outcome of one conversation turn.
type Response struct {
	// Reply is the assistant's answer, or [ApologyReply] when generation
	// failed.
	Reply string

	// MemoryContext is the combined memory context that informed the reply.
	// Empty when no memory was available.
	MemoryContext string

	// Fallback is true when Reply is the apology rather than a generated
	// answer.
	Fallback bool
}

// Agent is the conversation loop contract consumed by the API layer.
//
// Implementations must be safe for concurrent use across sessions and should
// serialise turns within one session.
type Agent interface {
	// ProcessMessage runs one full turn: context assembly, completion, and
	// memory commit. It returns an error only for invalid requests; provider
	// failures are absorbed into the Response.
	ProcessMessage(ctx context.Context, req Request) (*Response, error)
}

// Tunable is implemented by agents whose generation settings can be adjusted
// at runtime, typically on a configuration reload.
type Tunable interface {
	Tune(Tuning)
}

// Tuning is the runtime-adjustable subset of an agent's configuration.
// Zero values select the same defaults as agent construction.
type Tuning struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	HistoryLimit int
}
