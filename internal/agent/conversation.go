package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/MrWong99/mnemoxa/internal/hybrid"
	"github.com/MrWong99/mnemoxa/internal/observe"
	"github.com/MrWong99/mnemoxa/internal/shortterm"
	"github.com/MrWong99/mnemoxa/pkg/memory"
	"github.com/MrWong99/mnemoxa/pkg/provider/llm"
)

// Compile-time interface checks.
var (
	_ Agent   = (*conversationAgent)(nil)
	_ Tunable = (*conversationAgent)(nil)
)

const (
	defaultSystemPrompt = "You are a helpful assistant with access to the user's conversation history and long-term memories. Use them to give personal, consistent answers."

	defaultTemperature  = 0.7
	defaultMaxTokens    = 512
	defaultHistoryLimit = 10
	defaultSessionTTL   = 30 * time.Minute

	// maxSessions bounds the session-state cache. Idle sessions are evicted
	// by TTL, active ones by admission once the bound is reached.
	maxSessions = 1024

	// memoryCommitTimeout bounds the background memory commit when the
	// agent does not wait for it.
	memoryCommitTimeout = 15 * time.Second
)

// Config holds all dependencies needed to create a conversation [Agent].
//
// Required fields are Memory and LLM. ShortTerm is optional — a nil store
// means the agent keeps no scratch memory of its own.
type Config struct {
	// Memory is the hybrid orchestrator serving context, search, and writes.
	// Must not be nil.
	Memory *hybrid.Orchestrator

	// LLM produces the replies. Must not be nil; wrap it in a fallback group
	// for multi-provider resilience before passing it in.
	LLM llm.Provider

	// ShortTerm is the agent's own scratch store, fed with each user message.
	ShortTerm *shortterm.Store

	// SystemPrompt is the fixed persona instruction. Empty selects a default.
	SystemPrompt string

	// Temperature and MaxTokens tune the completion. Zero values select
	// defaults.
	Temperature float64
	MaxTokens   int

	// WaitForMemory makes ProcessMessage commit the turn to memory before
	// returning the reply. When false the commit runs in the background;
	// replies are faster but an immediate follow-up may not see the turn.
	WaitForMemory bool

	// HistoryLimit caps how many recent session turns are replayed into the
	// prompt. Zero selects a default.
	HistoryLimit int

	// SessionTTL is how long idle session state is retained. Zero selects a
	// default.
	SessionTTL time.Duration

	// Metrics overrides the metrics sink, mainly for tests.
	Metrics *observe.Metrics
}

// sessionState is the per-session slice of agent state: a mutex serialising
// turns and a flag that user/session registration already happened.
type sessionState struct {
	mu      sync.Mutex
	ensured bool
}

// conversationAgent is the concrete [Agent].
//
// Session state lives in a bounded TTL cache keyed by (userID, sessionID).
// Cache admission is best-effort: losing an entry only costs a redundant
// registration call and, worst case, two turns of the same session running
// unserialised.
type conversationAgent struct {
	memory        *hybrid.Orchestrator
	llm           llm.Provider
	shortTerm     *shortterm.Store
	waitForMemory bool
	sessionTTL    time.Duration
	metrics       *observe.Metrics

	// Generation settings, adjustable at runtime via Tune.
	tuneMu       sync.RWMutex
	systemPrompt string
	temperature  float64
	maxTokens    int
	historyLimit int

	mu       sync.Mutex
	sessions *ristretto.Cache
}

// NewConversationAgent creates a conversation [Agent] from the given
// configuration. Errors are prefixed with "agent: ".
func NewConversationAgent(cfg Config) (Agent, error) {
	if cfg.Memory == nil {
		return nil, errors.New("agent: Memory must not be nil")
	}
	if cfg.LLM == nil {
		return nil, errors.New("agent: LLM must not be nil")
	}

	sessions, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxSessions * 10,
		MaxCost:     maxSessions,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: create session cache: %w", err)
	}

	a := &conversationAgent{
		memory:        cfg.Memory,
		llm:           cfg.LLM,
		shortTerm:     cfg.ShortTerm,
		systemPrompt:  cfg.SystemPrompt,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		waitForMemory: cfg.WaitForMemory,
		historyLimit:  cfg.HistoryLimit,
		sessionTTL:    cfg.SessionTTL,
		metrics:       cfg.Metrics,
	}
	if a.systemPrompt == "" {
		a.systemPrompt = defaultSystemPrompt
	}
	if a.temperature == 0 {
		a.temperature = defaultTemperature
	}
	if a.maxTokens == 0 {
		a.maxTokens = defaultMaxTokens
	}
	if a.historyLimit == 0 {
		a.historyLimit = defaultHistoryLimit
	}
	if a.sessionTTL == 0 {
		a.sessionTTL = defaultSessionTTL
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.sessions = sessions
	return a, nil
}

// Tune replaces the agent's generation settings. Zero values select the same
// defaults as [NewConversationAgent]; turns already in flight finish with the
// old settings.
func (a *conversationAgent) Tune(t Tuning) {
	if t.SystemPrompt == "" {
		t.SystemPrompt = defaultSystemPrompt
	}
	if t.Temperature == 0 {
		t.Temperature = defaultTemperature
	}
	if t.MaxTokens == 0 {
		t.MaxTokens = defaultMaxTokens
	}
	if t.HistoryLimit == 0 {
		t.HistoryLimit = defaultHistoryLimit
	}

	a.tuneMu.Lock()
	a.systemPrompt = t.SystemPrompt
	a.temperature = t.Temperature
	a.maxTokens = t.MaxTokens
	a.historyLimit = t.HistoryLimit
	a.tuneMu.Unlock()
}

// session returns the state for one (user, session) pair, creating it on
// first use.
func (a *conversationAgent) session(userID, sessionID string) *sessionState {
	key := userID + "\x00" + sessionID

	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.sessions.Get(key); ok {
		return v.(*sessionState)
	}
	st := &sessionState{}
	a.sessions.SetWithTTL(key, st, 1, a.sessionTTL)
	// Flush the set buffer so a concurrent turn finds the same state.
	a.sessions.Wait()
	return st
}

// ProcessMessage runs one conversation turn:
//
//  1. Register the user and session with the memory layer (first turn only).
//  2. Assemble the combined memory context, searching with the message text.
//  3. Call the LLM once; a failure becomes the apology reply, never an error.
//  4. Commit the exchange back to memory, synchronously or in the background
//     depending on configuration.
//
// Turns within one session are serialised; different sessions proceed
// independently.
func (a *conversationAgent) ProcessMessage(ctx context.Context, req Request) (*Response, error) {
	if req.UserID == "" {
		return nil, &memory.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if req.SessionID == "" {
		return nil, &memory.ValidationError{Field: "sessionId", Reason: "must not be empty"}
	}
	if req.Message == "" {
		return nil, &memory.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	start := time.Now()

	st := a.session(req.UserID, req.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// Check again after acquiring the lock (we may have waited).
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	if !st.ensured {
		a.memory.EnsureUser(ctx, memory.UserProfile{ID: req.UserID})
		a.memory.EnsureSession(ctx, req.SessionID, req.UserID)
		st.ensured = true
	}

	mctx := a.memory.Context(ctx, req.UserID, req.SessionID, req.Message)

	resp := &Response{MemoryContext: mctx.Combined}
	completion, err := a.llm.Complete(ctx, a.buildRequest(mctx, req.Message))
	if err == nil && completion == nil {
		err = errors.New("agent: provider returned no completion")
	}
	if err != nil {
		slog.Warn("completion failed, replying with apology",
			"user_id", req.UserID, "session_id", req.SessionID, "error", err)
		resp.Reply = ApologyReply
		resp.Fallback = true
	} else {
		resp.Reply = completion.Content
	}

	if a.waitForMemory {
		a.commitTurn(ctx, req, resp)
	} else {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), memoryCommitTimeout)
		go func() {
			defer cancel()
			a.commitTurn(bg, req, resp)
		}()
	}

	status := "ok"
	if resp.Fallback {
		status = "fallback"
	}
	a.metrics.ChatTurnDuration.Record(ctx, time.Since(start).Seconds(),
		observe.ChatTurnAttrs(status))
	a.metrics.RecordChatTurn(ctx, status)

	return resp, nil
}

// buildRequest assembles the completion request: fixed persona plus the
// combined memory context as the system prompt, recent session turns, then
// the new user message.
func (a *conversationAgent) buildRequest(mctx *memory.Context, message string) llm.CompletionRequest {
	a.tuneMu.RLock()
	systemPrompt := a.systemPrompt
	temperature := a.temperature
	maxTokens := a.maxTokens
	historyLimit := a.historyLimit
	a.tuneMu.RUnlock()

	if mctx.Combined != "" {
		systemPrompt += "\n\n" + mctx.Combined
	}

	history := mctx.TemporalMessages
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, turn := range history {
		msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, llm.Message{Role: memory.RoleUser, Content: message})

	return llm.CompletionRequest{
		Messages:     msgs,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		SystemPrompt: systemPrompt,
	}
}

// commitTurn writes the exchange back to memory: the dual transcript write,
// extracted facts, and the agent's own scratch note. Every step degrades
// independently; a failed extraction or scratch write never withholds the
// reply.
func (a *conversationAgent) commitTurn(ctx context.Context, req Request, resp *Response) {
	now := time.Now()
	turns := []memory.ConversationTurn{
		{Role: memory.RoleUser, Content: req.Message, Timestamp: now},
	}
	// The apology is not part of the conversation worth remembering.
	if !resp.Fallback && resp.Reply != "" {
		turns = append(turns, memory.ConversationTurn{
			Role: memory.RoleAssistant, Content: resp.Reply, Timestamp: now,
		})
	}
	a.memory.AddConversation(ctx, req.UserID, req.SessionID, turns)

	for _, ex := range ExtractFacts(req.Message) {
		a.memory.AddMemory(ctx, req.UserID, ex.Content, ex.Category)
	}

	if a.shortTerm != nil {
		if err := a.shortTerm.Add(ctx, req.UserID, req.Message); err != nil {
			slog.Warn("scratch memory write failed",
				"user_id", req.UserID, "error", err)
		}
	}
}
