// Package mock provides test doubles for the memory provider interfaces.
//
// Use Temporal and Factual in unit tests to feed controlled results without a
// live backend and to verify which calls the orchestration layer makes. Zero
// values for response fields cause methods to return zero values and nil
// errors; set the Err fields to inject failures.
//
// In addition to fixed responses, both doubles keep a small in-memory record
// of everything written to them so that end-to-end style tests can write
// through the real orchestration path and search what they wrote back. Set
// Recording to true to enable that behaviour.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.TemporalProvider = (*Temporal)(nil)
	_ memory.FactualProvider  = (*Factual)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Temporal
// ─────────────────────────────────────────────────────────────────────────────

// AppendCall records a single invocation of AppendMessages.
type AppendCall struct {
	// SessionID (temporal) or UserID (factual) scope of the call.
	Scope string
	// Turns passed to the call.
	Turns []memory.ConversationTurn
}

// Temporal is a mock implementation of [memory.TemporalProvider].
type Temporal struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CreateUserErr, if non-nil, is returned by CreateUser.
	CreateUserErr error

	// CreateSessionErr, if non-nil, is returned by CreateSession.
	CreateSessionErr error

	// AppendErr, if non-nil, is returned by AppendMessages.
	AppendErr error

	// SessionMemoryResult is returned by SessionMemory when non-nil.
	SessionMemoryResult *memory.SessionMemory

	// SessionMemoryErr, if non-nil, is returned by SessionMemory. When both
	// result and error are unset, SessionMemory returns memory.ErrNotFound.
	SessionMemoryErr error

	// SearchGraphResult is returned by SearchGraph when Recording is false.
	SearchGraphResult []memory.GraphFact

	// SearchGraphErr, if non-nil, is returned by SearchGraph.
	SearchGraphErr error

	// AddGraphDataErr, if non-nil, is returned by AddGraphData.
	AddGraphDataErr error

	// Recording enables the in-memory write-through store: appended user turns
	// and graph data become searchable per user via substring match.
	Recording bool

	// --- Call records (read after test) ---

	CreatedUsers    []memory.UserProfile
	CreatedSessions map[string]string // sessionID -> userID
	AppendCalls     []AppendCall
	SearchCalls     []string // queries in order
	GraphData       map[string][]string

	// facts is the recording store: userID -> derived graph facts.
	facts map[string][]memory.GraphFact
	// sessionOwner maps sessionID -> userID for recorded sessions.
	sessionOwner map[string]string
	// transcript holds recorded turns per session.
	transcript map[string][]memory.ConversationTurn
}

// CreateUser records the profile and returns CreateUserErr.
func (t *Temporal) CreateUser(_ context.Context, user memory.UserProfile) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CreatedUsers = append(t.CreatedUsers, user)
	return t.CreateUserErr
}

// CreateSession records the session and returns CreateSessionErr.
func (t *Temporal) CreateSession(_ context.Context, sessionID, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CreatedSessions == nil {
		t.CreatedSessions = map[string]string{}
	}
	t.CreatedSessions[sessionID] = userID
	if t.sessionOwner == nil {
		t.sessionOwner = map[string]string{}
	}
	t.sessionOwner[sessionID] = userID
	return t.CreateSessionErr
}

// AppendMessages records the call; in Recording mode user turns additionally
// become per-user searchable graph facts with confidence 0.5.
func (t *Temporal) AppendMessages(_ context.Context, sessionID string, turns []memory.ConversationTurn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AppendCalls = append(t.AppendCalls, AppendCall{Scope: sessionID, Turns: turns})
	if t.AppendErr != nil {
		return t.AppendErr
	}
	if t.Recording {
		if t.transcript == nil {
			t.transcript = map[string][]memory.ConversationTurn{}
		}
		t.transcript[sessionID] = append(t.transcript[sessionID], turns...)
		owner := t.sessionOwner[sessionID]
		if owner != "" {
			if t.facts == nil {
				t.facts = map[string][]memory.GraphFact{}
			}
			for _, turn := range turns {
				if turn.Role != memory.RoleUser {
					continue
				}
				t.facts[owner] = append(t.facts[owner], memory.GraphFact{
					Fact:       turn.Content,
					Confidence: 0.5,
					CreatedAt:  time.Now(),
				})
			}
		}
	}
	return nil
}

// SessionMemory returns the configured result, the configured error, or — in
// Recording mode — a memory built from the recorded transcript.
func (t *Temporal) SessionMemory(_ context.Context, sessionID string) (*memory.SessionMemory, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SessionMemoryErr != nil {
		return nil, t.SessionMemoryErr
	}
	if t.SessionMemoryResult != nil {
		return t.SessionMemoryResult, nil
	}
	if t.Recording {
		turns, ok := t.transcript[sessionID]
		if ok && len(turns) > 0 {
			return &memory.SessionMemory{
				Context:  fmt.Sprintf("Session of %d turns.", len(turns)),
				Messages: append([]memory.ConversationTurn(nil), turns...),
			}, nil
		}
	}
	return nil, memory.ErrNotFound
}

// SearchGraph returns the fixed result, or — in Recording mode — the recorded
// facts for userID whose text contains query (case-insensitive).
func (t *Temporal) SearchGraph(_ context.Context, userID, query string, limit int) ([]memory.GraphFact, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SearchCalls = append(t.SearchCalls, query)
	if t.SearchGraphErr != nil {
		return nil, t.SearchGraphErr
	}
	if !t.Recording {
		return append([]memory.GraphFact(nil), t.SearchGraphResult...), nil
	}
	matched := []memory.GraphFact{}
	for _, f := range t.facts[userID] {
		if strings.Contains(strings.ToLower(f.Fact), strings.ToLower(query)) {
			matched = append(matched, f)
		}
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// AddGraphData records the stated fact per user.
func (t *Temporal) AddGraphData(_ context.Context, userID, data string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.AddGraphDataErr != nil {
		return t.AddGraphDataErr
	}
	if t.GraphData == nil {
		t.GraphData = map[string][]string{}
	}
	t.GraphData[userID] = append(t.GraphData[userID], data)
	if t.Recording {
		if t.facts == nil {
			t.facts = map[string][]memory.GraphFact{}
		}
		t.facts[userID] = append(t.facts[userID], memory.GraphFact{
			Fact:       data,
			Confidence: 0.9,
			CreatedAt:  time.Now(),
		})
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Factual
// ─────────────────────────────────────────────────────────────────────────────

// Factual is a mock implementation of [memory.FactualProvider].
type Factual struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AppendErr, if non-nil, is returned by AppendMessages.
	AppendErr error

	// AddFactErr, if non-nil, is returned by AddFact.
	AddFactErr error

	// SearchResult is returned by Search when Recording is false.
	SearchResult []memory.Fact

	// SearchErr, if non-nil, is returned by Search.
	SearchErr error

	// ListAllResult is returned for page 1 when Recording is false; later
	// pages return empty.
	ListAllResult []memory.Fact

	// ListAllErr, if non-nil, is returned by ListAll.
	ListAllErr error

	// GetByIDResult is returned by GetByID when non-nil (Recording false).
	GetByIDResult *memory.Fact

	// HistoryResult is returned by History when Recording is false.
	HistoryResult []memory.ChangeRecord

	// Recording enables the in-memory write-through store: added facts and
	// turns become listable and searchable (substring match, score 0.9).
	Recording bool

	// --- Call records ---

	AppendCalls  []AppendCall
	AddedFacts   map[string][]string // userID -> fact contents
	SearchCalls  []string
	ListAllCalls int

	nextID  int
	records []memory.Fact
	history map[string][]memory.ChangeRecord
}

// AppendMessages records the call; in Recording mode each turn is stored as a
// "conversation" memory owned by userID.
func (f *Factual) AppendMessages(_ context.Context, userID string, turns []memory.ConversationTurn, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AppendCalls = append(f.AppendCalls, AppendCall{Scope: userID, Turns: turns})
	if f.AppendErr != nil {
		return f.AppendErr
	}
	if f.Recording {
		for _, turn := range turns {
			f.store(userID, turn.Content, memory.CategoryConversation, metadata)
		}
	}
	return nil
}

// AddFact records the fact; in Recording mode it becomes searchable.
func (f *Factual) AddFact(_ context.Context, userID, content string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddFactErr != nil {
		return f.AddFactErr
	}
	if f.AddedFacts == nil {
		f.AddedFacts = map[string][]string{}
	}
	f.AddedFacts[userID] = append(f.AddedFacts[userID], content)
	if f.Recording {
		category := memory.CategoryGeneral
		if metadata != nil && metadata["type"] != "" {
			category = metadata["type"]
		}
		f.store(userID, content, category, metadata)
	}
	return nil
}

// store appends a record under lock and writes its "add" history entry.
func (f *Factual) store(userID, content, category string, metadata map[string]string) {
	f.nextID++
	id := fmt.Sprintf("mem-%d", f.nextID)
	f.records = append(f.records, memory.Fact{
		ID:        id,
		UserID:    userID,
		Content:   content,
		Category:  category,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if f.history == nil {
		f.history = map[string][]memory.ChangeRecord{}
	}
	f.history[id] = append(f.history[id], memory.ChangeRecord{
		ID:         fmt.Sprintf("chg-%d", f.nextID),
		MemoryID:   id,
		Event:      "add",
		NewContent: content,
		CreatedAt:  time.Now(),
	})
}

// Search returns the fixed result, or — in Recording mode — the user's
// records containing query as a case-insensitive substring, score 0.9.
func (f *Factual) Search(_ context.Context, userID, query string, limit int) ([]memory.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCalls = append(f.SearchCalls, query)
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	if !f.Recording {
		return append([]memory.Fact(nil), f.SearchResult...), nil
	}
	matched := []memory.Fact{}
	for _, rec := range f.records {
		if rec.UserID != userID {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Content), strings.ToLower(query)) {
			rec.Score = 0.9
			matched = append(matched, rec)
		}
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// ListAll pages through the user's records in insertion order.
func (f *Factual) ListAll(_ context.Context, userID string, page, pageSize int) ([]memory.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListAllCalls++
	if f.ListAllErr != nil {
		return nil, f.ListAllErr
	}
	if !f.Recording {
		if page == 1 {
			return append([]memory.Fact(nil), f.ListAllResult...), nil
		}
		return []memory.Fact{}, nil
	}
	var mine []memory.Fact
	for _, rec := range f.records {
		if rec.UserID == userID {
			mine = append(mine, rec)
		}
	}
	start := (page - 1) * pageSize
	if start >= len(mine) {
		return []memory.Fact{}, nil
	}
	end := min(start+pageSize, len(mine))
	return append([]memory.Fact(nil), mine[start:end]...), nil
}

// GetByID looks up a record by id across all users.
func (f *Factual) GetByID(_ context.Context, memoryID string) (*memory.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Recording {
		if f.GetByIDResult != nil {
			rec := *f.GetByIDResult
			return &rec, nil
		}
		return nil, memory.ErrNotFound
	}
	for _, rec := range f.records {
		if rec.ID == memoryID {
			out := rec
			return &out, nil
		}
	}
	return nil, memory.ErrNotFound
}

// History returns the audit trail for one memory id.
func (f *Factual) History(_ context.Context, memoryID string) ([]memory.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Recording {
		return append([]memory.ChangeRecord(nil), f.HistoryResult...), nil
	}
	return append([]memory.ChangeRecord(nil), f.history[memoryID]...), nil
}
