// Package chromem provides an embedded, in-process implementation of
// [memory.FactualProvider] backed by chromem-go.
//
// It is the fallback used when no factual database DSN is configured: the
// service stays fully functional for development and tests, memories simply
// do not survive a restart. Each user gets an isolated chromem collection;
// listing, lookup by id and the change history are served from an in-process
// record table because chromem only exposes similarity queries.
package chromem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/MrWong99/mnemoxa/pkg/memory"
	"github.com/MrWong99/mnemoxa/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ memory.FactualProvider = (*Store)(nil)

// Store is the embedded factual memory provider. All operations are safe for
// concurrent use.
type Store struct {
	db       *chromemgo.DB
	embedder embeddings.Provider

	mu          sync.RWMutex
	collections map[string]*chromemgo.Collection
	records     map[string]memory.Fact           // memory id -> record
	byUser      map[string][]string              // user id -> memory ids, insertion order
	history     map[string][]memory.ChangeRecord // memory id -> audit trail
}

// NewStore creates an empty embedded store using embedder for all vector
// operations.
func NewStore(embedder embeddings.Provider) *Store {
	return &Store{
		db:          chromemgo.NewDB(),
		embedder:    embedder,
		collections: make(map[string]*chromemgo.Collection),
		records:     make(map[string]memory.Fact),
		byUser:      make(map[string][]string),
		history:     make(map[string][]memory.ChangeRecord),
	}
}

// collection returns the per-user chromem collection, creating it on first
// use.
func (s *Store) collection(userID string) (*chromemgo.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	col, err := s.db.CreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem store: create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// AppendMessages implements [memory.FactualProvider]. Every turn is stored as
// an individual "conversation" memory owned by userID.
func (s *Store) AppendMessages(ctx context.Context, userID string, turns []memory.ConversationTurn, metadata map[string]string) error {
	for _, turn := range turns {
		if err := s.add(ctx, userID, turn.Content, memory.CategoryConversation, metadata); err != nil {
			return err
		}
	}
	return nil
}

// AddFact implements [memory.FactualProvider]. The category is taken from
// metadata["type"] when present, defaulting to "general".
func (s *Store) AddFact(ctx context.Context, userID, content string, metadata map[string]string) error {
	category := memory.CategoryGeneral
	if metadata != nil && metadata["type"] != "" {
		category = metadata["type"]
	}
	return s.add(ctx, userID, content, category, metadata)
}

// add embeds content, inserts it into the user's collection and records it in
// the in-process tables.
func (s *Store) add(ctx context.Context, userID, content, category string, metadata map[string]string) error {
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("chromem store: embed: %w", err)
	}

	col, err := s.collection(userID)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	doc := chromemgo.Document{
		ID:        id,
		Content:   content,
		Embedding: vector,
		Metadata:  map[string]string{"category": category},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem store: add document: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = memory.Fact{
		ID:        id,
		UserID:    userID,
		Content:   content,
		Category:  category,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byUser[userID] = append(s.byUser[userID], id)
	s.history[id] = append(s.history[id], memory.ChangeRecord{
		ID:         uuid.NewString(),
		MemoryID:   id,
		Event:      "add",
		NewContent: content,
		CreatedAt:  now,
	})
	return nil
}

// Search implements [memory.FactualProvider]. It embeds the query and runs a
// similarity query against the user's collection. Chromem reports cosine
// similarity directly, which maps onto Score unchanged.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]memory.Fact, error) {
	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	// Chromem rejects queries asking for more results than stored documents.
	n := min(limit, col.Count())
	if n <= 0 {
		return []memory.Fact{}, nil
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chromem store: embed query: %w", err)
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem store: query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	facts := make([]memory.Fact, 0, len(results))
	for _, res := range results {
		fact, ok := s.records[res.ID]
		if !ok {
			continue
		}
		fact.Score = float64(res.Similarity)
		facts = append(facts, fact)
	}
	return facts, nil
}

// ListAll implements [memory.FactualProvider]. Pages are 1-based and ordered
// by insertion (oldest first).
func (s *Store) ListAll(_ context.Context, userID string, page, pageSize int) ([]memory.Fact, error) {
	if page < 1 {
		page = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	start := (page - 1) * pageSize
	if start >= len(ids) {
		return []memory.Fact{}, nil
	}
	end := min(start+pageSize, len(ids))

	facts := make([]memory.Fact, 0, end-start)
	for _, id := range ids[start:end] {
		facts = append(facts, s.records[id])
	}
	return facts, nil
}

// GetByID implements [memory.FactualProvider].
func (s *Store) GetByID(_ context.Context, memoryID string) (*memory.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fact, ok := s.records[memoryID]
	if !ok {
		return nil, fmt.Errorf("chromem store: memory %q: %w", memoryID, memory.ErrNotFound)
	}
	out := fact
	return &out, nil
}

// History implements [memory.FactualProvider]. Records are returned oldest
// first.
func (s *Store) History(_ context.Context, memoryID string) ([]memory.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]memory.ChangeRecord(nil), s.history[memoryID]...), nil
}
