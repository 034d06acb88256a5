package chromem_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mnemoxa/pkg/memory"
	"github.com/MrWong99/mnemoxa/pkg/memory/chromem"
	embmock "github.com/MrWong99/mnemoxa/pkg/provider/embeddings/mock"
)

// keywordEmbedder maps a handful of keywords onto orthogonal unit vectors so
// similarity search behaves predictably without a live model.
func keywordEmbedder() *embmock.Provider {
	return &embmock.Provider{
		DimensionsValue: 3,
		EmbedFunc: func(text string) []float32 {
			lower := strings.ToLower(text)
			switch {
			case strings.Contains(lower, "pizza"):
				return []float32{1, 0, 0}
			case strings.Contains(lower, "austin"):
				return []float32{0, 1, 0}
			default:
				return []float32{0, 0, 1}
			}
		},
	}
}

func TestAddFactAndSearch(t *testing.T) {
	t.Parallel()
	s := chromem.NewStore(keywordEmbedder())
	ctx := context.Background()

	if err := s.AddFact(ctx, "user-1", "User loves pizza", map[string]string{"type": "preference"}); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	if err := s.AddFact(ctx, "user-1", "User lives in Austin", nil); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	facts, err := s.Search(ctx, "user-1", "do they like pizza?", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(facts) == 0 {
		t.Fatal("no results")
	}
	if facts[0].Content != "User loves pizza" {
		t.Errorf("top result = %q, want the pizza fact", facts[0].Content)
	}
	if facts[0].Category != "preference" {
		t.Errorf("category = %q, want preference", facts[0].Category)
	}
	if facts[0].Score < 0.99 {
		t.Errorf("score = %v, want ~1 for an exact keyword match", facts[0].Score)
	}
}

func TestSearchIsolatesUsers(t *testing.T) {
	t.Parallel()
	s := chromem.NewStore(keywordEmbedder())
	ctx := context.Background()

	if err := s.AddFact(ctx, "user-1", "User loves pizza", nil); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	facts, err := s.Search(ctx, "user-2", "pizza", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("user-2 sees %d of user-1's facts", len(facts))
	}
}

func TestSearchEmptyStore(t *testing.T) {
	t.Parallel()
	s := chromem.NewStore(keywordEmbedder())

	facts, err := s.Search(context.Background(), "user-1", "anything", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("got %d results from an empty store", len(facts))
	}
}

func TestListAllPagination(t *testing.T) {
	t.Parallel()
	s := chromem.NewStore(keywordEmbedder())
	ctx := context.Background()

	contents := []string{"fact one", "fact two", "fact three", "fact four", "fact five"}
	for _, c := range contents {
		if err := s.AddFact(ctx, "user-1", c, nil); err != nil {
			t.Fatalf("AddFact: %v", err)
		}
	}

	page1, err := s.ListAll(ctx, "user-1", 1, 2)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	page3, err := s.ListAll(ctx, "user-1", 3, 2)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	beyond, err := s.ListAll(ctx, "user-1", 4, 2)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}

	if len(page1) != 2 || page1[0].Content != "fact one" || page1[1].Content != "fact two" {
		t.Errorf("page 1 = %+v, want the two oldest facts", page1)
	}
	if len(page3) != 1 || page3[0].Content != "fact five" {
		t.Errorf("page 3 = %+v, want the single newest fact", page3)
	}
	if len(beyond) != 0 {
		t.Errorf("page past the end returned %d facts", len(beyond))
	}
}

func TestGetByIDAndHistory(t *testing.T) {
	t.Parallel()
	s := chromem.NewStore(keywordEmbedder())
	ctx := context.Background()

	before := time.Now()
	if err := s.AddFact(ctx, "user-1", "User has two cats", nil); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	listed, err := s.ListAll(ctx, "user-1", 1, 10)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListAll: %v (%d facts)", err, len(listed))
	}

	fact, err := s.GetByID(ctx, listed[0].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fact.Content != "User has two cats" || fact.UserID != "user-1" {
		t.Errorf("fact = %+v", fact)
	}
	if fact.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, want >= %v", fact.CreatedAt, before)
	}

	history, err := s.History(ctx, listed[0].ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Event != "add" || history[0].NewContent != "User has two cats" {
		t.Errorf("history = %+v, want a single add record", history)
	}

	if _, err := s.GetByID(ctx, "no-such-id"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("GetByID(unknown) = %v, want ErrNotFound", err)
	}
}

func TestAppendMessagesStoresConversationMemories(t *testing.T) {
	t.Parallel()
	s := chromem.NewStore(keywordEmbedder())
	ctx := context.Background()

	turns := []memory.ConversationTurn{
		{Role: memory.RoleUser, Content: "I just moved to Austin", Timestamp: time.Now()},
		{Role: memory.RoleAssistant, Content: "Welcome to Texas!", Timestamp: time.Now()},
	}
	if err := s.AppendMessages(ctx, "user-1", turns, nil); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	facts, err := s.ListAll(ctx, "user-1", 1, 10)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("stored %d memories, want 2", len(facts))
	}
	for _, f := range facts {
		if f.Category != memory.CategoryConversation {
			t.Errorf("category = %q, want %q", f.Category, memory.CategoryConversation)
		}
	}
}
