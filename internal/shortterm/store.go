// Package shortterm is the conversation agent's own scratch memory: a small
// SQLite-backed store of recent observations, kept separate from the two
// main memory systems. It serves as the third source in hybrid search.
//
// The store is deliberately bounded: each user keeps at most
// [MaxEntriesPerUser] entries and older ones are pruned on write. Like the
// main memory clients, all read paths degrade to empty results on failure.
package shortterm

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MrWong99/mnemoxa/internal/observe"
	"github.com/MrWong99/mnemoxa/pkg/memory"
)

const providerLabel = "agent"

const (
	// MaxEntriesPerUser bounds the per-user scratch memory; the oldest
	// entries are pruned once the bound is exceeded.
	MaxEntriesPerUser = 50

	// matchScore is the fixed relevance assigned to substring matches.
	// The scratch store has no ranking signal of its own.
	matchScore = 0.8
)

const ddl = `
CREATE TABLE IF NOT EXISTS agent_memories (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_agent_memories_user
    ON agent_memories (user_id, id DESC);
`

// Store holds agent scratch memories in SQLite. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	metrics *observe.Metrics
}

// Option is a functional option for [NewStore].
type Option func(*Store)

// WithMetrics overrides the metrics sink, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore opens (or creates) the SQLite database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewStore(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("shortterm: open %q: %w", path, err)
	}
	// SQLite allows a single writer; a single pooled connection also keeps
	// ":memory:" databases from silently splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("shortterm: create schema: %w", err)
	}

	s := &Store{db: db, metrics: observe.DefaultMetrics()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores one scratch memory for userID and prunes entries beyond the
// per-user bound.
func (s *Store) Add(ctx context.Context, userID, content string) error {
	if userID == "" || content == "" {
		return nil
	}
	start := time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_memories (user_id, content) VALUES (?, ?)`,
		userID, content)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM agent_memories
			WHERE user_id = ?
			  AND id NOT IN (
			      SELECT id FROM agent_memories
			      WHERE user_id = ?
			      ORDER BY id DESC
			      LIMIT ?)`,
			userID, userID, MaxEntriesPerUser)
	}

	s.metrics.MemoryOpDuration.Record(ctx, time.Since(start).Seconds(),
		observe.MemoryOpAttrs(providerLabel, "add"))
	if err != nil {
		s.metrics.RecordMemoryRequest(ctx, providerLabel, "add", "error")
		return fmt.Errorf("shortterm: add: %w", err)
	}
	s.metrics.RecordMemoryRequest(ctx, providerLabel, "add", "ok")
	return nil
}

// likeEscaper neutralizes the LIKE metacharacters so a query containing
// "%" or "_" matches those characters literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(query string) string {
	return likeEscaper.Replace(query)
}

// Search returns up to limit scratch memories for userID whose content
// contains query (case-insensitive), newest first, each with the fixed
// match score. Failures degrade to an empty result.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) []memory.SearchResult {
	if userID == "" || query == "" {
		return []memory.SearchResult{}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM agent_memories
		WHERE user_id = ?
		  AND content LIKE '%' || ? || '%' ESCAPE '\' COLLATE NOCASE
		ORDER BY id DESC
		LIMIT ?`,
		userID, escapeLike(query), limit)
	if err != nil {
		return s.degrade(ctx, "search", err)
	}
	return s.collect(ctx, "search", rows)
}

// Recent returns the newest scratch memories for userID, newest first.
// Failures degrade to an empty result.
func (s *Store) Recent(ctx context.Context, userID string, limit int) []memory.SearchResult {
	if userID == "" {
		return []memory.SearchResult{}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM agent_memories
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		userID, limit)
	if err != nil {
		return s.degrade(ctx, "recent", err)
	}
	return s.collect(ctx, "recent", rows)
}

// Count returns the number of scratch memories held for userID, or 0 when
// the store is unavailable.
func (s *Store) Count(ctx context.Context, userID string) int {
	if userID == "" {
		return 0
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_memories WHERE user_id = ?`,
		userID).Scan(&n)
	if err != nil {
		s.degrade(ctx, "count", err)
		return 0
	}
	s.metrics.RecordMemoryRequest(ctx, providerLabel, "count", "ok")
	return n
}

func (s *Store) collect(ctx context.Context, op string, rows *sql.Rows) []memory.SearchResult {
	defer rows.Close()

	results := []memory.SearchResult{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return s.degrade(ctx, op, err)
		}
		results = append(results, memory.SearchResult{
			Source:  memory.SourceAgent,
			Content: content,
			Score:   matchScore,
		})
	}
	if err := rows.Err(); err != nil {
		return s.degrade(ctx, op, err)
	}
	s.metrics.RecordMemoryRequest(ctx, providerLabel, op, "ok")
	return results
}

// degrade logs and counts a failed read and returns the empty result.
func (s *Store) degrade(ctx context.Context, op string, err error) []memory.SearchResult {
	s.metrics.RecordMemoryRequest(ctx, providerLabel, op, "error")
	s.metrics.RecordMemoryDegradation(ctx, providerLabel, op)
	slog.Warn("agent memory degraded to empty", "op", op, "error", err)
	return []memory.SearchResult{}
}
