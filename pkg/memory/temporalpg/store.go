package temporalpg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// Compile-time interface check.
var _ memory.TemporalProvider = (*Store)(nil)

// summaryTurns is the number of most recent user turns folded into the
// rolling session summary.
const summaryTurns = 6

// Store is the PostgreSQL-backed temporal memory provider. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn and runs [Migrate] to ensure all required tables
// exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("temporal store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("temporal store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("temporal store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("temporal store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateUser implements [memory.TemporalProvider]. It registers the user
// profile and returns [memory.ErrAlreadyExists] when the id is already taken.
func (s *Store) CreateUser(ctx context.Context, user memory.UserProfile) error {
	const q = `
		INSERT INTO temporal_users (id, email, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, user.ID, user.Email, user.FirstName, user.LastName)
	if err != nil {
		return fmt.Errorf("temporal store: create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrAlreadyExists
	}
	return nil
}

// CreateSession implements [memory.TemporalProvider]. Creating a session that
// already exists is a no-op.
func (s *Store) CreateSession(ctx context.Context, sessionID, userID string) error {
	const q = `
		INSERT INTO temporal_sessions (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, sessionID, userID); err != nil {
		return fmt.Errorf("temporal store: create session: %w", err)
	}
	return nil
}

// AppendMessages implements [memory.TemporalProvider]. Within one transaction
// it appends the turns to the session transcript, derives a graph fact from
// every user turn (confidence 0.5, source "message") and refreshes the
// session's rolling summary.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, turns []memory.ConversationTurn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("temporal store: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	const owner = `SELECT user_id FROM temporal_sessions WHERE id = $1`
	if err := tx.QueryRow(ctx, owner, sessionID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("temporal store: append: session %q: %w", sessionID, memory.ErrNotFound)
		}
		return fmt.Errorf("temporal store: append: resolve session: %w", err)
	}

	const insertMsg = `
		INSERT INTO temporal_messages (session_id, role, content, timestamp)
		VALUES ($1, $2, $3, $4)`
	const insertFact = `
		INSERT INTO graph_facts (user_id, fact, confidence, source)
		VALUES ($1, $2, 0.5, 'message')`

	for _, turn := range turns {
		if _, err := tx.Exec(ctx, insertMsg, sessionID, turn.Role, turn.Content, turn.Timestamp); err != nil {
			return fmt.Errorf("temporal store: append message: %w", err)
		}
		if turn.Role == memory.RoleUser {
			if _, err := tx.Exec(ctx, insertFact, userID, turn.Content); err != nil {
				return fmt.Errorf("temporal store: derive fact: %w", err)
			}
		}
	}

	if err := refreshSummary(ctx, tx, sessionID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("temporal store: commit append: %w", err)
	}
	return nil
}

// refreshSummary recomputes the rolling summary from the most recent user
// turns and stores it on the session row.
func refreshSummary(ctx context.Context, tx pgx.Tx, sessionID string) error {
	const recent = `
		SELECT content
		FROM   temporal_messages
		WHERE  session_id = $1
		  AND  role = $2
		ORDER  BY timestamp DESC, id DESC
		LIMIT  $3`

	rows, err := tx.Query(ctx, recent, sessionID, memory.RoleUser, summaryTurns)
	if err != nil {
		return fmt.Errorf("temporal store: summary query: %w", err)
	}
	contents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var c string
		err := row.Scan(&c)
		return c, err
	})
	if err != nil {
		return fmt.Errorf("temporal store: summary scan: %w", err)
	}

	// Oldest first in the summary even though the query returns newest first.
	topics := make([]string, 0, len(contents))
	for i := len(contents) - 1; i >= 0; i-- {
		topics = append(topics, firstSentence(contents[i]))
	}

	summary := ""
	if len(topics) > 0 {
		summary = "User discussed: " + strings.Join(topics, "; ")
	}

	const update = `
		UPDATE temporal_sessions
		SET    summary = $2, updated_at = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, update, sessionID, summary); err != nil {
		return fmt.Errorf("temporal store: summary update: %w", err)
	}
	return nil
}

// firstSentence returns text up to and excluding the first sentence
// terminator, trimmed of surrounding whitespace.
func firstSentence(text string) string {
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// SessionMemory implements [memory.TemporalProvider]. It returns the rolling
// session summary together with the full transcript in chronological order,
// or [memory.ErrNotFound] for an unknown session.
func (s *Store) SessionMemory(ctx context.Context, sessionID string) (*memory.SessionMemory, error) {
	const qSummary = `SELECT summary FROM temporal_sessions WHERE id = $1`

	var summary string
	if err := s.pool.QueryRow(ctx, qSummary, sessionID).Scan(&summary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("temporal store: session %q: %w", sessionID, memory.ErrNotFound)
		}
		return nil, fmt.Errorf("temporal store: session memory: %w", err)
	}

	const qMessages = `
		SELECT role, content, timestamp
		FROM   temporal_messages
		WHERE  session_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, qMessages, sessionID)
	if err != nil {
		return nil, fmt.Errorf("temporal store: session messages: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ConversationTurn, error) {
		var t memory.ConversationTurn
		err := row.Scan(&t.Role, &t.Content, &t.Timestamp)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("temporal store: scan messages: %w", err)
	}
	if turns == nil {
		turns = []memory.ConversationTurn{}
	}

	return &memory.SessionMemory{Context: summary, Messages: turns}, nil
}

// SearchGraph implements [memory.TemporalProvider]. It performs a PostgreSQL
// full-text search over the user's graph facts, ordered by stored confidence
// first and ts_rank second, so stated facts always outrank derived ones.
//
// The query is passed to plainto_tsquery so no special operator syntax is
// required.
func (s *Store) SearchGraph(ctx context.Context, userID, query string, limit int) ([]memory.GraphFact, error) {
	args := []any{userID, query}
	q := `
		SELECT fact, confidence, created_at
		FROM   graph_facts
		WHERE  user_id = $1
		  AND  to_tsvector('english', fact) @@ plainto_tsquery('english', $2)
		ORDER  BY confidence DESC,
		          ts_rank(to_tsvector('english', fact), plainto_tsquery('english', $2)) DESC,
		          created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("temporal store: search graph: %w", err)
	}
	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.GraphFact, error) {
		var f memory.GraphFact
		err := row.Scan(&f.Fact, &f.Confidence, &f.CreatedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("temporal store: scan graph facts: %w", err)
	}
	if facts == nil {
		facts = []memory.GraphFact{}
	}
	return facts, nil
}

// AddGraphData implements [memory.TemporalProvider]. Explicitly stated facts
// are stored with a higher confidence than facts derived from conversation.
func (s *Store) AddGraphData(ctx context.Context, userID, data string) error {
	const q = `
		INSERT INTO graph_facts (user_id, fact, confidence, source)
		VALUES ($1, $2, 0.9, 'stated')`

	if _, err := s.pool.Exec(ctx, q, userID, data); err != nil {
		return fmt.Errorf("temporal store: add graph data: %w", err)
	}
	return nil
}
