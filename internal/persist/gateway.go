// Package persist is the relational persistence gateway: user identities and
// the raw, append-only chat transcript.
//
// It is deliberately dumb storage. Memory derivation (summaries, facts,
// embeddings) happens in the memory stores; this gateway only answers "who
// is this user" and "what was literally said".
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/mnemoxa/pkg/memory"
)

// Turn is one transcript row.
type Turn struct {
	// SessionID is the conversation this turn belongs to.
	SessionID string

	// Role is "user" or "assistant".
	Role string

	// Content is the message text.
	Content string

	// CreatedAt is when the turn was recorded.
	CreatedAt time.Time
}

// Gateway stores users and transcripts in PostgreSQL. Safe for concurrent
// use.
type Gateway struct {
	pool *pgxpool.Pool
}

// NewGateway connects to PostgreSQL and ensures the schema exists.
func NewGateway(ctx context.Context, dsn string) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Gateway{pool: pool}, nil
}

// Close releases the connection pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// CreateUser inserts a new user identity. Returns [memory.ErrAlreadyExists]
// when the id or email is already taken.
func (g *Gateway) CreateUser(ctx context.Context, user memory.UserProfile) error {
	if user.ID == "" {
		return &memory.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if user.Email == "" {
		return &memory.ValidationError{Field: "email", Reason: "must not be empty"}
	}
	tag, err := g.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		user.ID, user.Email, user.FirstName, user.LastName)
	if err != nil {
		return fmt.Errorf("persist: create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrAlreadyExists
	}
	return nil
}

// GetUser looks up a user by id. Returns [memory.ErrNotFound] for unknown
// ids.
func (g *Gateway) GetUser(ctx context.Context, id string) (*memory.UserProfile, error) {
	var user memory.UserProfile
	err := g.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name
		FROM users
		WHERE id = $1`, id).
		Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("persist: user %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("persist: get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail looks up a user by email. Returns [memory.ErrNotFound] for
// unknown addresses.
func (g *Gateway) GetUserByEmail(ctx context.Context, email string) (*memory.UserProfile, error) {
	var user memory.UserProfile
	err := g.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name
		FROM users
		WHERE email = $1`, email).
		Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("persist: user with email %q: %w", email, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("persist: get user by email: %w", err)
	}
	return &user, nil
}

// RecordTurn appends one transcript row.
func (g *Gateway) RecordTurn(ctx context.Context, userID, sessionID, role, content string, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO chat_turns (user_id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, sessionID, role, content, ts)
	if err != nil {
		return fmt.Errorf("persist: record turn: %w", err)
	}
	return nil
}

// ListSessions returns the user's session ids, most recently active first.
func (g *Gateway) ListSessions(ctx context.Context, userID string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT session_id
		FROM chat_turns
		WHERE user_id = $1
		GROUP BY session_id
		ORDER BY MAX(id) DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("persist: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("persist: list sessions: %w", err)
	}
	return sessions, nil
}

// ListTurns returns up to limit of the user's most recent transcript rows in
// chronological order. An empty sessionID spans all of the user's sessions.
func (g *Gateway) ListTurns(ctx context.Context, userID, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	// Select the newest rows, then flip them back to chronological order.
	query := `
		SELECT session_id, role, content, created_at FROM (
		    SELECT id, session_id, role, content, created_at
		    FROM chat_turns
		    WHERE user_id = $1 AND ($2 = '' OR session_id = $2)
		    ORDER BY id DESC
		    LIMIT $3
		) recent
		ORDER BY id ASC`
	rows, err := g.pool.Query(ctx, query, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("persist: list turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Turn, error) {
		var t Turn
		err := row.Scan(&t.SessionID, &t.Role, &t.Content, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("persist: list turns: %w", err)
	}
	return turns, nil
}
