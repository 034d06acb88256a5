// Package temporalpg provides a PostgreSQL-backed implementation of
// [memory.TemporalProvider]: users, sessions, the per-session conversation
// transcript and a per-user fact graph with full-text search.
//
// The transcript table carries a GIN full-text index so that SearchGraph can
// rank stored facts with ts_rank without requiring an embedding model. Each
// session additionally maintains a rolling context summary that is refreshed
// on every append.
//
// Usage:
//
//	store, err := temporalpg.NewStore(ctx, dsn)
//	if err != nil { … }
//
//	_ = store.CreateSession(ctx, sessionID, userID)
//	_ = store.AppendMessages(ctx, sessionID, turns)
//	mem, _ := store.SessionMemory(ctx, sessionID)
package temporalpg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — users, sessions, transcript
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS temporal_users (
    id          TEXT         PRIMARY KEY,
    email       TEXT         NOT NULL DEFAULT '',
    first_name  TEXT         NOT NULL DEFAULT '',
    last_name   TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS temporal_sessions (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL REFERENCES temporal_users (id) ON DELETE CASCADE,
    summary     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_temporal_sessions_user_id
    ON temporal_sessions (user_id);

CREATE TABLE IF NOT EXISTS temporal_messages (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES temporal_sessions (id) ON DELETE CASCADE,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_temporal_messages_session_timestamp
    ON temporal_messages (session_id, timestamp);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — fact graph
// ─────────────────────────────────────────────────────────────────────────────

const ddlGraphFacts = `
CREATE TABLE IF NOT EXISTS graph_facts (
    id          BIGSERIAL    PRIMARY KEY,
    user_id     TEXT         NOT NULL REFERENCES temporal_users (id) ON DELETE CASCADE,
    fact        TEXT         NOT NULL,
    confidence  REAL         NOT NULL DEFAULT 0.5,
    source      TEXT         NOT NULL DEFAULT 'message',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_graph_facts_user_id
    ON graph_facts (user_id);

CREATE INDEX IF NOT EXISTS idx_graph_facts_fts
    ON graph_facts USING GIN (to_tsvector('english', fact));
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSessions,
		ddlGraphFacts,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("temporalpg migrate: %w", err)
		}
	}
	return nil
}
