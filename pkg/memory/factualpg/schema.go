// Package factualpg provides a PostgreSQL-backed implementation of
// [memory.FactualProvider] on top of the pgvector extension.
//
// Every stored memory carries an embedding produced by the configured
// [embeddings.Provider]; Search orders by cosine distance over an HNSW index.
// All mutations are mirrored into a memory_history audit table so that
// History can reconstruct the life of a single memory.
package factualpg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlMemories returns the memory DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlMemories(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    category    TEXT         NOT NULL DEFAULT 'general',
    metadata    JSONB        NOT NULL DEFAULT '{}',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_user_id
    ON memories (user_id);

CREATE INDEX IF NOT EXISTS idx_memories_user_created
    ON memories (user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

const ddlHistory = `
CREATE TABLE IF NOT EXISTS memory_history (
    id          TEXT         PRIMARY KEY,
    memory_id   TEXT         NOT NULL,
    event       TEXT         NOT NULL,
    old_content TEXT         NOT NULL DEFAULT '',
    new_content TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_history_memory_id
    ON memory_history (memory_id, created_at);
`

// Migrate creates or ensures all required tables, indexes and the pgvector
// extension exist. It is idempotent and safe to call on every application
// start.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model. Changing this value after the first migration requires a
// manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMemories(embeddingDimensions),
		ddlHistory,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("factualpg migrate: %w", err)
		}
	}
	return nil
}
