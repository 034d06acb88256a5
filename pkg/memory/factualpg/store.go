package factualpg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/mnemoxa/pkg/memory"
	"github.com/MrWong99/mnemoxa/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ memory.FactualProvider = (*Store)(nil)

// Store is the pgvector-backed factual memory provider. It holds a single
// [pgxpool.Pool] plus the embedding provider used to vectorize content on
// write and queries on read. All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection
// and runs [Migrate]. The embedding dimension is taken from embedder.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("factual store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("factual store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("factual store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("factual store: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// AppendMessages implements [memory.FactualProvider]. Every turn is stored as
// an individual "conversation" memory owned by userID so that later semantic
// searches can surface verbatim statements from past conversations.
func (s *Store) AppendMessages(ctx context.Context, userID string, turns []memory.ConversationTurn, metadata map[string]string) error {
	if len(turns) == 0 {
		return nil
	}

	texts := make([]string, len(turns))
	for i, turn := range turns {
		texts[i] = turn.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("factual store: embed turns: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("factual store: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, turn := range turns {
		if err := insertMemory(ctx, tx, userID, turn.Content, memory.CategoryConversation, metadata, vectors[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("factual store: commit append: %w", err)
	}
	return nil
}

// AddFact implements [memory.FactualProvider]. The category is taken from
// metadata["type"] when present, defaulting to "general".
func (s *Store) AddFact(ctx context.Context, userID, content string, metadata map[string]string) error {
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("factual store: embed fact: %w", err)
	}

	category := memory.CategoryGeneral
	if metadata != nil && metadata["type"] != "" {
		category = metadata["type"]
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("factual store: begin add fact: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertMemory(ctx, tx, userID, content, category, metadata, vector); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("factual store: commit add fact: %w", err)
	}
	return nil
}

// insertMemory writes one memory row plus its "add" audit record inside tx.
func insertMemory(ctx context.Context, tx pgx.Tx, userID, content, category string, metadata map[string]string, vector []float32) error {
	const insert = `
		INSERT INTO memories (id, user_id, content, category, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`
	const audit = `
		INSERT INTO memory_history (id, memory_id, event, new_content)
		VALUES ($1, $2, 'add', $3)`

	if metadata == nil {
		metadata = map[string]string{}
	}

	id := uuid.NewString()
	if _, err := tx.Exec(ctx, insert, id, userID, content, category, metadata, pgvector.NewVector(vector)); err != nil {
		return fmt.Errorf("factual store: insert memory: %w", err)
	}
	if _, err := tx.Exec(ctx, audit, uuid.NewString(), id, content); err != nil {
		return fmt.Errorf("factual store: insert history: %w", err)
	}
	return nil
}

// Search implements [memory.FactualProvider]. It embeds the query and returns
// the user's closest memories by cosine distance; Score is reported as
// 1 - distance so that higher means more similar.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]memory.Fact, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("factual store: embed query: %w", err)
	}

	const q = `
		SELECT id, user_id, content, category, metadata, created_at, updated_at,
		       1 - (embedding <=> $2) AS score
		FROM   memories
		WHERE  user_id = $1
		ORDER  BY embedding <=> $2
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, userID, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("factual store: search: %w", err)
	}
	return collectFacts(rows, true)
}

// ListAll implements [memory.FactualProvider]. Pages are 1-based and ordered
// by creation time (oldest first) for stable pagination.
func (s *Store) ListAll(ctx context.Context, userID string, page, pageSize int) ([]memory.Fact, error) {
	if page < 1 {
		page = 1
	}

	const q = `
		SELECT id, user_id, content, category, metadata, created_at, updated_at
		FROM   memories
		WHERE  user_id = $1
		ORDER  BY created_at, id
		LIMIT  $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, q, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("factual store: list all: %w", err)
	}
	return collectFacts(rows, false)
}

// GetByID implements [memory.FactualProvider].
func (s *Store) GetByID(ctx context.Context, memoryID string) (*memory.Fact, error) {
	const q = `
		SELECT id, user_id, content, category, metadata, created_at, updated_at
		FROM   memories
		WHERE  id = $1`

	var f memory.Fact
	err := s.pool.QueryRow(ctx, q, memoryID).Scan(
		&f.ID, &f.UserID, &f.Content, &f.Category, &f.Metadata, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("factual store: memory %q: %w", memoryID, memory.ErrNotFound)
		}
		return nil, fmt.Errorf("factual store: get by id: %w", err)
	}
	return &f, nil
}

// History implements [memory.FactualProvider]. Records are returned oldest
// first.
func (s *Store) History(ctx context.Context, memoryID string) ([]memory.ChangeRecord, error) {
	const q = `
		SELECT id, memory_id, event, old_content, new_content, created_at
		FROM   memory_history
		WHERE  memory_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, memoryID)
	if err != nil {
		return nil, fmt.Errorf("factual store: history: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ChangeRecord, error) {
		var r memory.ChangeRecord
		err := row.Scan(&r.ID, &r.MemoryID, &r.Event, &r.OldContent, &r.NewContent, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("factual store: scan history: %w", err)
	}
	if records == nil {
		records = []memory.ChangeRecord{}
	}
	return records, nil
}

// collectFacts scans pgx rows into a slice of Fact values. withScore selects
// between the search projection (with trailing score column) and the plain
// listing projection.
func collectFacts(rows pgx.Rows, withScore bool) ([]memory.Fact, error) {
	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Fact, error) {
		var f memory.Fact
		dest := []any{&f.ID, &f.UserID, &f.Content, &f.Category, &f.Metadata, &f.CreatedAt, &f.UpdatedAt}
		if withScore {
			dest = append(dest, &f.Score)
		}
		if err := row.Scan(dest...); err != nil {
			return memory.Fact{}, err
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("factual store: scan rows: %w", err)
	}
	if facts == nil {
		facts = []memory.Fact{}
	}
	return facts, nil
}
