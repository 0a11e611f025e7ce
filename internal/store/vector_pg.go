package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// PgVectorIndex backs the similarity index with Postgres and
// pgvector. Embedding happens on write and on query; Postgres does
// the ranking.
type PgVectorIndex struct {
	db       *pgxpool.Pool
	embedder domain.EmbeddingClient
}

var _ domain.VectorIndex = (*PgVectorIndex)(nil)

func NewPgVectorIndex(ctx context.Context, databaseURL string, embedder domain.EmbeddingClient) (*PgVectorIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx := &PgVectorIndex{db: pool, embedder: embedder}
	if err := idx.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (s *PgVectorIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_items (
			collection TEXT NOT NULL,
			item_id    TEXT NOT NULL,
			text       TEXT NOT NULL,
			embedding  vector(%d),
			metadata   JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, item_id)
		)`, s.embedder.Dimensions()),
		`CREATE INDEX IF NOT EXISTS idx_vector_items_collection ON vector_items (collection)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate vector_items: %w", err)
		}
	}
	return nil
}

func (s *PgVectorIndex) Index(ctx context.Context, collection, itemID, text string, meta map[string]string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed %q: %w", itemID, err)
	}
	var metaJSON []byte
	if len(meta) > 0 {
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return err
		}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO vector_items (collection, item_id, text, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (collection, item_id) DO UPDATE SET
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		collection, itemID, text, pgvector.NewVector(vec), metaJSON)
	if err != nil {
		return fmt.Errorf("index %q: %w", itemID, err)
	}
	return nil
}

func (s *PgVectorIndex) Similar(ctx context.Context, collection, text string, topK int, threshold float64) ([]domain.VectorMatch, error) {
	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	rows, err := s.db.Query(ctx,
		`SELECT item_id, text, metadata, 1 - (embedding <=> $1) AS score
		 FROM vector_items
		 WHERE collection = $2 AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		pgvector.NewVector(query), collection, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", collection, err)
	}
	defer rows.Close()

	var matches []domain.VectorMatch
	for rows.Next() {
		var m domain.VectorMatch
		var metaJSON []byte
		if err := rows.Scan(&m.ItemID, &m.Text, &metaJSON, &m.Similarity); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("metadata for %q: %w", m.ItemID, err)
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PgVectorIndex) Remove(ctx context.Context, collection, itemID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM vector_items WHERE collection = $1 AND item_id = $2`,
		collection, itemID)
	return err
}

func (s *PgVectorIndex) Close() error {
	s.db.Close()
	return nil
}
