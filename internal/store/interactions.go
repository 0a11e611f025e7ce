package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// InteractionStore persists the raw interaction log in SQLite.
// Reflection reads unprocessed rows in insertion order and marks them
// processed once their synthesis has been applied.
type InteractionStore struct {
	db *DB
}

var _ domain.InteractionStore = (*InteractionStore)(nil)

func NewInteractionStore(db *DB) *InteractionStore {
	return &InteractionStore{db: db}
}

func (s *InteractionStore) Append(ctx context.Context, in *domain.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, session_id, user_message, agent_response, processed, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		in.ID, in.SessionID, in.UserMessage, in.AgentResponse, in.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

func (s *InteractionStore) Unprocessed(ctx context.Context, limit int) ([]*domain.Interaction, error) {
	return s.query(ctx,
		`SELECT id, session_id, user_message, agent_response, created_at
		 FROM interactions WHERE processed = 0
		 ORDER BY created_at, id
		 LIMIT ?`, limit)
}

// Recent returns the newest interactions, processed or not.
func (s *InteractionStore) Recent(ctx context.Context, limit int) ([]*domain.Interaction, error) {
	return s.query(ctx,
		`SELECT id, session_id, user_message, agent_response, created_at
		 FROM interactions
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, limit)
}

// BySession returns a session's interactions in insertion order.
func (s *InteractionStore) BySession(ctx context.Context, sessionID string) ([]*domain.Interaction, error) {
	return s.query(ctx,
		`SELECT id, session_id, user_message, agent_response, created_at
		 FROM interactions WHERE session_id = ?
		 ORDER BY created_at, id`, sessionID)
}

func (s *InteractionStore) query(ctx context.Context, q string, args ...any) ([]*domain.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		var createdMs int64
		if err := rows.Scan(&in.ID, &in.SessionID, &in.UserMessage, &in.AgentResponse, &createdMs); err != nil {
			return nil, err
		}
		in.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, &in)
	}
	return out, rows.Err()
}

func (s *InteractionStore) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE interactions SET processed = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("mark processed %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *InteractionStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`).Scan(&n)
	return n, err
}

func (s *InteractionStore) UnprocessedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE processed = 0`).Scan(&n)
	return n, err
}

func (s *InteractionStore) Close() error {
	return s.db.Close()
}
