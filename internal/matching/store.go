package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGStore is the PostgreSQL implementation of Store. The swipes table has a
// unique constraint on (from_user, to_user); the matches table has one on
// (user_lo, user_hi). Both constraints are relied on for correctness, not
// just integrity.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a matching store backed by the given database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// UpsertSwipe records the judgment with last-write-wins semantics.
func (s *PGStore) UpsertSwipe(ctx context.Context, sw Swipe) error {
	const query = `
		INSERT INTO swipes (from_user, to_user, action, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_user, to_user)
		DO UPDATE SET action = EXCLUDED.action, updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query, sw.FromUser, sw.ToUser, string(sw.Action), sw.UpdatedAt)
	if err != nil {
		return fmt.Errorf("matching: upsert swipe: %w", err)
	}
	return nil
}

// GetSwipe returns the stored judgment from one user about another, or nil.
func (s *PGStore) GetSwipe(ctx context.Context, from, to string) (*Swipe, error) {
	const query = `
		SELECT from_user, to_user, action, updated_at
		FROM swipes
		WHERE from_user = $1 AND to_user = $2`

	var sw Swipe
	var action string
	err := s.db.QueryRowContext(ctx, query, from, to).Scan(&sw.FromUser, &sw.ToUser, &action, &sw.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matching: get swipe: %w", err)
	}
	sw.Action = Action(action)
	return &sw, nil
}

// CreateMatch inserts the match unless the pair already has one. The ON
// CONFLICT DO NOTHING clause makes concurrent reciprocal creation race-safe:
// exactly one insert reports a row, the other reports zero and returns
// created=false with no error.
func (s *PGStore) CreateMatch(ctx context.Context, m Match) (bool, error) {
	const query = `
		INSERT INTO matches (id, user_lo, user_hi, last_message, last_message_at, created_at)
		VALUES ($1, $2, $3, '', $4, $5)
		ON CONFLICT (user_lo, user_hi) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, m.ID, m.UserLo, m.UserHi, m.LastMessageAt, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("matching: create match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("matching: create match rows: %w", err)
	}
	return n == 1, nil
}
