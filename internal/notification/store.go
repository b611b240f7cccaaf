package notification

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PGStore persists notifications in Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, from_user, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Type, n.FromUser, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}
	return nil
}

func (s *PGStore) ListFor(ctx context.Context, userID string, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, from_user, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("notification: query: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.FromUser, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PGStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notification: count unread: %w", err)
	}
	return count, nil
}

func (s *PGStore) MarkRead(ctx context.Context, userID string, ids []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE user_id = $1 AND id = ANY($2)`,
		userID, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	return nil
}

func (s *PGStore) MarkAllRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE user_id = $1 AND read = FALSE`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("notification: mark all read: %w", err)
	}
	return nil
}
