package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roarr/match-app/internal/matching"
)

// PGStore is the PostgreSQL implementation of Store.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a conversation store backed by the given database
// handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// GetMatch returns the match with the given id, or nil if absent.
func (s *PGStore) GetMatch(ctx context.Context, id string) (*matching.Match, error) {
	const query = `
		SELECT id, user_lo, user_hi, last_message, last_message_at, created_at
		FROM matches WHERE id = $1`

	var m matching.Match
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.UserLo, &m.UserHi, &m.LastMessage, &m.LastMessageAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get match: %w", err)
	}
	return &m, nil
}

func (s *PGStore) listMatches(ctx context.Context, userID string, withMessageOnly bool) ([]matching.Match, error) {
	query := `
		SELECT id, user_lo, user_hi, last_message, last_message_at, created_at
		FROM matches
		WHERE (user_lo = $1 OR user_hi = $1)`
	if withMessageOnly {
		query += ` AND last_message <> ''`
	}
	query += ` ORDER BY last_message_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list matches: %w", err)
	}
	defer rows.Close()

	var out []matching.Match
	for rows.Next() {
		var m matching.Match
		if err := rows.Scan(&m.ID, &m.UserLo, &m.UserHi, &m.LastMessage, &m.LastMessageAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate matches: %w", err)
	}
	return out, nil
}

// ListMatchesFor returns the user's matches, newest activity first.
func (s *PGStore) ListMatchesFor(ctx context.Context, userID string) ([]matching.Match, error) {
	return s.listMatches(ctx, userID, false)
}

// ListConversationsFor returns the user's matches with a non-empty last
// message, newest activity first.
func (s *PGStore) ListConversationsFor(ctx context.Context, userID string) ([]matching.Match, error) {
	return s.listMatches(ctx, userID, true)
}

// ListMessages returns a match's messages ordered by creation time ascending.
func (s *PGStore) ListMessages(ctx context.Context, matchID string) ([]Message, error) {
	const query = `
		SELECT id, match_id, sender, content, read, created_at
		FROM messages
		WHERE match_id = $1
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MatchID, &m.Sender, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate messages: %w", err)
	}
	return out, nil
}

// MarkRead flips read=true on the other party's unread messages.
func (s *PGStore) MarkRead(ctx context.Context, matchID, reader string) error {
	const query = `
		UPDATE messages SET read = TRUE
		WHERE match_id = $1 AND sender <> $2 AND read = FALSE`

	if _, err := s.db.ExecContext(ctx, query, matchID, reader); err != nil {
		return fmt.Errorf("conversation: mark read: %w", err)
	}
	return nil
}

// InsertMessage persists a new message.
func (s *PGStore) InsertMessage(ctx context.Context, m Message) error {
	const query = `
		INSERT INTO messages (id, match_id, sender, content, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query, m.ID, m.MatchID, m.Sender, m.Content, m.Read, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("conversation: insert message: %w", err)
	}
	return nil
}

// SetLastMessage updates the match's last-message cache.
func (s *PGStore) SetLastMessage(ctx context.Context, matchID, content string, at time.Time) error {
	const query = `
		UPDATE matches SET last_message = $2, last_message_at = $3
		WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, matchID, content, at); err != nil {
		return fmt.Errorf("conversation: set last message: %w", err)
	}
	return nil
}

// DeleteMatch deletes the match's messages and then the match itself in a
// single transaction.
func (s *PGStore) DeleteMatch(ctx context.Context, matchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE match_id = $1`, matchID); err != nil {
		return fmt.Errorf("conversation: delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, matchID); err != nil {
		return fmt.Errorf("conversation: delete match: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit delete: %w", err)
	}
	return nil
}
