// Package directory provides read-only access to user display attributes.
// Profile records are owned by the external profile service; this package
// only reads the users table to populate counterpart and sender attributes
// on matches, messages, and notifications.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Profile is the display subset of a user record.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

// Source resolves user ids to display profiles.
type Source interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error)
}

// PGStore reads profiles from PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a directory store backed by the given database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// GetProfile returns the profile for a user id, or nil if the user does not
// exist.
func (s *PGStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	const query = `SELECT id, display_name, avatar FROM users WHERE id = $1`

	var p Profile
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.DisplayName, &p.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get profile: %w", err)
	}
	return &p, nil
}

// GetProfiles returns the profiles for the given ids, keyed by id. Missing
// users are simply absent from the result.
func (s *PGStore) GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `SELECT id, display_name, avatar FROM users WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("directory: get profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Avatar); err != nil {
			return nil, fmt.Errorf("directory: scan profile: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterate profiles: %w", err)
	}
	return out, nil
}
