// Package matching turns directed swipe judgments into mutual matches. A
// swipe is an upsert keyed by the ordered pair (from, to) — only the latest
// judgment matters. A match is created when both directions hold a positive
// judgment, with a uniqueness constraint on the unordered pair serving as the
// serialization point for concurrent reciprocal swipes.
package matching

import (
	"context"
	"time"
)

// Action is a swipe judgment recorded by one user about another.
type Action string

const (
	ActionLike      Action = "like"
	ActionDislike   Action = "dislike"
	ActionSuperlike Action = "superlike"
)

// Valid reports whether the action is one of the recognized judgments.
func (a Action) Valid() bool {
	switch a {
	case ActionLike, ActionDislike, ActionSuperlike:
		return true
	}
	return false
}

// Positive reports whether the action counts toward a mutual match.
func (a Action) Positive() bool {
	return a == ActionLike || a == ActionSuperlike
}

// Swipe is the latest judgment from one user about another. At most one
// record exists per ordered (FromUser, ToUser) pair.
type Swipe struct {
	FromUser  string
	ToUser    string
	Action    Action
	UpdatedAt time.Time
}

// Match is a mutually-positive pairing. The user pair is stored in canonical
// order (UserLo < UserHi) so the unordered pair maps to exactly one row.
// LastMessage and LastMessageAt are the only mutable fields, updated by the
// conversation layer on every new message.
type Match struct {
	ID            string
	UserLo        string
	UserHi        string
	LastMessage   string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// HasUser reports whether id is one of the match's two users.
func (m *Match) HasUser(id string) bool {
	return id == m.UserLo || id == m.UserHi
}

// OtherUser returns the counterpart of id, or "" if id is not a member.
func (m *Match) OtherUser(id string) string {
	switch id {
	case m.UserLo:
		return m.UserHi
	case m.UserHi:
		return m.UserLo
	}
	return ""
}

// OrderPair returns the two user ids in canonical order.
func OrderPair(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Store is the persistence surface the swipe processor and match registry
// need. Implementations must enforce uniqueness on the ordered swipe pair and
// on the canonical match pair.
type Store interface {
	// UpsertSwipe records the judgment, replacing any prior judgment for
	// the same (FromUser, ToUser) pair.
	UpsertSwipe(ctx context.Context, s Swipe) error

	// GetSwipe returns the stored judgment from one user about another, or
	// nil if none exists.
	GetSwipe(ctx context.Context, from, to string) (*Swipe, error)

	// CreateMatch inserts the match unless one already exists for the
	// canonical pair. It returns false (and no error) when the pair already
	// has a match — the conflict is an expected no-op, not a failure.
	CreateMatch(ctx context.Context, m Match) (created bool, err error)
}

// Notifier receives notification fan-out from swipe and match events.
type Notifier interface {
	Notify(ctx context.Context, userID, typ, fromUser string) error
}
