// Package conversation persists chat messages between matched users, tracks
// read state, and maintains each match's last-message cache. Read state is a
// consequence of the other party fetching the conversation, never of the
// sender sending it.
package conversation

import (
	"context"
	"time"

	"github.com/roarr/match-app/internal/directory"
	"github.com/roarr/match-app/internal/matching"
)

// MaxContentChars is the maximum message length in characters.
const MaxContentChars = 2000

// Message is a persisted chat message. Only the Read flag ever changes after
// insertion.
type Message struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"match_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageView is a message with the sender's display attributes, as returned
// to clients for immediate UI echo.
type MessageView struct {
	Message
	SenderName   string `json:"sender_name"`
	SenderAvatar string `json:"sender_avatar"`
}

// MatchView is a match with the counterpart's profile and live presence, as
// returned by the match and conversation listings.
type MatchView struct {
	ID            string            `json:"id"`
	Counterpart   directory.Profile `json:"counterpart"`
	Online        bool              `json:"online"`
	LastSeen      time.Time         `json:"last_seen,omitzero"`
	LastMessage   string            `json:"last_message"`
	LastMessageAt time.Time         `json:"last_message_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Store is the persistence surface of the conversation layer.
type Store interface {
	// GetMatch returns the match with the given id, or nil if absent.
	GetMatch(ctx context.Context, id string) (*matching.Match, error)

	// ListMatchesFor returns the user's matches sorted by last message time,
	// newest first.
	ListMatchesFor(ctx context.Context, userID string) ([]matching.Match, error)

	// ListConversationsFor is ListMatchesFor restricted to matches with a
	// non-empty last message.
	ListConversationsFor(ctx context.Context, userID string) ([]matching.Match, error)

	// ListMessages returns a match's messages ordered by creation time
	// ascending.
	ListMessages(ctx context.Context, matchID string) ([]Message, error)

	// MarkRead flips read=true on every unread message in the match that
	// was not authored by reader.
	MarkRead(ctx context.Context, matchID, reader string) error

	// InsertMessage persists a new message.
	InsertMessage(ctx context.Context, m Message) error

	// SetLastMessage updates the match's last-message cache.
	SetLastMessage(ctx context.Context, matchID, content string, at time.Time) error

	// DeleteMatch removes all of a match's messages and then the match
	// itself, atomically.
	DeleteMatch(ctx context.Context, matchID string) error
}

// PresenceSource reports whether a user currently holds a realtime
// connection. A nil source means presence is unknown and reported offline.
type PresenceSource interface {
	Online(ctx context.Context, userID string) (bool, time.Time, error)
}

// Notifier receives the message notification fan-out.
type Notifier interface {
	Notify(ctx context.Context, userID, typ, fromUser string) error
}

// Sanitizer cleans free-text content before persistence. It is supplied by
// an external collaborator and assumed to be a pure function.
type Sanitizer func(string) string
