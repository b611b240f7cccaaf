// Package notification persists and fans out in-app notifications for
// match, message and superlike events.
package notification

import (
	"context"
	"time"
)

// Notification types. Anything else is rejected at write time.
const (
	TypeMatch     = "match"
	TypeMessage   = "message"
	TypeSuperlike = "superlike"
)

// ListLimit caps how many notifications a single fetch returns.
const ListLimit = 50

// Notification is one row in a user's notification feed.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	FromUser  string    `json:"from_user"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// View is a Notification with the originating user's display attributes
// resolved.
type View struct {
	Notification
	FromName   string `json:"from_name,omitempty"`
	FromAvatar string `json:"from_avatar,omitempty"`
}

// Feed is what the notifications endpoint returns.
type Feed struct {
	Notifications []View `json:"notifications"`
	UnreadCount   int    `json:"unread_count"`
}

// Store is the persistence surface the fanout needs.
type Store interface {
	Insert(ctx context.Context, n Notification) error
	// ListFor returns the newest notifications for a user, at most limit.
	ListFor(ctx context.Context, userID string, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkRead flips the given notifications read, scoped to the owner.
	MarkRead(ctx context.Context, userID string, ids []string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// Publisher pushes a freshly written notification to a connected client.
// Delivery is best effort; the feed remains the system of record.
type Publisher func(ctx context.Context, userID string, n View)

func validType(typ string) bool {
	switch typ {
	case TypeMatch, TypeMessage, TypeSuperlike:
		return true
	}
	return false
}
