package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/roarr/match-app/internal/apperr"
	"github.com/roarr/match-app/internal/directory"
)

// Fanout writes notifications and serves the per-user feed.
type Fanout struct {
	store    Store
	profiles directory.Source
	publish  Publisher
	now      func() time.Time
}

func NewFanout(store Store, profiles directory.Source, publish Publisher) *Fanout {
	return &Fanout{
		store:    store,
		profiles: profiles,
		publish:  publish,
		now:      time.Now,
	}
}

// Notify appends a notification to userID's feed and, when a publisher is
// wired, pushes it to any live realtime session.
func (f *Fanout) Notify(ctx context.Context, userID, typ, fromUser string) error {
	if !validType(typ) {
		return apperr.InvalidInput(fmt.Sprintf("unknown notification type %q", typ))
	}

	n := Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		FromUser:  fromUser,
		CreatedAt: f.now().UTC(),
	}
	if err := f.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}

	if f.publish != nil {
		f.publish(ctx, userID, f.view(ctx, n))
	}
	return nil
}

// ListFor returns the newest notifications for userID, capped at ListLimit,
// together with the total unread count.
func (f *Fanout) ListFor(ctx context.Context, userID string) (*Feed, error) {
	rows, err := f.store.ListFor(ctx, userID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}
	unread, err := f.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("notification: count unread: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, n := range rows {
		ids = append(ids, n.FromUser)
	}
	profiles, err := f.profiles.GetProfiles(ctx, ids)
	if err != nil {
		log.Printf("[notification] resolve profiles for %s: %v", userID, err)
		profiles = nil
	}

	views := make([]View, 0, len(rows))
	for _, n := range rows {
		v := View{Notification: n}
		if p, ok := profiles[n.FromUser]; ok {
			v.FromName = p.DisplayName
			v.FromAvatar = p.Avatar
		}
		views = append(views, v)
	}
	return &Feed{Notifications: views, UnreadCount: unread}, nil
}

// MarkRead marks the given notifications read. An empty ids slice marks the
// whole feed read. Notifications owned by other users are left untouched.
func (f *Fanout) MarkRead(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		if err := f.store.MarkAllRead(ctx, userID); err != nil {
			return fmt.Errorf("notification: mark all read: %w", err)
		}
		return nil
	}
	if err := f.store.MarkRead(ctx, userID, ids); err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	return nil
}

func (f *Fanout) view(ctx context.Context, n Notification) View {
	v := View{Notification: n}
	p, err := f.profiles.GetProfile(ctx, n.FromUser)
	if err != nil {
		log.Printf("[notification] resolve profile %s: %v", n.FromUser, err)
		return v
	}
	if p != nil {
		v.FromName = p.DisplayName
		v.FromAvatar = p.Avatar
	}
	return v
}
