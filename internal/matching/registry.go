package matching

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Registry detects mutual positive judgments and creates matches. Creation is
// idempotent: the store's uniqueness constraint on the canonical pair decides
// the winner when two reciprocal swipes race, so exactly one caller observes
// created=true and emits the match notifications.
type Registry struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewRegistry creates a Registry backed by the given store and notifier.
func NewRegistry(store Store, notifier Notifier) *Registry {
	return &Registry{store: store, notifier: notifier, now: time.Now}
}

// CheckAndCreateMatch checks whether target holds a positive judgment about
// actor and, if so, creates the match for the pair. It returns matched=false
// when there is no reciprocal positive judgment or when a match already
// exists (no duplicate match, no duplicate notifications).
func (r *Registry) CheckAndCreateMatch(ctx context.Context, actor, target string) (matched bool, matchID string, err error) {
	reciprocal, err := r.store.GetSwipe(ctx, target, actor)
	if err != nil {
		return false, "", fmt.Errorf("matching: reciprocal lookup: %w", err)
	}
	if reciprocal == nil || !reciprocal.Action.Positive() {
		return false, "", nil
	}

	lo, hi := OrderPair(actor, target)
	now := r.now().UTC()
	m := Match{
		ID:            uuid.New().String(),
		UserLo:        lo,
		UserHi:        hi,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	created, err := r.store.CreateMatch(ctx, m)
	if err != nil {
		return false, "", fmt.Errorf("matching: create match: %w", err)
	}
	if !created {
		// Match already exists for this pair; the earlier creation already
		// notified both users.
		return false, "", nil
	}

	if err := r.notifier.Notify(ctx, actor, "match", target); err != nil {
		log.Printf("[matching] match notification to %s failed: %v", actor, err)
	}
	if err := r.notifier.Notify(ctx, target, "match", actor); err != nil {
		log.Printf("[matching] match notification to %s failed: %v", target, err)
	}

	return true, m.ID, nil
}
