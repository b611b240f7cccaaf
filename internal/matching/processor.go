package matching

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/roarr/match-app/internal/apperr"
	"github.com/roarr/match-app/internal/ratelimit"
)

// Result is the outcome of a recorded swipe.
type Result struct {
	Matched bool
	MatchID string
}

// Processor validates and records swipes and triggers match detection.
type Processor struct {
	store    Store
	registry *Registry
	notifier Notifier
	limiter  *ratelimit.Limiter
	now      func() time.Time
}

// NewProcessor creates a swipe processor.
func NewProcessor(store Store, registry *Registry, notifier Notifier, limiter *ratelimit.Limiter) *Processor {
	return &Processor{
		store:    store,
		registry: registry,
		notifier: notifier,
		limiter:  limiter,
		now:      time.Now,
	}
}

// RecordSwipe records actor's judgment about target and returns whether it
// completed a mutual match. The rate limit is checked before any validation
// or write. A repeated swipe on the same target replaces the stored judgment.
func (p *Processor) RecordSwipe(ctx context.Context, actor, target string, action Action) (Result, error) {
	if !p.limiter.Allow(actor, ratelimit.RuleSwipe) {
		return Result{}, apperr.RateLimited("too many swipes")
	}

	if actor == target {
		return Result{}, apperr.InvalidInput("cannot swipe on yourself")
	}
	if _, err := uuid.Parse(target); err != nil {
		return Result{}, apperr.InvalidInput("invalid user id")
	}
	if !action.Valid() {
		return Result{}, apperr.InvalidInput("invalid action")
	}

	s := Swipe{
		FromUser:  actor,
		ToUser:    target,
		Action:    action,
		UpdatedAt: p.now().UTC(),
	}
	if err := p.store.UpsertSwipe(ctx, s); err != nil {
		return Result{}, fmt.Errorf("matching: upsert swipe: %w", err)
	}

	if action == ActionSuperlike {
		if err := p.notifier.Notify(ctx, target, "superlike", actor); err != nil {
			log.Printf("[matching] superlike notification to %s failed: %v", target, err)
		}
	}

	if !action.Positive() {
		return Result{}, nil
	}

	matched, matchID, err := p.registry.CheckAndCreateMatch(ctx, actor, target)
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: matched, MatchID: matchID}, nil
}
