package matching

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roarr/match-app/internal/store"
)

// openTestDB connects to the database named by TEST_DATABASE_URL and runs
// the migrations. Tests that need it are skipped when the variable is unset.
func openTestDB(t *testing.T) *PGStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := store.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPGStore(db)
}

func TestPGStore_SwipeUpsert(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	from, to := uuid.New().String(), uuid.New().String()

	if err := s.UpsertSwipe(ctx, Swipe{FromUser: from, ToUser: to, Action: ActionLike, UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertSwipe(ctx, Swipe{FromUser: from, ToUser: to, Action: ActionDislike, UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetSwipe(ctx, from, to)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Action != ActionDislike {
		t.Fatalf("swipe = %+v, want latest judgment dislike", got)
	}

	missing, err := s.GetSwipe(ctx, to, from)
	if err != nil {
		t.Fatalf("get reverse: %v", err)
	}
	if missing != nil {
		t.Fatalf("reverse swipe = %+v, want nil", missing)
	}
}

func TestPGStore_CreateMatchConcurrent(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	lo, hi := OrderPair(uuid.New().String(), uuid.New().String())
	now := time.Now().UTC()

	// Concurrent reciprocal swipes both attempt the insert; the unique
	// constraint must let exactly one through.
	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.CreateMatch(ctx, Match{
				ID:            uuid.New().String(),
				UserLo:        lo,
				UserHi:        hi,
				LastMessageAt: now,
				CreatedAt:     now,
			})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			results <- created
		}()
	}
	wg.Wait()
	close(results)

	createdCount := 0
	for created := range results {
		if created {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Fatalf("created %d matches for the same pair, want exactly 1", createdCount)
	}
}
