package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStoreWithClient(client, "rt-test-1"), mr
}

func TestOnline_UnknownUser(t *testing.T) {
	store, _ := newTestStore(t)

	online, lastSeen, err := store.Online(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if online {
		t.Error("unknown user must read as offline")
	}
	if !lastSeen.IsZero() {
		t.Errorf("unknown user has no last-seen, got %v", lastSeen)
	}
}

func TestSetOnlineThenOffline(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New().String()

	if err := store.SetOnline(ctx, userID); err != nil {
		t.Fatalf("set online: %v", err)
	}
	online, lastSeen, err := store.Online(ctx, userID)
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if !online {
		t.Error("user should be online")
	}
	if lastSeen.IsZero() {
		t.Error("last-seen should be set")
	}

	record, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Server != "rt-test-1" {
		t.Errorf("server = %q, want rt-test-1", record.Server)
	}

	if err := store.SetOffline(ctx, userID); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	online, lastSeen, err = store.Online(ctx, userID)
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if online {
		t.Error("user should be offline")
	}
	if lastSeen.IsZero() {
		t.Error("last-seen survives going offline")
	}
}

func TestPresence_TTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New().String()

	if err := store.SetOnline(ctx, userID); err != nil {
		t.Fatalf("set online: %v", err)
	}

	mr.FastForward(TTL + time.Second)

	online, _, err := store.Online(ctx, userID)
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if online {
		t.Error("record should age out after the TTL")
	}
}

func TestRefresh_ExtendsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New().String()

	if err := store.SetOnline(ctx, userID); err != nil {
		t.Fatalf("set online: %v", err)
	}

	mr.FastForward(TTL - time.Minute)
	if err := store.Refresh(ctx, userID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mr.FastForward(TTL - time.Minute)

	online, _, err := store.Online(ctx, userID)
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if !online {
		t.Error("refreshed record should survive past the original TTL")
	}
}
