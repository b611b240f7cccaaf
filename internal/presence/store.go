// Package presence tracks which users currently hold a realtime connection
// and when they were last seen, backed by Redis so every server instance
// sees the same view.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// TTL is the time-to-live for presence keys. A key that is not
	// refreshed by the heartbeat sweep ages out on its own.
	TTL = 5 * time.Minute
)

// Record is a user's presence state stored in Redis.
type Record struct {
	UserID   string `redis:"user_id"`
	Online   bool   `redis:"online"`
	Server   string `redis:"server"` // which realtime server holds the connection
	LastSeen int64  `redis:"last_seen"`
}

// Store manages presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// SetOnline marks a user online on this server and refreshes the TTL.
func (s *Store) SetOnline(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	record := map[string]interface{}{
		"user_id":   userID,
		"online":    true,
		"server":    s.serverName,
		"last_seen": time.Now().Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline marks a user offline but keeps the last-seen timestamp so
// conversation listings can still show it.
func (s *Store) SetOffline(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "online", false, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh extends the TTL and bumps last_seen for a live connection.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a user's presence record. Returns nil when the user has no
// record, which reads as offline with no last-seen.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	key := KeyPrefix + userID
	var record Record
	err := s.client.HGetAll(ctx, key).Scan(&record)
	if err != nil {
		return nil, err
	}
	if record.UserID == "" {
		return nil, nil
	}
	return &record, nil
}

// Online reports whether the user currently holds a connection along with
// the last time they were seen. It satisfies the conversation layer's
// presence source.
func (s *Store) Online(ctx context.Context, userID string) (bool, time.Time, error) {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return false, time.Time{}, err
	}
	if record == nil {
		return false, time.Time{}, nil
	}
	return record.Online, time.Unix(record.LastSeen, 0).UTC(), nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
