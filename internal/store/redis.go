package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mhelail/real-time-communication-platform/internal/metrics"
)

const presenceTTL = 7 * 24 * time.Hour

// Presence is a user's last known online state.
type Presence struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// RedisStore handles Redis operations for presence and rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client for components that share the
// connection, such as the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// presenceKey returns the key for a user's presence record.
func presenceKey(username string) string {
	return fmt.Sprintf("presence:%s", username)
}

const onlineSetKey = "presence:online"

// SetUserPresence records whether a user is currently reachable and when it
// was last seen. Last write wins; callers treat this as best-effort.
func (s *RedisStore) SetUserPresence(ctx context.Context, username string, online bool, lastSeen time.Time) error {
	data, err := json.Marshal(Presence{Online: online, LastSeen: lastSeen})
	if err != nil {
		return err
	}

	start := time.Now()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, presenceKey(username), string(data), presenceTTL)
	if online {
		pipe.SAdd(ctx, onlineSetKey, username)
	} else {
		pipe.SRem(ctx, onlineSetKey, username)
	}
	_, err = pipe.Exec(ctx)
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}

// GetUserPresence retrieves a user's presence record. Returns nil if the user
// has never been seen.
func (s *RedisStore) GetUserPresence(ctx context.Context, username string) (*Presence, error) {
	start := time.Now()
	data, err := s.client.Get(ctx, presenceKey(username)).Result()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var p Presence
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// OnlineUsers returns the usernames currently marked online.
func (s *RedisStore) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, onlineSetKey).Result()
}

// CountOnline returns the number of users currently marked online.
func (s *RedisStore) CountOnline(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, onlineSetKey).Result()
}
