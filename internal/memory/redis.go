package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a Redis-backed conversation store for multi-instance
// deployments or where history must survive a supervisor restart: a
// per-user list key holding JSON-encoded turns, trimmed to a sliding
// window on every append and refreshed with a TTL, all inside one
// pipelined round trip.
type RedisStore struct {
	client    *redis.Client
	retention int64
	ttl       time.Duration
}

// RedisConfig configures the sliding window and expiry applied to every
// user's conversation key.
type RedisConfig struct {
	Retention int64
	TTL       time.Duration
}

// DefaultRedisConfig mirrors the in-memory store's retention and expires
// idle conversations after 24h.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Retention: defaultRetention, TTL: 24 * time.Hour}
}

// NewRedisStore connects to redisURL (a redis:// or rediss:// URL) and
// returns a store ready for use.
func NewRedisStore(redisURL string, cfg RedisConfig) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("memory: invalid redis url: %w", err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisConfig().TTL
	}
	return &RedisStore{
		client:    redis.NewClient(opt),
		retention: cfg.Retention,
		ttl:       cfg.TTL,
	}, nil
}

func (s *RedisStore) key(userID string) string {
	return "supervisor:conversation:" + userID
}

// Append pushes the turn onto the user's list, trims it to the retention
// window, and refreshes the key's TTL, all in one pipeline exec.
func (s *RedisStore) Append(ctx context.Context, userID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("memory: encoding turn: %w", err)
	}

	key := s.key(userID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.retention, -1)
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("memory: appending turn: %w", err)
	}
	return nil
}

// History returns the most recent limit turns, oldest first.
func (s *RedisStore) History(ctx context.Context, userID string, limit int) ([]Turn, error) {
	key := s.key(userID)

	var start int64
	if limit <= 0 {
		start = 0
	} else {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: reading history: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Summary mirrors InMemoryStore.Summary's digest so callers don't need to
// branch on which backend is active.
func (s *RedisStore) Summary(ctx context.Context, userID string) (Summary, error) {
	turns, err := s.History(ctx, userID, 0)
	if err != nil {
		return Summary{}, err
	}
	return summarize(turns), nil
}

// Clear deletes the user's conversation key outright.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("memory: clearing history: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
