package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "nathy:history:"
	// DefaultTTL expires idle conversations.
	DefaultTTL = 24 * time.Hour
)

// RedisHistory stores each user's turns in a capped Redis list of JSON values.
type RedisHistory struct {
	client   redis.UniversalClient
	capacity int
	ttl      time.Duration
}

// NewRedis connects to url (redis:// or rediss://) and verifies it with PING.
func NewRedis(ctx context.Context, url string, capacity int) (*RedisHistory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis history: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis history: ping: %w", err)
	}
	return NewRedisWithClient(client, capacity, DefaultTTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, capacity int, ttl time.Duration) *RedisHistory {
	if capacity < 0 {
		capacity = 0
	}
	return &RedisHistory{client: client, capacity: capacity, ttl: ttl}
}

func key(userID string) string { return redisKeyPrefix + userID }

func (h *RedisHistory) Append(ctx context.Context, userID string, turns ...Turn) error {
	if h.capacity == 0 || len(turns) == 0 {
		return nil
	}
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("redis history: encode turn: %w", err)
		}
		values = append(values, b)
	}

	k := key(userID)
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, values...)
		pipe.LTrim(ctx, k, int64(-h.capacity), -1)
		if h.ttl > 0 {
			pipe.Expire(ctx, k, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis history: append: %w", err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, userID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := h.client.LRange(ctx, key(userID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history: recent: %w", err)
	}
	out := make([]Turn, 0, len(raw))
	for _, r := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("redis history: decode turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (h *RedisHistory) Clear(ctx context.Context, userID string) error {
	if err := h.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("redis history: clear: %w", err)
	}
	return nil
}

func (h *RedisHistory) Close() error {
	return h.client.Close()
}
