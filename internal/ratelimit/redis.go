package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/soaringjerry/csat/internal/config"
)

// slidingWindow trims the sorted set to the window and adds the event only
// when the remaining count is below the limit.
// KEYS[1] key, ARGV now_ms, window_ms, limit, member.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return 1
end
return 0
`)

// RedisLimiter shares the window between processes through Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
	res, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key},
		now.UnixMilli(), l.window.Milliseconds(), l.limit, member).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return res == 1, nil
}

// Ping checks the connection at startup.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
