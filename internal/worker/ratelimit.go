package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storyraise/newsletter-service/internal/pkg/logger"
)

// RateLimiter provides atomic per-second send rate limiting using a Redis
// Lua script. A GET then INCR pattern races under concurrent workers; the
// script checks and increments in one round trip.
type RateLimiter struct {
	redis       *redis.Client
	limitScript *redis.Script
	perSecond   int
}

// Atomically checks the per-second counter and only increments when the
// limit has headroom.
const limitLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")

if current + increment > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, 2)
end

return {1, newVal}
`

// NewRateLimiter creates a rate limiter with a pre-compiled Lua script.
// A nil client disables limiting entirely.
func NewRateLimiter(redisClient *redis.Client, perSecond int) *RateLimiter {
	return &RateLimiter{
		redis:       redisClient,
		limitScript: redis.NewScript(limitLuaScript),
		perSecond:   perSecond,
	}
}

// NewRateLimiterFromURL creates a rate limiter by connecting to Redis.
func NewRateLimiterFromURL(redisURL string, perSecond int) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("rate limiter connected", "per_second", perSecond)

	return NewRateLimiter(client, perSecond), nil
}

// Acquire blocks until a send slot is available for the current second,
// or the context is cancelled. With no Redis client it returns
// immediately.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil || r.redis == nil {
		return nil
	}

	for {
		key := fmt.Sprintf("newsletter:send_rate:%d", time.Now().Unix())
		res, err := r.limitScript.Run(ctx, r.redis, []string{key}, 1, r.perSecond).Result()
		if err != nil {
			// Redis being down must not halt delivery.
			logger.Warn("rate limit check failed, allowing send", "error", err.Error())
			return nil
		}

		vals, ok := res.([]interface{})
		if ok && len(vals) >= 1 {
			if allowed, _ := vals[0].(int64); allowed == 1 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
