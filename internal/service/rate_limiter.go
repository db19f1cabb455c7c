package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-gateway-go/internal/clock"
)

// slidingWindowScript admits a request when fewer than limit requests were
// recorded for the key within the window. Times are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = now + window
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window + 1000)

return {1, now + window}
`)

// Limiter decides whether another request for key fits in the window.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

type RateLimiter struct {
	client   *redis.Client
	clock    clock.Clock
	failOpen bool
}

// NewRateLimiter returns a Redis-backed sliding window limiter. When Redis
// is unreachable requests are admitted if failOpen is set, denied otherwise.
func NewRateLimiter(client *redis.Client, clk clock.Clock, failOpen bool) *RateLimiter {
	return &RateLimiter{client: client, clock: clk, failOpen: failOpen}
}

func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := rl.clock.Now()

	result, err := slidingWindowScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
	).Int64Slice()

	if err == nil && len(result) != 2 {
		err = redis.Nil
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Bool("failOpen", rl.failOpen).
			Msg("rate limit check failed")
		return rl.failOpen, now.Add(window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}
