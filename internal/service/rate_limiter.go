package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/clock"
	redisclient "github.com/studyforge/gateway/internal/redis"
	"github.com/studyforge/gateway/internal/util"
)

// rateLimitScript is a Lua script for sliding window rate limiting.
// ARGV[4] is a caller-supplied unique member for the entry.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, window + 10)

return {1, limit - count - 1, now + window}
`)

type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter provides generic rate limiting functionality
type RateLimiter struct {
	client *redisclient.Client
	clock  clock.Clock
}

func NewRateLimiter(client *redisclient.Client, clk clock.Clock) *RateLimiter {
	return &RateLimiter{client: client, clock: clk}
}

// CheckLimit records one hit for scope/subject and reports whether it fits
// within limit for the window. Redis failures deny the request.
func (rl *RateLimiter) CheckLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) RateLimitResult {
	now := rl.clock.Now()
	key := redisclient.RateLimitKey(scope, subject)
	denied := RateLimitResult{Allowed: false, Limit: limit, ResetAt: now.Add(window)}

	suffix, err := util.RandomHex(4)
	if err != nil {
		return denied
	}
	member := fmt.Sprintf("%d-%s", now.UnixNano(), suffix)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.Unix(),
		int64(window.Seconds()),
		limit,
		member,
	).Int64Slice()
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request for safety")
		return denied
	}

	if len(result) != 3 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying request for safety")
		return denied
	}

	return RateLimitResult{
		Allowed:   result[0] == 1,
		Limit:     limit,
		Remaining: int(result[1]),
		ResetAt:   time.Unix(result[2], 0),
	}
}
