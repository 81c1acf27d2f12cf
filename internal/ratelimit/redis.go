package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "relayhub:join:"

// incrWindow counts an attempt and makes sure the key carries an expiry in
// the same step, so a counter can never outlive its window.
var incrWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter shares attempt counters between hub replicas. Any redis error
// falls through to the local limiter so a cache outage never blocks joins
// entirely.
type RedisLimiter struct {
	client   *redis.Client
	limit    int64
	period   time.Duration
	fallback *Limiter
	logger   zerolog.Logger
}

func NewRedisLimiter(client *redis.Client, limit int, period time.Duration, fallback *Limiter, logger zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		limit:    int64(limit),
		period:   period,
		fallback: fallback,
		logger:   logger.With().Str("component", "ratelimit").Logger(),
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, err := r.allow(ctx, keyPrefix+normalizeKey(key))
	if err != nil {
		r.logger.Warn().Err(err).Msg("redis rate limit unavailable, using local counters")
		return r.fallback.Allow(ctx, key)
	}
	return allowed, nil
}

func (r *RedisLimiter) allow(ctx context.Context, key string) (bool, error) {
	count, err := incrWindow.Run(ctx, r.client, []string{key}, r.period.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	return count <= r.limit, nil
}

// Prune only trims the local fallback; redis keys expire on their own.
func (r *RedisLimiter) Prune(now time.Time) {
	r.fallback.Prune(now)
}

// Ping checks connectivity at startup.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
