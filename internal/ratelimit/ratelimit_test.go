package ratelimit

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/internal/clock"
	"relayhub/internal/identity"
	"relayhub/pkg/interfaces"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	_ interfaces.RateLimiter = (*Limiter)(nil)
	_ interfaces.RateLimiter = (*RedisLimiter)(nil)
)

func TestLimiter_WindowBudget(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := NewLimiter(3, time.Minute, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}
	ok, _ := l.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	// Other callers have their own budget.
	ok, _ = l.Allow(ctx, "5.6.7.8")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	ok, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
}

func TestLimiter_Prune(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := NewLimiter(3, time.Minute, clk)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a")
	clk.Advance(90 * time.Second)
	_, _ = l.Allow(ctx, "b")
	assert.Equal(t, 2, l.Len())

	l.Prune(clk.Now())
	assert.Equal(t, 2, l.Len())

	clk.Advance(30 * time.Second)
	l.Prune(clk.Now())
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_EmptyKey(t *testing.T) {
	l := NewLimiter(1, time.Minute, clock.NewFake(epoch))
	ok, _ := l.Allow(context.Background(), "")
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "")
	assert.False(t, ok)
}

func TestRedisLimiter_FallsBackWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	fallback := NewLimiter(1, time.Minute, clock.NewFake(epoch))
	r := NewRedisLimiter(client, 1, time.Minute, fallback, zerolog.Nop())

	ok, err := r.Allow(context.Background(), "ip")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Allow(context.Background(), "ip")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, fallback.Len())
}

func TestRedisLimiter_Live(t *testing.T) {
	addr := os.Getenv("RELAYHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAYHUB_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(addr, "redis://")})
	defer client.Close()

	ctx := context.Background()
	r := NewRedisLimiter(client, 2, time.Minute, NewLimiter(2, time.Minute, nil), zerolog.Nop())
	require.NoError(t, r.Ping(ctx))

	key := "test-" + identity.NewID(8)
	defer client.Del(ctx, keyPrefix+key)

	for i := 0; i < 2; i++ {
		ok, err := r.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := r.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.PTTL(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisLimiter_RepairsKeyWithoutExpiry(t *testing.T) {
	addr := os.Getenv("RELAYHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAYHUB_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(addr, "redis://")})
	defer client.Close()

	ctx := context.Background()
	r := NewRedisLimiter(client, 5, time.Minute, NewLimiter(5, time.Minute, nil), zerolog.Nop())
	key := "test-" + identity.NewID(8)
	defer client.Del(ctx, keyPrefix+key)

	// A counter stranded without a TTL, as a crash between INCR and PEXPIRE
	// would leave it.
	require.NoError(t, client.Set(ctx, keyPrefix+key, 9, 0).Err())

	ok, err := r.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.PTTL(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
