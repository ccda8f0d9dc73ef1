package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoBrian/RailBridge/internal/cache"
)

// RedisLimiter is a fixed-window counter limiter: Incr the window's key,
// set its expiry on first write, compare against the configured limit.
type RedisLimiter struct {
	client *cache.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter builds a limiter allowing limit requests per window.
func NewRedisLimiter(client *cache.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	windowKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := l.client.Incr(ctx, windowKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("incr rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, windowKey, l.window); err != nil {
			return false, Info{}, fmt.Errorf("set rate limit expiry: %w", err)
		}
	}

	ttl, err := l.client.TTL(ctx, windowKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("read rate limit ttl: %w", err)
	}

	info := Info{
		Limit:     l.limit,
		Remaining: max(0, l.limit-int(count)),
		Reset:     time.Now().Add(ttl).Unix(),
	}
	return count <= int64(l.limit), info, nil
}
