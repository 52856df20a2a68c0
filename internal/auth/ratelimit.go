package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a tenant has used its hourly quota.
var ErrRateLimited = errors.New("hourly request limit exceeded")

// RateLimiter enforces a per-tenant hourly quota on API submissions with a
// fixed-window counter in Redis. A nil client or a non-positive limit
// disables it.
type RateLimiter struct {
	client redis.UniversalClient
	limit  int
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing hourlyLimit requests per
// tenant per clock hour.
func NewRateLimiter(client redis.UniversalClient, hourlyLimit int) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  hourlyLimit,
		now:    time.Now,
	}
}

// Enabled reports whether requests are counted.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.client != nil && rl.limit > 0
}

// Allow counts n requests for tenantID and returns ErrRateLimited once the
// window total exceeds the limit. Redis errors are returned wrapped so the
// caller can decide to fail open.
func (rl *RateLimiter) Allow(ctx context.Context, tenantID string, n int) error {
	if !rl.Enabled() {
		return nil
	}
	if n <= 0 {
		n = 1
	}

	now := rl.now().UTC()
	key := windowKey(tenantID, now)

	pipe := rl.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, int64(n))
	pipe.ExpireNX(ctx, key, untilNextHour(now)+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("check rate limit: %w", err)
	}

	if count := incr.Val(); count > int64(rl.limit) {
		return fmt.Errorf("%w (%d/%d)", ErrRateLimited, count, rl.limit)
	}
	return nil
}

// Remaining returns how many requests tenantID may still make this hour.
func (rl *RateLimiter) Remaining(ctx context.Context, tenantID string) (int, error) {
	if !rl.Enabled() {
		return -1, nil
	}
	count, err := rl.client.Get(ctx, windowKey(tenantID, rl.now().UTC())).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read rate limit: %w", err)
	}
	return max(rl.limit-count, 0), nil
}

// windowKey is the counter key for the clock hour containing t.
func windowKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("ratelimit:api:%s:%s", tenantID, t.Format("2006-01-02T15"))
}

// untilNextHour returns the duration from t to the start of the next hour.
func untilNextHour(t time.Time) time.Duration {
	return t.Truncate(time.Hour).Add(time.Hour).Sub(t)
}
