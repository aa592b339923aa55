package security

import (
	"context"
	"fmt"
	"time"

	"ticket-verifier/internal/status"

	"github.com/redis/go-redis/v9"
)

// ManualEntryLimiter caps how many identifiers an operator may type per
// window. Typed entry is how ticket IDs get guessed, scanned codes are not
// counted.
type ManualEntryLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewManualEntryLimiter(redisClient *redis.Client, limit int, window time.Duration) *ManualEntryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &ManualEntryLimiter{
		redis:  redisClient,
		limit:  int64(limit),
		window: window,
	}
}

func manualEntryKey(operator string) string {
	return fmt.Sprintf("gate:manual:%s", operator)
}

// Allow counts one attempt for operator and returns status.ErrRateLimited
// once the window's budget is spent. Redis errors are returned wrapped.
func (l *ManualEntryLimiter) Allow(ctx context.Context, operator string) error {
	if l.limit <= 0 {
		return nil
	}

	// The window is created with its TTL and counted in one transaction, so
	// a failure can never leave a counter that does not expire.
	key := manualEntryKey(operator)
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, l.window)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("limiter: count: %w", err)
	}

	count := incr.Val()
	if count > l.limit {
		return fmt.Errorf("%w: %d attempts in %s", status.ErrRateLimited, count, l.window)
	}
	return nil
}
