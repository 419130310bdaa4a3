package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/cooldown.lua
var cooldownLua string

// waitFloor is the minimum sleep between Wait attempts, so a tiny remaining
// TTL does not degenerate into a busy loop.
const waitFloor = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter as a per-key cool-down backed by
// a Redis key with a TTL and an atomic Lua script. A key maps to one
// marketplace endpoint per account; a call claims the cool-down window and
// every later caller is told how long until the next slot.
type RateLimiter struct {
	rdb      *redis.Client
	cooldown *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:      c.Underlying(),
		cooldown: redis.NewScript(cooldownLua),
	}
}

func cooldownKey(key string) string {
	return "cooldown:" + key
}

// Allow reports whether a call for key is permitted now. When it is, the
// cool-down window is started atomically so concurrent callers cannot both
// pass. When it is not, retryAfter is the remaining wait.
func (rl *RateLimiter) Allow(ctx context.Context, key string, cooldown time.Duration) (bool, time.Duration, error) {
	if cooldown <= 0 {
		return true, 0, nil
	}

	result, err := rl.cooldown.Run(
		ctx,
		rl.rdb,
		[]string{cooldownKey(key)},
		cooldown.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: cooldown allow %s: %w", key, err)
	}

	if len(result) < 2 {
		return false, 0, fmt.Errorf("redis: cooldown allow %s: unexpected result length %d", key, len(result))
	}

	if result[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(result[1]) * time.Millisecond, nil
}

// Wait blocks until a call for key is permitted or the context ends. It
// sleeps for the reported remaining cool-down between attempts.
func (rl *RateLimiter) Wait(ctx context.Context, key string, cooldown time.Duration) error {
	for {
		allowed, retryAfter, err := rl.Allow(ctx, key, cooldown)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if retryAfter < waitFloor {
			retryAfter = waitFloor
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: cooldown wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
