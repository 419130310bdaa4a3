package domain

import (
	"context"
	"time"
)

// RateLimiter enforces the marketplace's mandatory cool-down between calls to
// the same endpoint. It owns the per-endpoint next-allowed-time; callers ask
// for permission instead of reading shared throttle state directly.
type RateLimiter interface {
	// Allow reports whether a call for key is permitted now. When it is, the
	// cool-down window is started atomically. When it is not, retryAfter
	// says how long until the next slot.
	Allow(ctx context.Context, key string, cooldown time.Duration) (allowed bool, retryAfter time.Duration, err error)

	// Wait blocks until a call for key is permitted or the context ends.
	Wait(ctx context.Context, key string, cooldown time.Duration) error
}

// LockManager provides per-account mutual exclusion so two concurrent cycles
// for the same account cannot both pass the throttle check.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes cycle events for downstream observers. Pub/sub delivery
// is ephemeral; stream append is durable and ordered.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
