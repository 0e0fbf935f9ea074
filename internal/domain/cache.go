package domain

import (
	"context"
	"time"
)

// RateLimiter reports whether one more event under key fits in limit events
// per window. Implementations count the event when they allow it.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out expiring exclusive locks. Acquire fails with
// ErrLockHeld when another holder owns key; unlock is idempotent.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read back from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries execution events. Publish/Subscribe is live fan-out;
// StreamAppend/StreamRead keep a bounded history that can be replayed from
// an entry id.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
