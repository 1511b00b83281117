package domain

import (
	"context"
	"time"
)

// PoolCache provides fast pool snapshot lookups for read endpoints.
type PoolCache interface {
	Set(ctx context.Context, info PoolInfo) error
	Get(ctx context.Context, id int64) (PoolInfo, error)
	Invalidate(ctx context.Context, id int64) error
}

// LockManager provides distributed locking. The engine's per-pool mutex is
// the in-process guarantee; the lock manager extends single-writer
// discipline across replicas sharing one database.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds request rates per key, typically per bettor account.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
