package domain

import (
	"context"
	"time"
)

// MappingCache remembers which event a piece of free text was matched to.
// Get returns ErrNotFound on a miss.
type MappingCache interface {
	SetMapping(ctx context.Context, m TextMapping) error
	GetMapping(ctx context.Context, sourceID string) (TextMapping, error)
}

// OddsCache holds short-lived odds snapshots keyed by event id.
// Get returns ErrNotFound on a miss.
type OddsCache interface {
	SetOdds(ctx context.Context, odds OddsSnapshot) error
	GetOdds(ctx context.Context, eventID string) (OddsSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
