package redis

import (
	"context"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// NopCache satisfies the cache, limiter, lock and bus interfaces without a
// server. Every lookup misses, every limit allows, every lock is granted and
// published messages are dropped.
type NopCache struct{}

func (NopCache) SetMapping(context.Context, domain.TextMapping) error { return nil }
func (NopCache) GetMapping(context.Context, string) (domain.TextMapping, error) {
	return domain.TextMapping{}, domain.ErrNotFound
}
func (NopCache) SetOdds(context.Context, domain.OddsSnapshot) error { return nil }
func (NopCache) GetOdds(context.Context, string) (domain.OddsSnapshot, error) {
	return domain.OddsSnapshot{}, domain.ErrNotFound
}
func (NopCache) Allow(context.Context, string, int, time.Duration) (bool, error) { return true, nil }
func (NopCache) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
func (NopCache) Publish(context.Context, string, []byte) error { return nil }
func (NopCache) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (NopCache) StreamAppend(context.Context, string, []byte) error { return nil }
func (NopCache) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

var (
	_ domain.MappingCache = NopCache{}
	_ domain.OddsCache    = NopCache{}
	_ domain.RateLimiter  = NopCache{}
	_ domain.LockManager  = NopCache{}
	_ domain.SignalBus    = NopCache{}
)
