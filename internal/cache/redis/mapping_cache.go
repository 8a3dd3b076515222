package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

const (
	// DefaultMappingTTL bounds how long a text-to-event match is reused.
	DefaultMappingTTL = 24 * time.Hour
	maxSourceText     = 500
)

// MappingCache implements domain.MappingCache.
//
// Key schema:
//
//	{prefix}:mapping:{sourceID} - hash; field "data" holds the JSON mapping,
//	                              field "event" the matched event id
type MappingCache struct {
	c   *Client
	ttl time.Duration
}

// NewMappingCache creates a MappingCache; ttl <= 0 means DefaultMappingTTL.
func NewMappingCache(c *Client, ttl time.Duration) *MappingCache {
	if ttl <= 0 {
		ttl = DefaultMappingTTL
	}
	return &MappingCache{c: c, ttl: ttl}
}

// SetMapping stores m, truncating the source text.
func (mc *MappingCache) SetMapping(ctx context.Context, m domain.TextMapping) error {
	m.SourceText = truncate(m.SourceText, maxSourceText)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal mapping %s: %w", m.SourceID, err)
	}

	key := mc.c.Key("mapping", m.SourceID)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "event", m.EventID)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set mapping %s: %w", m.SourceID, err)
	}
	return nil
}

// GetMapping returns domain.ErrNotFound on a miss.
func (mc *MappingCache) GetMapping(ctx context.Context, sourceID string) (domain.TextMapping, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.c.Key("mapping", sourceID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TextMapping{}, domain.ErrNotFound
		}
		return domain.TextMapping{}, fmt.Errorf("redis: get mapping %s: %w", sourceID, err)
	}
	var m domain.TextMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.TextMapping{}, fmt.Errorf("redis: decode mapping %s: %w", sourceID, err)
	}
	return m, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

var _ domain.MappingCache = (*MappingCache)(nil)
