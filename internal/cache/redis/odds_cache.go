package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// DefaultOddsTTL keeps odds snapshots short-lived.
const DefaultOddsTTL = 5 * time.Minute

// OddsCache implements domain.OddsCache with plain string keys
// {prefix}:odds:{eventID}.
type OddsCache struct {
	c   *Client
	ttl time.Duration
}

// NewOddsCache creates an OddsCache; ttl <= 0 means DefaultOddsTTL.
func NewOddsCache(c *Client, ttl time.Duration) *OddsCache {
	if ttl <= 0 {
		ttl = DefaultOddsTTL
	}
	return &OddsCache{c: c, ttl: ttl}
}

func (oc *OddsCache) SetOdds(ctx context.Context, odds domain.OddsSnapshot) error {
	data, err := json.Marshal(odds)
	if err != nil {
		return fmt.Errorf("redis: marshal odds %s: %w", odds.EventID, err)
	}
	if err := oc.c.rdb.Set(ctx, oc.c.Key("odds", odds.EventID), data, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set odds %s: %w", odds.EventID, err)
	}
	return nil
}

func (oc *OddsCache) GetOdds(ctx context.Context, eventID string) (domain.OddsSnapshot, error) {
	data, err := oc.c.rdb.Get(ctx, oc.c.Key("odds", eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OddsSnapshot{}, domain.ErrNotFound
		}
		return domain.OddsSnapshot{}, fmt.Errorf("redis: get odds %s: %w", eventID, err)
	}
	var odds domain.OddsSnapshot
	if err := json.Unmarshal(data, &odds); err != nil {
		return domain.OddsSnapshot{}, fmt.Errorf("redis: decode odds %s: %w", eventID, err)
	}
	return odds, nil
}

var _ domain.OddsCache = (*OddsCache)(nil)
