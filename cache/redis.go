/*
Package cache provides a Redis-backed settlement summary cache.

PURPOSE:
  Settlement summaries are recomputed from the full transaction list on
  every read; that projection is cheap but the ledger read behind it is
  the hot path of the settlement view. The cache holds the derived
  summary with a short TTL and is explicitly invalidated after every
  committed mutation, so a hit can never outlive the data it was derived
  from by more than one TTL window.

  The cache is strictly best effort. Every error is surfaced to the
  caller, which logs and falls through to the store; a dead Redis never
  fails a settlement read.
*/
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/rental-engine/rental"
)

const summaryKeyPrefix = "settlement:summary:"

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ rental.SummaryCache = (*RedisCache)(nil)

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
	}
}

// GetSummary returns (nil, nil) on a cache miss.
func (c *RedisCache) GetSummary(ctx context.Context, bookingID rental.BookingID) (*rental.SettlementSummary, error) {
	data, err := c.client.Get(ctx, summaryKey(bookingID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var summary rental.SettlementSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *RedisCache) SetSummary(ctx context.Context, summary rental.SettlementSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(summary.BookingID), payload, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, bookingID rental.BookingID) error {
	return c.client.Del(ctx, summaryKey(bookingID)).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func summaryKey(bookingID rental.BookingID) string {
	return summaryKeyPrefix + string(bookingID)
}
