package quotes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/engine"
)

// Cache holds display-grade quotes in Redis. Display reads may be slightly
// stale; anything that backs an imminent wager goes to the engine instead.
type Cache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *Cache { return &Cache{R: r, TTL: ttl} }

func key(marketID string, side engine.Side) string {
	return "quote:" + marketID + ":" + string(side)
}

func (c *Cache) Set(ctx context.Context, q engine.Quote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, key(q.ParentID, q.Side), b, c.TTL).Err()
}

// Publish fans an update out on the pub/sub channel; every replica's
// websocket hub picks it up.
func (c *Cache) Publish(ctx context.Context, channel string, upd any) error {
	b, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	return c.R.Publish(ctx, channel, b).Err()
}

func (c *Cache) Get(ctx context.Context, marketID string, side engine.Side) (engine.Quote, bool, error) {
	b, err := c.R.Get(ctx, key(marketID, side)).Bytes()
	if err == redis.Nil {
		return engine.Quote{}, false, nil
	}
	if err != nil {
		return engine.Quote{}, false, err
	}
	var q engine.Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return engine.Quote{}, false, err
	}
	return q, true, nil
}
