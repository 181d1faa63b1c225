package pricestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoPrice means no tick for the asset has reached Redis yet.
var ErrNoPrice = errors.New("pricestore: no price for asset")

// Store keeps the latest oracle price per asset in Redis. The oracle feed
// writes, the round crank reads. A TTL bounds how stale an opening or
// closing price can be.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *Store { return &Store{R: r, TTL: ttl} }

func key(asset string) string { return "price:latest:" + asset }

// Set overwrites the latest price for asset.
func (s *Store) Set(ctx context.Context, asset string, price int64) error {
	return s.R.Set(ctx, key(asset), strconv.FormatInt(price, 10), s.TTL).Err()
}

// Get returns the latest price, or ErrNoPrice if nothing fresh exists.
func (s *Store) Get(ctx context.Context, asset string) (int64, error) {
	v, err := s.R.Get(ctx, key(asset)).Result()
	if err == redis.Nil {
		return 0, ErrNoPrice
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
