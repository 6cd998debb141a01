package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisSource reads prices the market-data aggregator writes to Redis under
// "quote:{SYMBOL}". Stale keys expire after ttl so a dead feed surfaces as
// ErrNoQuote rather than an old price.
type RedisSource struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSource creates a Redis-backed book. ttl <= 0 keeps quotes forever.
func NewRedisSource(rdb *redis.Client, ttl time.Duration) *RedisSource {
	return &RedisSource{rdb: rdb, ttl: ttl}
}

func (s *RedisSource) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, err := s.rdb.Get(ctx, quoteKey(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", symbol, err)
	}

	p, err := decimal.NewFromString(raw)
	if err != nil || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s has malformed price %q", ErrNoQuote, symbol, raw)
	}
	return p, nil
}

func (s *RedisSource) SetQuote(ctx context.Context, symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, quoteKey(symbol), price.String(), ttl).Err()
}

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", normalize(symbol)) }
