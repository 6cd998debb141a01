package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeflow/margin-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for accounts and portfolios. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the primary.
//
// Cached values are keyed by a per-user generation that every committed
// transaction increments. A read that loaded the primary before a commit
// can only populate the previous generation, which no later read consults.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	gen, cacheable := s.generation(ctx, a.UserID)
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	if cacheable {
		s.cache(ctx, accountKey(a.UserID, gen), a)
	}
	return nil
}

// WithinUserTx delegates to the primary and moves the user to a new cache
// generation once the transaction has committed.
func (s *CachedStore) WithinUserTx(ctx context.Context, userID string, fn TxFunc) error {
	if err := s.primary.WithinUserTx(ctx, userID, fn); err != nil {
		return err
	}
	gen, err := s.rdb.Incr(ctx, generationKey(userID)).Result()
	if err != nil {
		// Cached reads stay stale for at most the TTL.
		slog.Warn("cache generation bump failed", "user_id", userID, "err", err)
		return nil
	}
	s.rdb.Del(ctx, accountKey(userID, gen-1), portfolioKey(userID, gen-1))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	gen, cacheable := s.generation(ctx, userID)
	if cacheable {
		data, err := s.rdb.Get(ctx, accountKey(userID, gen)).Bytes()
		if err == nil {
			var a model.Account
			if json.Unmarshal(data, &a) == nil {
				return &a, nil
			}
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.cache(ctx, accountKey(userID, gen), a)
	}
	return a, nil
}

func (s *CachedStore) ListPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error) {
	gen, cacheable := s.generation(ctx, userID)
	if cacheable {
		data, err := s.rdb.Get(ctx, portfolioKey(userID, gen)).Bytes()
		if err == nil {
			var entries []model.PortfolioEntry
			if json.Unmarshal(data, &entries) == nil {
				return entries, nil
			}
		}
	}

	entries, err := s.primary.ListPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.cache(ctx, portfolioKey(userID, gen), entries)
	}
	return entries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, userID, status)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// generation returns the user's current cache generation. The bool is
// false when Redis cannot be read, in which case the cache is bypassed.
func (s *CachedStore) generation(ctx context.Context, uid string) (int64, bool) {
	gen, err := s.rdb.Get(ctx, generationKey(uid)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

func generationKey(uid string) string { return fmt.Sprintf("gen:%s", uid) }

func accountKey(uid string, gen int64) string {
	return fmt.Sprintf("account:%s:%d", uid, gen)
}

func portfolioKey(uid string, gen int64) string {
	return fmt.Sprintf("portfolio:%s:%d", uid, gen)
}
