package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tradeflow/margin-engine/internal/model"
)

func newCached(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	s, _, mr := newCached(t)
	seedAccount(t, s, "user1", 1000)

	if !mr.Exists(accountKey("user1", 0)) {
		t.Fatal("expected account cached on create")
	}
	a, err := s.GetAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !a.CashBalance.Equal(d(1000)) {
		t.Errorf("expected cash 1000, got %s", a.CashBalance)
	}

	if _, err := s.ListPortfolio(ctx, "user1"); err != nil {
		t.Fatalf("ListPortfolio: %v", err)
	}
	if !mr.Exists(portfolioKey("user1", 0)) {
		t.Error("expected portfolio cached after read")
	}
}

func TestCachedStore_InvalidatesOnCommit(t *testing.T) {
	ctx := context.Background()
	s, _, mr := newCached(t)
	seedAccount(t, s, "user1", 1000)
	_, _ = s.ListPortfolio(ctx, "user1")

	err := s.WithinUserTx(ctx, "user1", func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAccount(ctx, "user1")
		if err != nil {
			return err
		}
		a.CashBalance = d(1500)
		return tx.UpdateAccount(ctx, a)
	})
	if err != nil {
		t.Fatalf("WithinUserTx: %v", err)
	}
	if mr.Exists(accountKey("user1", 0)) || mr.Exists(portfolioKey("user1", 0)) {
		t.Error("expected cache keys dropped after commit")
	}
	if gen, _ := mr.Get(generationKey("user1")); gen != "1" {
		t.Errorf("expected generation 1 after commit, got %q", gen)
	}

	a, _ := s.GetAccount(ctx, "user1")
	if !a.CashBalance.Equal(d(1500)) {
		t.Errorf("expected fresh cash 1500, got %s", a.CashBalance)
	}
}

func TestCachedStore_KeepsCacheOnRollback(t *testing.T) {
	ctx := context.Background()
	s, _, mr := newCached(t)
	seedAccount(t, s, "user1", 1000)

	_ = s.WithinUserTx(ctx, "user1", func(ctx context.Context, tx Tx) error {
		return ErrConflict
	})
	if !mr.Exists(accountKey("user1", 0)) || mr.Exists(generationKey("user1")) {
		t.Error("expected cache untouched after failed transaction")
	}
}

func TestCachedStore_PassthroughOrders(t *testing.T) {
	ctx := context.Background()
	s, primary, _ := newCached(t)
	seedAccount(t, s, "user1", 1000)

	err := primary.WithinUserTx(ctx, "user1", func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, testOrder("o1", "user1", now))
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	o, err := s.GetOrder(ctx, "o1")
	if err != nil || o.Status != model.StatusOpen {
		t.Errorf("expected open order o1, got %+v (%v)", o, err)
	}
	orders, _ := s.ListOrders(ctx, "user1", model.StatusOpen)
	if len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}
}

// staleReadStore returns the account it read before running a commit,
// like a reader that loses a race with a concurrent transaction.
type staleReadStore struct {
	*MemoryStore
	beforeReturn func()
}

func (s *staleReadStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := s.MemoryStore.GetAccount(ctx, userID)
	if s.beforeReturn != nil {
		hook := s.beforeReturn
		s.beforeReturn = nil
		hook()
	}
	return a, err
}

func TestCachedStore_StaleReadDoesNotOutliveCommit(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	primary := &staleReadStore{MemoryStore: NewMemoryStore()}
	s := NewCachedStore(primary, rdb, time.Minute)
	seedAccount(t, primary.MemoryStore, "user1", 1000)

	primary.beforeReturn = func() {
		err := s.WithinUserTx(ctx, "user1", func(ctx context.Context, tx Tx) error {
			a, err := tx.GetAccount(ctx, "user1")
			if err != nil {
				return err
			}
			a.CashBalance = d(1500)
			return tx.UpdateAccount(ctx, a)
		})
		if err != nil {
			t.Errorf("WithinUserTx: %v", err)
		}
	}

	stale, err := s.GetAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !stale.CashBalance.Equal(d(1000)) {
		t.Fatalf("expected the racing read to see 1000, got %s", stale.CashBalance)
	}

	fresh, err := s.GetAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !fresh.CashBalance.Equal(d(1500)) {
		t.Errorf("expected committed cash 1500 after the race, got %s", fresh.CashBalance)
	}
}
