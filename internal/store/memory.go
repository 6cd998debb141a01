package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tradeflow/margin-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions hold a per-user mutex and stage their writes in private
// maps; the staged writes are copied into the store only on success.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	orders    map[string]*model.Order
	portfolio map[string]*model.PortfolioEntry // keyed by entry ID

	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		orders:    make(map[string]*model.Order),
		portfolio: make(map[string]*model.PortfolioEntry),
		userLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.UserID]; ok {
		return fmt.Errorf("%w: account %s", ErrConflict, a.UserID)
	}
	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterOrders(s.orders, userID, status), nil
}

func (s *MemoryStore) ListPortfolio(_ context.Context, userID string) ([]model.PortfolioEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterPortfolio(s.portfolio, userID), nil
}

// WithinUserTx implements Store.
func (s *MemoryStore) WithinUserTx(ctx context.Context, userID string, fn TxFunc) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:         s,
		userID:    userID,
		accounts:  make(map[string]*model.Account),
		orders:    make(map[string]*model.Order),
		portfolio: make(map[string]*model.PortfolioEntry),
		deleted:   make(map[string]bool),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// memTx stages writes until commit.
type memTx struct {
	s         *MemoryStore
	userID    string
	accounts  map[string]*model.Account
	orders    map[string]*model.Order
	portfolio map[string]*model.PortfolioEntry
	deleted   map[string]bool // portfolio entry IDs
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for k, v := range t.accounts {
		t.s.accounts[k] = v
	}
	for k, v := range t.orders {
		t.s.orders[k] = v
	}
	for k, v := range t.portfolio {
		t.s.portfolio[k] = v
	}
	for id := range t.deleted {
		delete(t.s.portfolio, id)
	}
}

func (t *memTx) checkScope(userID string) error {
	if userID != t.userID {
		return fmt.Errorf("%w: %s in transaction of %s", ErrOutOfScope, userID, t.userID)
	}
	return nil
}

func (t *memTx) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	if err := t.checkScope(userID); err != nil {
		return nil, err
	}
	if a, ok := t.accounts[userID]; ok {
		copy := *a
		return &copy, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	a, ok := t.s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	copy := *a
	return &copy, nil
}

func (t *memTx) UpdateAccount(_ context.Context, a *model.Account) error {
	if err := t.checkScope(a.UserID); err != nil {
		return err
	}
	if _, staged := t.accounts[a.UserID]; !staged {
		t.s.mu.RLock()
		_, ok := t.s.accounts[a.UserID]
		t.s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: account %s", ErrNotFound, a.UserID)
		}
	}
	copy := *a
	t.accounts[a.UserID] = &copy
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	if err := t.checkScope(o.UserID); err != nil {
		return err
	}
	if _, staged := t.orders[o.ID]; staged {
		return fmt.Errorf("%w: order %s", ErrConflict, o.ID)
	}
	t.s.mu.RLock()
	_, exists := t.s.orders[o.ID]
	t.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: order %s", ErrConflict, o.ID)
	}
	copy := *o
	t.orders[o.ID] = &copy
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*model.Order, error) {
	if o, ok := t.orders[id]; ok {
		copy := *o
		return &copy, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	o, ok := t.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	copy := *o
	return &copy, nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := t.checkScope(o.UserID); err != nil {
		return err
	}
	if _, err := t.GetOrder(ctx, o.ID); err != nil {
		return err
	}
	copy := *o
	t.orders[o.ID] = &copy
	return nil
}

func (t *memTx) ListOrders(_ context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	if err := t.checkScope(userID); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	merged := make(map[string]*model.Order, len(t.s.orders)+len(t.orders))
	for k, v := range t.s.orders {
		merged[k] = v
	}
	t.s.mu.RUnlock()
	for k, v := range t.orders {
		merged[k] = v
	}
	return filterOrders(merged, userID, status), nil
}

// portfolioView merges committed and staged entries.
func (t *memTx) portfolioView() map[string]*model.PortfolioEntry {
	t.s.mu.RLock()
	merged := make(map[string]*model.PortfolioEntry, len(t.s.portfolio)+len(t.portfolio))
	for k, v := range t.s.portfolio {
		merged[k] = v
	}
	t.s.mu.RUnlock()
	for k, v := range t.portfolio {
		merged[k] = v
	}
	for id := range t.deleted {
		delete(merged, id)
	}
	return merged
}

func (t *memTx) GetPortfolioEntry(_ context.Context, userID, symbol string) (*model.PortfolioEntry, error) {
	if err := t.checkScope(userID); err != nil {
		return nil, err
	}
	for _, e := range t.portfolioView() {
		if e.UserID == userID && e.AssetSymbol == symbol {
			copy := *e
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: portfolio %s/%s", ErrNotFound, userID, symbol)
}

func (t *memTx) ListPortfolio(_ context.Context, userID string) ([]model.PortfolioEntry, error) {
	if err := t.checkScope(userID); err != nil {
		return nil, err
	}
	return filterPortfolio(t.portfolioView(), userID), nil
}

func (t *memTx) InsertPortfolioEntry(_ context.Context, e *model.PortfolioEntry) error {
	if err := t.checkScope(e.UserID); err != nil {
		return err
	}
	for _, existing := range t.portfolioView() {
		if existing.ID == e.ID || (existing.UserID == e.UserID && existing.AssetSymbol == e.AssetSymbol) {
			return fmt.Errorf("%w: portfolio %s/%s", ErrConflict, e.UserID, e.AssetSymbol)
		}
	}
	copy := *e
	t.portfolio[e.ID] = &copy
	delete(t.deleted, e.ID)
	return nil
}

func (t *memTx) UpdatePortfolioEntry(_ context.Context, e *model.PortfolioEntry) error {
	if err := t.checkScope(e.UserID); err != nil {
		return err
	}
	if _, ok := t.portfolioView()[e.ID]; !ok {
		return fmt.Errorf("%w: portfolio entry %s", ErrNotFound, e.ID)
	}
	copy := *e
	t.portfolio[e.ID] = &copy
	return nil
}

func (t *memTx) DeletePortfolioEntry(_ context.Context, id string) error {
	e, ok := t.portfolioView()[id]
	if !ok {
		return fmt.Errorf("%w: portfolio entry %s", ErrNotFound, id)
	}
	if err := t.checkScope(e.UserID); err != nil {
		return err
	}
	delete(t.portfolio, id)
	t.deleted[id] = true
	return nil
}

func filterOrders(orders map[string]*model.Order, userID string, status model.OrderStatus) []model.Order {
	var result []model.Order
	for _, o := range orders {
		if o.UserID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		result = append(result, *o)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func filterPortfolio(entries map[string]*model.PortfolioEntry, userID string) []model.PortfolioEntry {
	var result []model.PortfolioEntry
	for _, e := range entries {
		if e.UserID == userID {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetSymbol < result[j].AssetSymbol
	})
	return result
}
