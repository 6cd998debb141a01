// Package store defines the persistence interface for the margin engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every mutation goes through WithinUserTx: the callback runs with exclusive
// ownership of one user's account, orders and portfolio, and its writes are
// applied all together or not at all.
package store

import (
	"context"
	"errors"

	"github.com/tradeflow/margin-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when inserting a record whose key exists.
	ErrConflict = errors.New("store: record already exists")

	// ErrOutOfScope is returned when a transaction touches another user's data.
	ErrOutOfScope = errors.New("store: record outside transaction scope")
)

// TxFunc is the body of a user-scoped transaction. Returning an error
// discards every write made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves the account of a user.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// --- Orders ---

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrders returns a user's orders, newest first. An empty status
	// returns every order.
	ListOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error)

	// --- Portfolio ---

	// ListPortfolio returns a user's portfolio entries ordered by symbol.
	ListPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error)

	// --- Transactions ---

	// WithinUserTx runs fn serialized against every other transaction of
	// the same user and commits its writes only when fn returns nil.
	WithinUserTx(ctx context.Context, userID string, fn TxFunc) error
}

// Tx is the view of the store inside WithinUserTx.
type Tx interface {
	GetAccount(ctx context.Context, userID string) (*model.Account, error)
	UpdateAccount(ctx context.Context, acct *model.Account) error

	InsertOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, order *model.Order) error
	ListOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error)

	GetPortfolioEntry(ctx context.Context, userID, symbol string) (*model.PortfolioEntry, error)
	ListPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error)
	InsertPortfolioEntry(ctx context.Context, entry *model.PortfolioEntry) error
	UpdatePortfolioEntry(ctx context.Context, entry *model.PortfolioEntry) error
	DeletePortfolioEntry(ctx context.Context, id string) error
}
