package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// A transaction takes a row lock on the user's account before running.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, cash_balance, equity, used_margin, available_funds,
		                       realized_pnl, unrealized_pnl, paper_trading, created_at, last_updated)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		a.UserID,
		a.CashBalance.String(), a.Equity.String(), a.UsedMargin.String(), a.AvailableFunds.String(),
		a.RealizedPnL.String(), a.UnrealizedPnL.String(),
		a.PaperTrading, a.CreatedAt, a.LastUpdated,
	)
	return mapErr(err, "create account "+a.UserID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return getAccount(ctx, s.pool, userID)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, s.pool, id)
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	return listOrders(ctx, s.pool, userID, status)
}

func (s *PostgresStore) ListPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error) {
	return listPortfolio(ctx, s.pool, userID)
}

// WithinUserTx implements Store. The account row lock serializes every
// transaction of the same user; other users are not blocked.
func (s *PostgresStore) WithinUserTx(ctx context.Context, userID string, fn TxFunc) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT user_id FROM accounts WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return fmt.Errorf("lock account %s: %w", userID, err)
	}

	if err = fn(ctx, &pgTx{q: tx, userID: userID}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgTx implements Tx on an open pgx transaction.
type pgTx struct {
	q      pgx.Tx
	userID string
}

func (t *pgTx) scope(userID string) error {
	if userID != t.userID {
		return fmt.Errorf("%w: %s in transaction of %s", ErrOutOfScope, userID, t.userID)
	}
	return nil
}

func (t *pgTx) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	if err := t.scope(userID); err != nil {
		return nil, err
	}
	return getAccount(ctx, t.q, userID)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *model.Account) error {
	if err := t.scope(a.UserID); err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE accounts
		 SET cash_balance = $2::NUMERIC, equity = $3::NUMERIC, used_margin = $4::NUMERIC,
		     available_funds = $5::NUMERIC, realized_pnl = $6::NUMERIC, unrealized_pnl = $7::NUMERIC,
		     paper_trading = $8, last_updated = $9
		 WHERE user_id = $1`,
		a.UserID,
		a.CashBalance.String(), a.Equity.String(), a.UsedMargin.String(),
		a.AvailableFunds.String(), a.RealizedPnL.String(), a.UnrealizedPnL.String(),
		a.PaperTrading, a.LastUpdated,
	)
	if err != nil {
		return mapErr(err, "update account "+a.UserID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, a.UserID)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	if err := t.scope(o.UserID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO orders (id, user_id, asset_symbol, asset_name, market_type,
		                     units, price_per_unit, total_amount, trade_type, order_type, status,
		                     stop_loss, take_profit, expiration_date, margin_used, fee, paper_trade,
		                     created_at, executed_at, closed_at, close_price, pnl)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11,
		         $12::NUMERIC, $13::NUMERIC, $14, $15::NUMERIC, $16::NUMERIC, $17,
		         $18, $19, $20, $21::NUMERIC, $22::NUMERIC)`,
		o.ID, o.UserID, o.AssetSymbol, o.AssetName, o.MarketType,
		o.Units.String(), o.PricePerUnit.String(), o.TotalAmount.String(),
		string(o.TradeType), string(o.OrderType), string(o.Status),
		nullDecimal(o.StopLoss), nullDecimal(o.TakeProfit), o.ExpirationDate,
		o.MarginUsed.String(), o.Fee.String(), o.PaperTrade,
		o.CreatedAt, o.ExecutedAt, o.ClosedAt, nullDecimal(o.ClosePrice), nullDecimal(o.PnL),
	)
	return mapErr(err, "insert order "+o.ID)
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, t.q, id)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := t.scope(o.UserID); err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE orders
		 SET status = $2, executed_at = $3, closed_at = $4,
		     close_price = $5::NUMERIC, pnl = $6::NUMERIC, margin_used = $7::NUMERIC
		 WHERE id = $1 AND user_id = $8`,
		o.ID, string(o.Status), o.ExecutedAt, o.ClosedAt,
		nullDecimal(o.ClosePrice), nullDecimal(o.PnL), o.MarginUsed.String(), o.UserID,
	)
	if err != nil {
		return mapErr(err, "update order "+o.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, o.ID)
	}
	return nil
}

func (t *pgTx) ListOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	if err := t.scope(userID); err != nil {
		return nil, err
	}
	return listOrders(ctx, t.q, userID, status)
}

func (t *pgTx) GetPortfolioEntry(ctx context.Context, userID, symbol string) (*model.PortfolioEntry, error) {
	if err := t.scope(userID); err != nil {
		return nil, err
	}
	rows, err := t.q.Query(ctx, portfolioSelect+` WHERE user_id = $1 AND asset_symbol = $2`, userID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanPortfolio(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: portfolio %s/%s", ErrNotFound, userID, symbol)
	}
	return &entries[0], nil
}

func (t *pgTx) ListPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error) {
	if err := t.scope(userID); err != nil {
		return nil, err
	}
	return listPortfolio(ctx, t.q, userID)
}

func (t *pgTx) InsertPortfolioEntry(ctx context.Context, e *model.PortfolioEntry) error {
	if err := t.scope(e.UserID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO portfolio (id, user_id, asset_symbol, asset_name, market_type, side,
		                        units, average_price, current_price, total_value, pnl, pnl_percentage, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)`,
		e.ID, e.UserID, e.AssetSymbol, e.AssetName, e.MarketType, string(e.Side),
		e.Units.String(), e.AveragePrice.String(), e.CurrentPrice.String(),
		e.TotalValue.String(), e.PnL.String(), e.PnLPercentage.String(), e.LastUpdated,
	)
	return mapErr(err, "insert portfolio "+e.UserID+"/"+e.AssetSymbol)
}

func (t *pgTx) UpdatePortfolioEntry(ctx context.Context, e *model.PortfolioEntry) error {
	if err := t.scope(e.UserID); err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE portfolio
		 SET asset_name = $2, side = $3, units = $4::NUMERIC, average_price = $5::NUMERIC,
		     current_price = $6::NUMERIC, total_value = $7::NUMERIC, pnl = $8::NUMERIC,
		     pnl_percentage = $9::NUMERIC, last_updated = $10
		 WHERE id = $1 AND user_id = $11`,
		e.ID, e.AssetName, string(e.Side), e.Units.String(), e.AveragePrice.String(),
		e.CurrentPrice.String(), e.TotalValue.String(), e.PnL.String(),
		e.PnLPercentage.String(), e.LastUpdated, e.UserID,
	)
	if err != nil {
		return mapErr(err, "update portfolio "+e.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: portfolio entry %s", ErrNotFound, e.ID)
	}
	return nil
}

func (t *pgTx) DeletePortfolioEntry(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM portfolio WHERE id = $1 AND user_id = $2`, id, t.userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: portfolio entry %s", ErrNotFound, id)
	}
	return nil
}

// --- shared queries ---

func getAccount(ctx context.Context, q querier, userID string) (*model.Account, error) {
	var a model.Account
	var cash, equity, used, avail, realized, unrealized string

	err := q.QueryRow(ctx,
		`SELECT user_id, cash_balance::TEXT, equity::TEXT, used_margin::TEXT, available_funds::TEXT,
		        realized_pnl::TEXT, unrealized_pnl::TEXT, paper_trading, created_at, last_updated
		 FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &cash, &equity, &used, &avail,
			&realized, &unrealized, &a.PaperTrading, &a.CreatedAt, &a.LastUpdated)
	if err != nil {
		return nil, mapErr(err, "get account "+userID)
	}

	a.CashBalance, _ = decimal.NewFromString(cash)
	a.Equity, _ = decimal.NewFromString(equity)
	a.UsedMargin, _ = decimal.NewFromString(used)
	a.AvailableFunds, _ = decimal.NewFromString(avail)
	a.RealizedPnL, _ = decimal.NewFromString(realized)
	a.UnrealizedPnL, _ = decimal.NewFromString(unrealized)
	return &a, nil
}

const orderSelect = `SELECT id, user_id, asset_symbol, asset_name, market_type,
        units::TEXT, price_per_unit::TEXT, total_amount::TEXT, trade_type, order_type, status,
        stop_loss::TEXT, take_profit::TEXT, expiration_date, margin_used::TEXT, fee::TEXT, paper_trade,
        created_at, executed_at, closed_at, close_price::TEXT, pnl::TEXT
 FROM orders`

func getOrder(ctx context.Context, q querier, id string) (*model.Order, error) {
	rows, err := q.Query(ctx, orderSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return &orders[0], nil
}

func listOrders(ctx context.Context, q querier, userID string, status model.OrderStatus) ([]model.Order, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = q.Query(ctx, orderSelect+` WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	} else {
		rows, err = q.Query(ctx, orderSelect+` WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC, id`,
			userID, string(status))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

const portfolioSelect = `SELECT id, user_id, asset_symbol, asset_name, market_type, side,
        units::TEXT, average_price::TEXT, current_price::TEXT, total_value::TEXT,
        pnl::TEXT, pnl_percentage::TEXT, last_updated
 FROM portfolio`

func listPortfolio(ctx context.Context, q querier, userID string) ([]model.PortfolioEntry, error) {
	rows, err := q.Query(ctx, portfolioSelect+` WHERE user_id = $1 ORDER BY asset_symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPortfolio(rows)
}

// scanOrders reads pgx rows into Order slices.
func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var tradeType, orderType, status string
		var units, price, total, marginUsed, fee string
		var stopLoss, takeProfit, closePrice, pnl *string

		if err := rows.Scan(&o.ID, &o.UserID, &o.AssetSymbol, &o.AssetName, &o.MarketType,
			&units, &price, &total, &tradeType, &orderType, &status,
			&stopLoss, &takeProfit, &o.ExpirationDate, &marginUsed, &fee, &o.PaperTrade,
			&o.CreatedAt, &o.ExecutedAt, &o.ClosedAt, &closePrice, &pnl); err != nil {
			return nil, err
		}

		o.TradeType = model.TradeType(tradeType)
		o.OrderType = model.OrderType(orderType)
		o.Status = model.OrderStatus(status)
		o.Units, _ = decimal.NewFromString(units)
		o.PricePerUnit, _ = decimal.NewFromString(price)
		o.TotalAmount, _ = decimal.NewFromString(total)
		o.MarginUsed, _ = decimal.NewFromString(marginUsed)
		o.Fee, _ = decimal.NewFromString(fee)
		o.StopLoss = parseNullDecimal(stopLoss)
		o.TakeProfit = parseNullDecimal(takeProfit)
		o.ClosePrice = parseNullDecimal(closePrice)
		o.PnL = parseNullDecimal(pnl)

		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanPortfolio(rows pgx.Rows) ([]model.PortfolioEntry, error) {
	var entries []model.PortfolioEntry
	for rows.Next() {
		var e model.PortfolioEntry
		var side string
		var units, avg, current, total, pnl, pct string

		if err := rows.Scan(&e.ID, &e.UserID, &e.AssetSymbol, &e.AssetName, &e.MarketType, &side,
			&units, &avg, &current, &total, &pnl, &pct, &e.LastUpdated); err != nil {
			return nil, err
		}

		e.Side = model.TradeType(side)
		e.Units, _ = decimal.NewFromString(units)
		e.AveragePrice, _ = decimal.NewFromString(avg)
		e.CurrentPrice, _ = decimal.NewFromString(current)
		e.TotalValue, _ = decimal.NewFromString(total)
		e.PnL, _ = decimal.NewFromString(pnl)
		e.PnLPercentage, _ = decimal.NewFromString(pct)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseNullDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &v
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
