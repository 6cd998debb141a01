// Package engine implements the order/position state machine. It is the
// only code path that mutates accounts, orders and portfolio entries.
//
// Orders move pending -> open -> closed, or pending -> cancelled; market
// orders are opened directly. Every transition runs inside one user-scoped
// store transaction and is applied all together or not at all. Events are
// published only after the transaction has committed.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/ledger"
	"github.com/tradeflow/margin-engine/internal/margin"
	"github.com/tradeflow/margin-engine/internal/metrics"
	"github.com/tradeflow/margin-engine/internal/model"
	"github.com/tradeflow/margin-engine/internal/portfolio"
	"github.com/tradeflow/margin-engine/internal/quote"
	"github.com/tradeflow/margin-engine/internal/risk"
	"github.com/tradeflow/margin-engine/internal/store"
)

// Notifier receives committed events.
type Notifier interface {
	Publish(ev model.Event)
}

// Options configures optional engine behaviour.
type Options struct {
	// Limits are checked before opening a position. Nil disables them.
	Limits *risk.Limits

	// Notifier receives events after commit. May be nil.
	Notifier Notifier

	// ChargeFees debits Calculator.Fee from cash when a position opens.
	ChargeFees bool

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine executes order lifecycle operations.
type Engine struct {
	store      store.Store
	quotes     quote.Source
	calc       *margin.Calculator
	limits     *risk.Limits
	notifier   Notifier
	chargeFees bool
	now        func() time.Time
}

// New creates an engine. A nil calculator uses the default leverage table
// and fee rate.
func New(st store.Store, quotes quote.Source, calc *margin.Calculator, opts Options) *Engine {
	if calc == nil {
		calc, _ = margin.NewCalculator(nil, margin.DefaultFeeRate)
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:      st,
		quotes:     quotes,
		calc:       calc,
		limits:     opts.Limits,
		notifier:   opts.Notifier,
		chargeFees: opts.ChargeFees,
		now:        clock,
	}
}

// Calculator returns the margin calculator in use.
func (e *Engine) Calculator() *margin.Calculator { return e.calc }

// --- Accounts ---

// OpenAccount creates the account of userID funded with initialDeposit.
func (e *Engine) OpenAccount(ctx context.Context, userID string, initialDeposit decimal.Decimal, paper bool) (*model.Account, error) {
	const op = "open_account"
	defer observe(op, time.Now())

	if userID == "" {
		return nil, e.fail(op, userID, validationErr(op, "user_id is required"))
	}
	acct, err := ledger.New(userID, initialDeposit, paper, e.now())
	if err != nil {
		return nil, e.fail(op, userID, validationErr(op, "initial deposit must not be negative"))
	}

	if err := e.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, e.fail(op, userID, newError(KindInvalidState, op, "account already exists", err))
		}
		return nil, e.fail(op, userID, newError(KindPersistence, op, "create account", err))
	}

	slog.Info("account opened",
		"user_id", userID,
		"deposit", initialDeposit.String(),
		"paper", paper,
	)
	e.publish(model.Event{Type: model.EventAccountUpdated, UserID: userID, Timestamp: acct.LastUpdated})
	return acct, nil
}

// Deposit adds amount to the cash balance of userID.
func (e *Engine) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	return e.moveCash(ctx, "deposit", userID, amount, ledger.Deposit)
}

// Withdraw removes amount from the cash balance of userID. Locked margin
// cannot be withdrawn.
func (e *Engine) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	return e.moveCash(ctx, "withdraw", userID, amount, ledger.Withdraw)
}

func (e *Engine) moveCash(
	ctx context.Context, op, userID string, amount decimal.Decimal,
	apply func(*model.Account, decimal.Decimal, time.Time) error,
) (*model.Account, error) {
	defer observe(op, time.Now())

	if !amount.IsPositive() {
		return nil, e.fail(op, userID, validationErr(op, "amount must be positive"))
	}

	var acct *model.Account
	err := e.store.WithinUserTx(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		a, err := loadAccount(ctx, tx, op, userID)
		if err != nil {
			return err
		}
		if err := apply(a, amount, e.now()); err != nil {
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				return newError(KindInsufficientFunds, op, "amount exceeds available funds", err)
			}
			return newError(KindValidation, op, err.Error(), err)
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, e.fail(op, userID, err)
	}

	slog.Info("account "+op,
		"user_id", userID,
		"amount", amount.String(),
		"cash_balance", acct.CashBalance.String(),
	)
	e.publish(model.Event{Type: model.EventAccountUpdated, UserID: userID, Timestamp: acct.LastUpdated})
	return acct, nil
}

// --- Orders ---

// SubmitMarketOrder opens a position immediately. The margin (and fee
// when fees are charged) must be covered by available funds; otherwise
// nothing is created.
func (e *Engine) SubmitMarketOrder(ctx context.Context, userID string, req OrderRequest) (SubmitResult, error) {
	const op = "submit_market_order"
	defer observe(op, time.Now())

	req, err := req.normalize(op, model.OrderMarket, e.now())
	if err != nil {
		return SubmitResult{}, e.fail(op, userID, err)
	}

	total := margin.TotalAmount(req.Units, req.PricePerUnit)
	required := e.calc.Required(req.MarketType, total)
	fee := decimal.Zero
	if e.chargeFees {
		fee = e.calc.Fee(total)
	}
	if err := e.limits.CheckOrder(total); err != nil {
		return SubmitResult{}, e.fail(op, userID, newError(KindLimitExceeded, op, "order rejected by risk limits", err))
	}

	var order *model.Order
	err = e.store.WithinUserTx(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, op, userID)
		if err != nil {
			return err
		}
		if err := ledger.Validate(acct); err != nil {
			return newError(KindInvalidAccountState, op, "account is inconsistent", err)
		}

		if e.limits != nil {
			open, err := tx.ListOrders(ctx, userID, model.StatusOpen)
			if err != nil {
				return err
			}
			if err := e.limits.CheckOpen(req.MarketType, total, open); err != nil {
				return newError(KindLimitExceeded, op, "order rejected by risk limits", err)
			}
		}

		if !margin.Affordable(acct, required.Add(fee)) {
			return newError(KindInsufficientFunds, op,
				"available funds "+acct.AvailableFunds.String()+" < required "+required.Add(fee).String(), nil)
		}

		now := e.now()
		order = newOrder(userID, req, now)
		order.Status = model.StatusOpen
		order.ExecutedAt = &now
		order.MarginUsed = required
		order.Fee = fee
		order.PaperTrade = acct.PaperTrading

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := ledger.DebitForOpen(acct, required, fee, now); err != nil {
			return newError(KindInvalidAccountState, op, "debit rejected", err)
		}
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		return applyFill(ctx, tx, portfolio.OpeningFill(order), now)
	})
	if err != nil {
		return SubmitResult{}, e.fail(op, userID, err)
	}

	metrics.OrdersSubmitted.WithLabelValues(string(order.OrderType), string(order.TradeType), metrics.Mode(order.PaperTrade)).Inc()
	slog.Info("order opened",
		"order_id", order.ID,
		"user_id", userID,
		"symbol", order.AssetSymbol,
		"trade_type", order.TradeType,
		"units", order.Units.String(),
		"price", order.PricePerUnit.String(),
		"margin", required.String(),
		"fee", fee.String(),
		"paper", order.PaperTrade,
	)
	e.publish(orderEvent(model.EventOrderOpened, order, *order.ExecutedAt))

	return SubmitResult{
		OrderID:    order.ID,
		Status:     order.Status,
		MarginUsed: order.MarginUsed,
		Fee:        order.Fee,
	}, nil
}

// SubmitEntryOrder records a pending order. No funds are checked or
// locked; the account must exist.
func (e *Engine) SubmitEntryOrder(ctx context.Context, userID string, req OrderRequest) (SubmitResult, error) {
	const op = "submit_entry_order"
	defer observe(op, time.Now())

	req, err := req.normalize(op, model.OrderEntry, e.now())
	if err != nil {
		return SubmitResult{}, e.fail(op, userID, err)
	}
	if err := e.limits.CheckOrder(margin.TotalAmount(req.Units, req.PricePerUnit)); err != nil {
		return SubmitResult{}, e.fail(op, userID, newError(KindLimitExceeded, op, "order rejected by risk limits", err))
	}

	var order *model.Order
	err = e.store.WithinUserTx(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, op, userID)
		if err != nil {
			return err
		}

		order = newOrder(userID, req, e.now())
		order.Status = model.StatusPending
		order.PaperTrade = acct.PaperTrading
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return SubmitResult{}, e.fail(op, userID, err)
	}

	metrics.OrdersSubmitted.WithLabelValues(string(order.OrderType), string(order.TradeType), metrics.Mode(order.PaperTrade)).Inc()
	slog.Info("entry order placed",
		"order_id", order.ID,
		"user_id", userID,
		"symbol", order.AssetSymbol,
		"trade_type", order.TradeType,
		"price", order.PricePerUnit.String(),
	)
	e.publish(orderEvent(model.EventOrderPending, order, order.CreatedAt))

	return SubmitResult{
		OrderID:    order.ID,
		Status:     order.Status,
		MarginUsed: decimal.Zero,
		Fee:        decimal.Zero,
	}, nil
}

// ClosePosition closes an open order at closePrice. A zero closePrice is
// resolved from the quote source before the transaction starts. The
// margin released is the margin locked when the order opened.
func (e *Engine) ClosePosition(ctx context.Context, userID, orderID string, closePrice decimal.Decimal) (CloseResult, error) {
	const op = "close_position"
	defer observe(op, time.Now())

	if closePrice.IsNegative() {
		return CloseResult{}, e.fail(op, userID, validationErr(op, "close_price must be positive"))
	}
	if closePrice.IsZero() {
		o, err := e.Order(ctx, userID, orderID)
		if err != nil {
			return CloseResult{}, err
		}
		if o.Status != model.StatusOpen {
			return CloseResult{}, e.fail(op, userID, invalidState(op, o))
		}
		closePrice, err = e.resolveQuote(ctx, op, o.AssetSymbol)
		if err != nil {
			return CloseResult{}, e.fail(op, userID, err)
		}
	}

	var order *model.Order
	var pnl, released decimal.Decimal
	err := e.store.WithinUserTx(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		o, err := loadOrder(ctx, tx, op, userID, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.StatusOpen {
			return invalidState(op, o)
		}
		acct, err := loadAccount(ctx, tx, op, userID)
		if err != nil {
			return err
		}

		now := e.now()
		pnl = margin.PnL(o.TradeType, o.PricePerUnit, closePrice, o.Units)
		locked := o.MarginUsed
		if !locked.IsPositive() {
			locked = e.calc.Required(o.MarketType, o.TotalAmount)
		}
		released = ledger.CreditForClose(acct, locked, pnl, now)

		o.Status = model.StatusClosed
		o.ClosedAt = &now
		cp, p := closePrice, pnl
		o.ClosePrice = &cp
		o.PnL = &p

		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if err := applyFill(ctx, tx, portfolio.ClosingFill(o, closePrice), now); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return CloseResult{}, e.fail(op, userID, err)
	}

	metrics.PositionsClosed.WithLabelValues(string(order.TradeType), metrics.Mode(order.PaperTrade)).Inc()
	slog.Info("position closed",
		"order_id", order.ID,
		"user_id", userID,
		"symbol", order.AssetSymbol,
		"close_price", closePrice.String(),
		"pnl", pnl.String(),
		"released_margin", released.String(),
	)
	ev := orderEvent(model.EventPositionClosed, order, *order.ClosedAt)
	ev.PnL = order.PnL
	e.publish(ev)

	return CloseResult{
		OrderID:        order.ID,
		ClosePrice:     closePrice,
		PnL:            pnl,
		ReleasedMargin: released,
	}, nil
}

// CancelOrder cancels a pending order. There is no financial effect.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID string) error {
	const op = "cancel_order"
	defer observe(op, time.Now())

	var order *model.Order
	err := e.store.WithinUserTx(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		o, err := loadOrder(ctx, tx, op, userID, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.StatusPending {
			return invalidState(op, o)
		}
		now := e.now()
		o.Status = model.StatusCancelled
		o.ClosedAt = &now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return e.fail(op, userID, err)
	}

	metrics.OrdersCancelled.WithLabelValues("user").Inc()
	slog.Info("order cancelled", "order_id", orderID, "user_id", userID)
	e.publish(orderEvent(model.EventOrderCancelled, order, *order.ClosedAt))
	return nil
}

// ExpireEntryOrders cancels the pending orders of userID whose expiration
// date is at or before asOf. A zero asOf means now. The IDs of the
// expired orders are returned.
func (e *Engine) ExpireEntryOrders(ctx context.Context, userID string, asOf time.Time) ([]string, error) {
	const op = "expire_entry_orders"
	defer observe(op, time.Now())

	if asOf.IsZero() {
		asOf = e.now()
	}

	var expired []*model.Order
	err := e.store.WithinUserTx(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		if _, err := loadAccount(ctx, tx, op, userID); err != nil {
			return err
		}
		pending, err := tx.ListOrders(ctx, userID, model.StatusPending)
		if err != nil {
			return err
		}

		now := e.now()
		for i := range pending {
			o := &pending[i]
			if o.ExpirationDate == nil || o.ExpirationDate.After(asOf) {
				continue
			}
			o.Status = model.StatusCancelled
			o.ClosedAt = &now
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			expired = append(expired, o)
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, userID, err)
	}

	ids := make([]string, 0, len(expired))
	for _, o := range expired {
		ids = append(ids, o.ID)
		metrics.OrdersCancelled.WithLabelValues("expired").Inc()
		e.publish(orderEvent(model.EventOrderExpired, o, *o.ClosedAt))
	}
	if len(ids) > 0 {
		slog.Info("entry orders expired", "user_id", userID, "count", len(ids))
	}
	return ids, nil
}

// --- Portfolio ---

// RefreshPortfolio marks every portfolio entry of userID to the current
// quote and stores the summed pnl as the account's unrealised pnl. Quotes
// are resolved before the transaction starts.
func (e *Engine) RefreshPortfolio(ctx context.Context, userID string) (PortfolioView, error) {
	const op = "refresh_portfolio"
	defer observe(op, time.Now())

	if _, err := e.Account(ctx, userID); err != nil {
		return PortfolioView{}, err
	}
	current, err := e.store.ListPortfolio(ctx, userID)
	if err != nil {
		return PortfolioView{}, e.fail(op, userID, newError(KindPersistence, op, "list portfolio", err))
	}
	symbols := make([]string, 0, len(current))
	for _, entry := range current {
		symbols = append(symbols, entry.AssetSymbol)
	}
	prices, err := e.resolveQuotes(ctx, op, symbols)
	if err != nil {
		return PortfolioView{}, e.fail(op, userID, err)
	}

	var view PortfolioView
	err = e.store.WithinUserTx(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, op, userID)
		if err != nil {
			return err
		}
		entries, err := tx.ListPortfolio(ctx, userID)
		if err != nil {
			return err
		}

		now := e.now()
		for i := range entries {
			price, ok := prices[entries[i].AssetSymbol]
			if !ok {
				// Opened after the quotes were resolved; keep its last mark.
				continue
			}
			portfolio.Revalue(&entries[i], price, now)
			if err := tx.UpdatePortfolioEntry(ctx, &entries[i]); err != nil {
				return err
			}
		}

		ledger.MarkToMarket(acct, portfolio.TotalPnL(entries), now)
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		view = PortfolioView{Account: acct, Entries: entries}
		return nil
	})
	if err != nil {
		return PortfolioView{}, e.fail(op, userID, err)
	}

	slog.Debug("portfolio refreshed",
		"user_id", userID,
		"entries", len(view.Entries),
		"unrealized_pnl", view.Account.UnrealizedPnL.String(),
	)
	e.publish(model.Event{Type: model.EventAccountUpdated, UserID: userID, Timestamp: view.Account.LastUpdated})
	return view, nil
}

// --- Reads ---

// Account returns the account of userID.
func (e *Engine) Account(ctx context.Context, userID string) (*model.Account, error) {
	const op = "get_account"
	a, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, e.fail(op, userID, readErr(op, "account not found", err))
	}
	return a, nil
}

// Order returns one order of userID. Orders of other users are reported
// as not found.
func (e *Engine) Order(ctx context.Context, userID, orderID string) (*model.Order, error) {
	const op = "get_order"
	o, err := e.store.GetOrder(ctx, orderID)
	if err == nil && o.UserID != userID {
		err = store.ErrNotFound
	}
	if err != nil {
		return nil, e.fail(op, userID, readErr(op, "order not found", err))
	}
	return o, nil
}

// Orders lists the orders of userID, newest first. An empty status lists
// every order.
func (e *Engine) Orders(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	const op = "list_orders"
	if status != "" && !status.Valid() {
		return nil, e.fail(op, userID, validationErr(op, "unknown status %q", status))
	}
	if _, err := e.Account(ctx, userID); err != nil {
		return nil, err
	}
	orders, err := e.store.ListOrders(ctx, userID, status)
	if err != nil {
		return nil, e.fail(op, userID, readErr(op, "list orders", err))
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// Portfolio returns the account of userID with its portfolio entries as
// last marked.
func (e *Engine) Portfolio(ctx context.Context, userID string) (PortfolioView, error) {
	const op = "get_portfolio"
	acct, err := e.Account(ctx, userID)
	if err != nil {
		return PortfolioView{}, err
	}
	entries, err := e.store.ListPortfolio(ctx, userID)
	if err != nil {
		return PortfolioView{}, e.fail(op, userID, readErr(op, "list portfolio", err))
	}
	if entries == nil {
		entries = []model.PortfolioEntry{}
	}
	return PortfolioView{Account: acct, Entries: entries}, nil
}

// --- helpers ---

func newOrder(userID string, req OrderRequest, now time.Time) *model.Order {
	return &model.Order{
		ID:             uuid.New().String(),
		UserID:         userID,
		AssetSymbol:    req.AssetSymbol,
		AssetName:      req.AssetName,
		MarketType:     req.MarketType,
		Units:          req.Units,
		PricePerUnit:   req.PricePerUnit,
		TotalAmount:    margin.TotalAmount(req.Units, req.PricePerUnit),
		TradeType:      req.TradeType,
		OrderType:      req.OrderType,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		ExpirationDate: req.ExpirationDate,
		MarginUsed:     decimal.Zero,
		Fee:            decimal.Zero,
		CreatedAt:      now,
	}
}

func loadAccount(ctx context.Context, tx store.Tx, op, userID string) (*model.Account, error) {
	a, err := tx.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, op, "account not found", err)
	}
	return a, err
}

func loadOrder(ctx context.Context, tx store.Tx, op, userID, orderID string) (*model.Order, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err == nil && o.UserID != userID {
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, op, "order not found", err)
	}
	return o, err
}

// applyFill folds f into the user's net position in f.Symbol.
func applyFill(ctx context.Context, tx store.Tx, f portfolio.Fill, now time.Time) error {
	existing, err := tx.GetPortfolioEntry(ctx, f.UserID, f.Symbol)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	entry, action := portfolio.Apply(existing, f, now)
	switch action {
	case portfolio.ActionInsert:
		return tx.InsertPortfolioEntry(ctx, entry)
	case portfolio.ActionUpdate:
		return tx.UpdatePortfolioEntry(ctx, entry)
	case portfolio.ActionDelete:
		return tx.DeletePortfolioEntry(ctx, entry.ID)
	}
	return nil
}

func (e *Engine) resolveQuote(ctx context.Context, op, symbol string) (decimal.Decimal, error) {
	if e.quotes == nil {
		return decimal.Zero, newError(KindQuoteUnavailable, op, "no quote source configured", nil)
	}
	p, err := e.quotes.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, quoteErr(op, err)
	}
	return p, nil
}

// resolveQuotes prices every symbol or fails as a whole.
func (e *Engine) resolveQuotes(ctx context.Context, op string, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	if e.quotes == nil {
		return nil, newError(KindQuoteUnavailable, op, "no quote source configured", nil)
	}
	prices, err := quote.Quotes(ctx, e.quotes, symbols)
	if err != nil {
		return nil, quoteErr(op, err)
	}
	return prices, nil
}

func quoteErr(op string, err error) *Error {
	return newError(KindQuoteUnavailable, op, "quote unavailable", err)
}

func invalidState(op string, o *model.Order) *Error {
	return newError(KindInvalidState, op, "order "+o.ID+" is "+string(o.Status), nil)
}

func readErr(op, msg string, err error) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, op, msg, err)
	}
	return newError(KindPersistence, op, msg, err)
}

func orderEvent(t model.EventType, o *model.Order, at time.Time) model.Event {
	return model.Event{
		Type:      t,
		UserID:    o.UserID,
		OrderID:   o.ID,
		Symbol:    o.AssetSymbol,
		Status:    o.Status,
		Timestamp: at,
	}
}

func (e *Engine) publish(ev model.Event) {
	if e.notifier != nil {
		e.notifier.Publish(ev)
	}
}

// fail classifies err, records it and returns it as an *Error.
func (e *Engine) fail(op, userID string, err error) error {
	if err == nil {
		return nil
	}
	err = wrapTx(op, err)
	kind := KindOf(err)

	metrics.Rejections.WithLabelValues(op, string(kind)).Inc()
	if kind == KindLimitExceeded {
		metrics.RiskLimitRejections.Inc()
	}

	if kind == KindPersistence {
		slog.Error("operation failed", "op", op, "user_id", userID, "err", err)
	} else {
		slog.Warn("operation rejected", "op", op, "user_id", userID, "kind", kind, "err", err)
	}
	return err
}

func observe(op string, start time.Time) {
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
