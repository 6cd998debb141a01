// Package model defines the core domain types shared across the margin engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the direction of an order.
type TradeType string

// OrderType distinguishes immediately executed orders from pending ones.
type OrderType string

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

const (
	OrderMarket OrderType = "market"
	OrderEntry  OrderType = "entry"
)

const (
	StatusPending   OrderStatus = "pending"
	StatusOpen      OrderStatus = "open"
	StatusClosed    OrderStatus = "closed"
	StatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether t is a known trade direction.
func (t TradeType) Valid() bool { return t == TradeBuy || t == TradeSell }

// Sign is +1 for buys and -1 for sells.
func (t TradeType) Sign() decimal.Decimal {
	if t == TradeSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the other direction.
func (t TradeType) Opposite() TradeType {
	if t == TradeSell {
		return TradeBuy
	}
	return TradeSell
}

// Valid reports whether o is a known order type.
func (o OrderType) Valid() bool { return o == OrderMarket || o == OrderEntry }

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Account is the single ledger record owned by one user.
//
// AvailableFunds = CashBalance - UsedMargin (never below zero) and
// Equity = CashBalance + UnrealizedPnL. Only the ledger package mutates it.
type Account struct {
	UserID         string          `json:"user_id" db:"user_id"`
	CashBalance    decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	Equity         decimal.Decimal `json:"equity" db:"equity"`
	UsedMargin     decimal.Decimal `json:"used_margin" db:"used_margin"`
	AvailableFunds decimal.Decimal `json:"available_funds" db:"available_funds"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	PaperTrading   bool            `json:"paper_trading" db:"paper_trading"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	LastUpdated    time.Time       `json:"last_updated" db:"last_updated"`
}

// Order is one submitted trade request. Once Status is terminal the
// economic fields are never modified again.
type Order struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"user_id" db:"user_id"`
	AssetSymbol    string           `json:"asset_symbol" db:"asset_symbol"`
	AssetName      string           `json:"asset_name" db:"asset_name"`
	MarketType     string           `json:"market_type" db:"market_type"`
	Units          decimal.Decimal  `json:"units" db:"units"`
	PricePerUnit   decimal.Decimal  `json:"price_per_unit" db:"price_per_unit"`
	TotalAmount    decimal.Decimal  `json:"total_amount" db:"total_amount"` // units * price_per_unit
	TradeType      TradeType        `json:"trade_type" db:"trade_type"`
	OrderType      OrderType        `json:"order_type" db:"order_type"`
	Status         OrderStatus      `json:"status" db:"status"`
	StopLoss       *decimal.Decimal `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit     *decimal.Decimal `json:"take_profit,omitempty" db:"take_profit"`
	ExpirationDate *time.Time       `json:"expiration_date,omitempty" db:"expiration_date"`
	MarginUsed     decimal.Decimal  `json:"margin_used" db:"margin_used"` // locked at open
	Fee            decimal.Decimal  `json:"fee" db:"fee"`
	PaperTrade     bool             `json:"paper_trade" db:"paper_trade"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	ExecutedAt     *time.Time       `json:"executed_at,omitempty" db:"executed_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
	ClosePrice     *decimal.Decimal `json:"close_price,omitempty" db:"close_price"`
	PnL            *decimal.Decimal `json:"pnl,omitempty" db:"pnl"`
}

// PortfolioEntry is the net open exposure of one user in one symbol.
type PortfolioEntry struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	AssetSymbol   string          `json:"asset_symbol" db:"asset_symbol"`
	AssetName     string          `json:"asset_name" db:"asset_name"`
	MarketType    string          `json:"market_type" db:"market_type"`
	Side          TradeType       `json:"side" db:"side"` // buy = long, sell = short
	Units         decimal.Decimal `json:"units" db:"units"`
	AveragePrice  decimal.Decimal `json:"average_price" db:"average_price"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	TotalValue    decimal.Decimal `json:"total_value" db:"total_value"`
	PnL           decimal.Decimal `json:"pnl" db:"pnl"`
	PnLPercentage decimal.Decimal `json:"pnl_percentage" db:"pnl_percentage"`
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
}

// EventType names a committed engine transition.
type EventType string

const (
	EventOrderOpened    EventType = "order_opened"
	EventOrderPending   EventType = "order_pending"
	EventPositionClosed EventType = "position_closed"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderExpired   EventType = "order_expired"
	EventAccountUpdated EventType = "account_updated"
)

// Event is published after a transition has been committed.
type Event struct {
	Type      EventType        `json:"type"`
	UserID    string           `json:"user_id"`
	OrderID   string           `json:"order_id,omitempty"`
	Symbol    string           `json:"symbol,omitempty"`
	Status    OrderStatus      `json:"status,omitempty"`
	PnL       *decimal.Decimal `json:"pnl,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
