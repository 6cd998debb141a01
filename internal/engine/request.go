package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/asset"
	"github.com/tradeflow/margin-engine/internal/model"
)

// OrderRequest is the caller-supplied shape of a new order.
type OrderRequest struct {
	AssetSymbol    string           `json:"asset_symbol"`
	AssetName      string           `json:"asset_name"`
	MarketType     string           `json:"market_type"`
	Units          decimal.Decimal  `json:"units"`
	PricePerUnit   decimal.Decimal  `json:"price_per_unit"`
	TradeType      model.TradeType  `json:"trade_type"`
	OrderType      model.OrderType  `json:"order_type"`
	StopLoss       *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal `json:"take_profit,omitempty"`
	ExpirationDate *time.Time       `json:"expiration_date,omitempty"`
}

// SubmitResult is returned by the submit operations.
type SubmitResult struct {
	OrderID    string            `json:"order_id"`
	Status     model.OrderStatus `json:"status"`
	MarginUsed decimal.Decimal   `json:"margin_used"`
	Fee        decimal.Decimal   `json:"fee"`
}

// CloseResult is returned by ClosePosition.
type CloseResult struct {
	OrderID        string          `json:"order_id"`
	ClosePrice     decimal.Decimal `json:"close_price"`
	PnL            decimal.Decimal `json:"pnl"`
	ReleasedMargin decimal.Decimal `json:"released_margin"`
}

// PortfolioView is an account together with its open exposure.
type PortfolioView struct {
	Account *model.Account         `json:"account"`
	Entries []model.PortfolioEntry `json:"entries"`
}

// normalize validates r for an order of type want and returns a cleaned copy.
func (r OrderRequest) normalize(op string, want model.OrderType, now time.Time) (OrderRequest, error) {
	sym, err := asset.NormalizeSymbol(r.AssetSymbol)
	if err != nil {
		if errors.Is(err, asset.ErrEmptySymbol) {
			return r, validationErr(op, "asset_symbol is required")
		}
		return r, validationErr(op, "invalid asset_symbol %q", r.AssetSymbol)
	}
	r.AssetSymbol = sym
	r.MarketType, _ = asset.CanonicalType(r.MarketType)

	if !r.Units.IsPositive() {
		return r, validationErr(op, "units must be positive")
	}
	if !r.PricePerUnit.IsPositive() {
		return r, validationErr(op, "price_per_unit must be positive")
	}
	if !r.TradeType.Valid() {
		return r, validationErr(op, "trade_type must be buy or sell, got %q", r.TradeType)
	}
	if r.OrderType == "" {
		r.OrderType = want
	}
	if !r.OrderType.Valid() {
		return r, validationErr(op, "order_type must be market or entry, got %q", r.OrderType)
	}
	if r.OrderType != want {
		return r, validationErr(op, "expected order_type %s, got %s", want, r.OrderType)
	}
	if r.StopLoss != nil && !r.StopLoss.IsPositive() {
		return r, validationErr(op, "stop_loss must be positive")
	}
	if r.TakeProfit != nil && !r.TakeProfit.IsPositive() {
		return r, validationErr(op, "take_profit must be positive")
	}

	if r.ExpirationDate != nil {
		if want != model.OrderEntry {
			return r, validationErr(op, "expiration_date is only valid for entry orders")
		}
		if !r.ExpirationDate.After(now) {
			return r, validationErr(op, "expiration_date must be in the future")
		}
		exp := r.ExpirationDate.UTC()
		r.ExpirationDate = &exp
	}
	return r, nil
}
