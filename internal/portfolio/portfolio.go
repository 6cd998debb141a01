// Package portfolio folds order fills into one net position per
// (user, symbol).
//
// Entries are signed-net: a fill in the entry's direction grows it and
// re-weights the average price; a fill in the other direction (an opposing
// order or a position close) shrinks it, removes it at zero, or flips its
// side when it crosses zero.
package portfolio

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/model"
)

// Scale is the number of decimal places kept for prices and P&L.
var Scale int32 = 8

var hundred = decimal.NewFromInt(100)

// Action tells the caller which write the store needs.
type Action int

const (
	ActionNone Action = iota
	ActionInsert
	ActionUpdate
	ActionDelete
)

// Fill is a signed change of exposure at a price.
type Fill struct {
	UserID     string
	Symbol     string
	Name       string
	MarketType string
	Side       model.TradeType
	Units      decimal.Decimal
	Price      decimal.Decimal
}

// OpeningFill builds the fill produced by opening o.
func OpeningFill(o *model.Order) Fill {
	return Fill{
		UserID:     o.UserID,
		Symbol:     o.AssetSymbol,
		Name:       o.AssetName,
		MarketType: o.MarketType,
		Side:       o.TradeType,
		Units:      o.Units,
		Price:      o.PricePerUnit,
	}
}

// ClosingFill builds the fill produced by closing o at closePrice.
func ClosingFill(o *model.Order, closePrice decimal.Decimal) Fill {
	f := OpeningFill(o)
	f.Side = o.TradeType.Opposite()
	f.Price = closePrice
	return f
}

// Apply folds f into existing (which may be nil) and returns the resulting
// entry with the write the caller must perform. existing is not modified.
func Apply(existing *model.PortfolioEntry, f Fill, now time.Time) (*model.PortfolioEntry, Action) {
	if !f.Units.IsPositive() {
		return existing, ActionNone
	}

	if existing == nil {
		e := &model.PortfolioEntry{
			ID:           uuid.New().String(),
			UserID:       f.UserID,
			AssetSymbol:  f.Symbol,
			AssetName:    f.Name,
			MarketType:   f.MarketType,
			Side:         f.Side,
			Units:        f.Units,
			AveragePrice: f.Price,
		}
		Revalue(e, f.Price, now)
		return e, ActionInsert
	}

	e := *existing
	switch {
	case f.Side == e.Side:
		newUnits := e.Units.Add(f.Units)
		e.AveragePrice = e.AveragePrice.Mul(e.Units).
			Add(f.Price.Mul(f.Units)).
			Div(newUnits).
			Round(Scale)
		e.Units = newUnits

	case f.Units.LessThan(e.Units):
		e.Units = e.Units.Sub(f.Units)

	case f.Units.Equal(e.Units):
		e.Units = decimal.Zero
		e.LastUpdated = now
		return &e, ActionDelete

	default:
		e.Side = f.Side
		e.Units = f.Units.Sub(e.Units)
		e.AveragePrice = f.Price
	}

	if e.AssetName == "" {
		e.AssetName = f.Name
	}
	Revalue(&e, f.Price, now)
	return &e, ActionUpdate
}

// Revalue marks e to currentPrice:
//
//	totalValue    = units * currentPrice
//	pnl           = (currentPrice - averagePrice) * units * sign(side)
//	pnlPercentage = pnl / (averagePrice * units) * 100
func Revalue(e *model.PortfolioEntry, currentPrice decimal.Decimal, now time.Time) {
	e.CurrentPrice = currentPrice
	e.TotalValue = e.Units.Mul(currentPrice)
	e.PnL = currentPrice.Sub(e.AveragePrice).Mul(e.Units).Mul(e.Side.Sign()).Round(Scale)

	cost := e.AveragePrice.Mul(e.Units)
	if cost.IsZero() {
		e.PnLPercentage = decimal.Zero
	} else {
		e.PnLPercentage = e.PnL.Div(cost).Mul(hundred).Round(4)
	}
	e.LastUpdated = now
}

// TotalPnL sums the unrealised pnl of entries.
func TotalPnL(entries []model.PortfolioEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.PnL)
	}
	return total
}
