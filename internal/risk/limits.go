// Package risk implements pre-trade exposure limits applied before an order
// is accepted.
//
// All limits are optional: a zero value disables the corresponding check.
// Aggregate exposure is measured on open positions only (pending entry
// orders lock no margin and carry no exposure).
package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/model"
)

var (
	// ErrMaxOpenPositions is returned when the user already holds the
	// maximum number of open positions.
	ErrMaxOpenPositions = errors.New("risk: maximum open positions reached")

	// ErrOrderNotionalExceeded is returned when a single order's notional
	// exceeds the per-order maximum.
	ErrOrderNotionalExceeded = errors.New("risk: order notional limit exceeded")

	// ErrClassExposureExceeded is returned when an order would push the
	// aggregate open notional of its market type beyond the maximum.
	ErrClassExposureExceeded = errors.New("risk: market type exposure limit exceeded")
)

// Limits enforces per-user exposure limits.
type Limits struct {
	// MaxOpenPositions caps the number of simultaneously open orders.
	MaxOpenPositions int

	// MaxOrderNotional caps units * price of a single order.
	MaxOrderNotional decimal.Decimal

	// MaxClassExposure caps the summed notional of open orders sharing a
	// market type, including the order being checked.
	MaxClassExposure decimal.Decimal
}

// NewLimits creates a limiter. Negative values are treated as disabled.
func NewLimits(maxOpen int, maxOrderNotional, maxClassExposure decimal.Decimal) *Limits {
	if maxOpen < 0 {
		maxOpen = 0
	}
	if maxOrderNotional.IsNegative() {
		maxOrderNotional = decimal.Zero
	}
	if maxClassExposure.IsNegative() {
		maxClassExposure = decimal.Zero
	}
	return &Limits{
		MaxOpenPositions: maxOpen,
		MaxOrderNotional: maxOrderNotional,
		MaxClassExposure: maxClassExposure,
	}
}

// CheckOrder validates the size of a single order.
func (l *Limits) CheckOrder(notional decimal.Decimal) error {
	if l == nil {
		return nil
	}
	if l.MaxOrderNotional.IsPositive() && notional.GreaterThan(l.MaxOrderNotional) {
		return fmt.Errorf("%w: %s > %s", ErrOrderNotionalExceeded, notional, l.MaxOrderNotional)
	}
	return nil
}

// CheckOpen validates opening a position of notional in marketType given
// the user's currently open orders.
func (l *Limits) CheckOpen(marketType string, notional decimal.Decimal, open []model.Order) error {
	if l == nil {
		return nil
	}
	if err := l.CheckOrder(notional); err != nil {
		return err
	}

	// 1. Position count.
	count := 0
	classTotal := notional
	for _, o := range open {
		if o.Status != model.StatusOpen {
			continue
		}
		count++
		if strings.EqualFold(o.MarketType, marketType) {
			classTotal = classTotal.Add(o.TotalAmount)
		}
	}
	if l.MaxOpenPositions > 0 && count >= l.MaxOpenPositions {
		return fmt.Errorf("%w (%d)", ErrMaxOpenPositions, l.MaxOpenPositions)
	}

	// 2. Aggregate exposure per market type.
	if l.MaxClassExposure.IsPositive() && classTotal.GreaterThan(l.MaxClassExposure) {
		return fmt.Errorf("%w: %s %s > %s", ErrClassExposureExceeded, marketType, classTotal, l.MaxClassExposure)
	}
	return nil
}
