// Package margin implements the leverage table and the pure margin
// arithmetic used by the order engine: required margin, trading fees and
// affordability.
//
// All monetary values use shopspring/decimal, never float64.
// Nothing in this package performs I/O.
package margin

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/asset"
	"github.com/tradeflow/margin-engine/internal/model"
)

var (
	// ErrInvalidLeverage is returned when a table entry is not positive.
	ErrInvalidLeverage = errors.New("margin: leverage must be positive")

	// ErrInvalidFeeRate is returned when the fee rate is negative.
	ErrInvalidFeeRate = errors.New("margin: fee rate must not be negative")

	// DefaultFeeRate is charged on notional (0.1%).
	DefaultFeeRate = decimal.NewFromFloat(0.001)

	// MoneyScale is the number of decimal places kept for margin and fees.
	MoneyScale int32 = 8
)

// defaultLeverage is the maximum leverage per asset class.
var defaultLeverage = map[string]int64{
	asset.TypeStocks:      20,
	asset.TypeIndices:     50,
	asset.TypeCommodities: 50,
	asset.TypeForex:       100,
	asset.TypeCrypto:      50,
}

// Table maps market type to maximum leverage. Unknown market types are
// fully margined (leverage 1). It is immutable after construction.
type Table struct {
	leverage map[string]decimal.Decimal
}

// DefaultTable returns the built-in leverage table.
func DefaultTable() *Table {
	t := &Table{leverage: make(map[string]decimal.Decimal, len(defaultLeverage))}
	for k, v := range defaultLeverage {
		t.leverage[strings.ToLower(k)] = decimal.NewFromInt(v)
	}
	return t
}

// NewTable builds a table from the defaults with the given overrides
// applied on top. Override keys are matched case-insensitively.
func NewTable(overrides map[string]decimal.Decimal) (*Table, error) {
	t := DefaultTable()
	for k, v := range overrides {
		if v.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidLeverage
		}
		t.leverage[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return t, nil
}

// Leverage returns the leverage for marketType, or 1 when unknown.
func (t *Table) Leverage(marketType string) decimal.Decimal {
	if lev, ok := t.leverage[strings.ToLower(strings.TrimSpace(marketType))]; ok {
		return lev
	}
	return decimal.NewFromInt(1)
}

// Entries returns a copy of the table keyed by canonical market type.
func (t *Table) Entries() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(t.leverage))
	for k, v := range t.leverage {
		name, _ := asset.CanonicalType(k)
		out[name] = v
	}
	return out
}

// Types returns the market types in the table, sorted.
func (t *Table) Types() []string {
	entries := t.Entries()
	types := make([]string, 0, len(entries))
	for k := range entries {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// Required returns totalAmount / leverage(marketType).
func (t *Table) Required(marketType string, totalAmount decimal.Decimal) decimal.Decimal {
	return totalAmount.Div(t.Leverage(marketType)).Round(MoneyScale)
}

// Calculator bundles the leverage table with the fee schedule.
type Calculator struct {
	table   *Table
	feeRate decimal.Decimal
}

// NewCalculator creates a calculator. A nil table means DefaultTable.
func NewCalculator(table *Table, feeRate decimal.Decimal) (*Calculator, error) {
	if feeRate.IsNegative() {
		return nil, ErrInvalidFeeRate
	}
	if table == nil {
		table = DefaultTable()
	}
	return &Calculator{table: table, feeRate: feeRate}, nil
}

// Table returns the underlying leverage table.
func (c *Calculator) Table() *Table { return c.table }

// FeeRate returns the configured fee rate.
func (c *Calculator) FeeRate() decimal.Decimal { return c.feeRate }

// Required is the margin locked when opening totalAmount of marketType.
func (c *Calculator) Required(marketType string, totalAmount decimal.Decimal) decimal.Decimal {
	return c.table.Required(marketType, totalAmount)
}

// Fee returns totalAmount * feeRate.
func (c *Calculator) Fee(totalAmount decimal.Decimal) decimal.Decimal {
	return totalAmount.Mul(c.feeRate).Round(MoneyScale)
}

// TotalAmount is units * pricePerUnit.
func TotalAmount(units, pricePerUnit decimal.Decimal) decimal.Decimal {
	return units.Mul(pricePerUnit)
}

// Affordable reports whether the account can lock required.
func Affordable(acct *model.Account, required decimal.Decimal) bool {
	return acct.AvailableFunds.GreaterThanOrEqual(required)
}

// PnL is the realised profit of closing an order at closePrice:
// (close - open) * units for buys, (open - close) * units for sells.
func PnL(tradeType model.TradeType, openPrice, closePrice, units decimal.Decimal) decimal.Decimal {
	return closePrice.Sub(openPrice).Mul(units).Mul(tradeType.Sign())
}
