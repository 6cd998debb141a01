// Package asset handles instrument symbol normalisation and the catalogue
// of market types (asset classes) the engine knows leverage for.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Known market types.
const (
	TypeStocks      = "Stocks"
	TypeIndices     = "Indices"
	TypeCommodities = "Commodities"
	TypeForex       = "Forex"
	TypeCrypto      = "Crypto"
)

var knownTypes = map[string]string{
	"stocks":      TypeStocks,
	"indices":     TypeIndices,
	"commodities": TypeCommodities,
	"forex":       TypeForex,
	"crypto":      TypeCrypto,
}

// symbolRegex accepts quote-provider style tickers:
// AAPL, BTC-USD, EURUSD=X, ^GSPC, XAU/USD, BRK.B
var symbolRegex = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.\-/=]{0,23}$`)

var (
	ErrEmptySymbol   = errors.New("asset: symbol is required")
	ErrInvalidSymbol = errors.New("asset: invalid symbol format")
)

// NormalizeSymbol trims and upper-cases a symbol and validates its shape.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", ErrEmptySymbol
	}
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// CanonicalType maps a market type to its canonical spelling.
// Unknown types are returned trimmed and ok is false.
func CanonicalType(marketType string) (canonical string, ok bool) {
	t := strings.TrimSpace(marketType)
	if c, found := knownTypes[strings.ToLower(t)]; found {
		return c, true
	}
	return t, false
}

// KnownTypes lists the canonical market types in display order.
func KnownTypes() []string {
	return []string{TypeStocks, TypeIndices, TypeCommodities, TypeForex, TypeCrypto}
}
