// Package quote defines the price lookup the engine consumes from the
// market-data side, plus two implementations: an in-memory book for tests
// and development, and a Redis book fed by the market-data aggregator.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoQuote is returned when no price is known for a symbol.
	ErrNoQuote = errors.New("quote: no price available")

	// ErrInvalidPrice is returned when publishing a non-positive price.
	ErrInvalidPrice = errors.New("quote: price must be positive")
)

// Source returns the current price of a symbol.
type Source interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Book is a Source that also accepts price updates.
type Book interface {
	Source
	SetQuote(ctx context.Context, symbol string, price decimal.Decimal) error
}

// StaticSource is an in-memory Book.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticSource creates a book seeded with prices (may be nil).
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[normalize(sym)] = p
	}
	return s
}

func (s *StaticSource) Quote(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[normalize(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	return p, nil
}

func (s *StaticSource) SetQuote(_ context.Context, symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[normalize(symbol)] = price
	return nil
}

// Quotes resolves several symbols, failing on the first missing one.
func Quotes(ctx context.Context, src Source, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		if _, done := out[sym]; done {
			continue
		}
		p, err := src.Quote(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = p
	}
	return out, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
