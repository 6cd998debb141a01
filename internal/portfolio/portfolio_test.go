package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func fill(side model.TradeType, units, price float64) Fill {
	return Fill{
		UserID:     "user1",
		Symbol:     "BTC-USD",
		Name:       "Bitcoin",
		MarketType: "Crypto",
		Side:       side,
		Units:      d(units),
		Price:      d(price),
	}
}

func TestApply_FirstFillCreatesEntry(t *testing.T) {
	e, action := Apply(nil, fill(model.TradeBuy, 1, 50000), now)
	if action != ActionInsert {
		t.Fatalf("expected insert, got %d", action)
	}
	if e.ID == "" {
		t.Error("expected generated id")
	}
	if !e.Units.Equal(d(1)) || !e.AveragePrice.Equal(d(50000)) {
		t.Errorf("unexpected entry: units=%s avg=%s", e.Units, e.AveragePrice)
	}
	if !e.TotalValue.Equal(d(50000)) || !e.PnL.IsZero() {
		t.Errorf("unexpected valuation: value=%s pnl=%s", e.TotalValue, e.PnL)
	}
}

func TestApply_SameDirectionReweights(t *testing.T) {
	e, _ := Apply(nil, fill(model.TradeBuy, 2, 100), now)
	e, action := Apply(e, fill(model.TradeBuy, 3, 110), now)

	if action != ActionUpdate {
		t.Fatalf("expected update, got %d", action)
	}
	if !e.Units.Equal(d(5)) {
		t.Errorf("expected 5 units, got %s", e.Units)
	}
	// (100*2 + 110*3) / 5 = 106
	if !e.AveragePrice.Equal(d(106)) {
		t.Errorf("expected average 106, got %s", e.AveragePrice)
	}
	// (110 - 106) * 5 = 20
	if !e.PnL.Equal(d(20)) {
		t.Errorf("expected pnl 20, got %s", e.PnL)
	}
}

func TestApply_DoesNotMutateExisting(t *testing.T) {
	e, _ := Apply(nil, fill(model.TradeBuy, 2, 100), now)
	before := e.Units
	Apply(e, fill(model.TradeBuy, 3, 110), now)
	if !e.Units.Equal(before) {
		t.Errorf("existing entry mutated: %s", e.Units)
	}
}

func TestApply_OppositeReduces(t *testing.T) {
	e, _ := Apply(nil, fill(model.TradeBuy, 5, 100), now)
	e, action := Apply(e, fill(model.TradeSell, 2, 120), now)

	if action != ActionUpdate {
		t.Fatalf("expected update, got %d", action)
	}
	if !e.Units.Equal(d(3)) || e.Side != model.TradeBuy {
		t.Errorf("expected long 3, got %s %s", e.Side, e.Units)
	}
	if !e.AveragePrice.Equal(d(100)) {
		t.Errorf("average must not change on reduction, got %s", e.AveragePrice)
	}
}

func TestApply_OppositeRemovesAtZero(t *testing.T) {
	e, _ := Apply(nil, fill(model.TradeSell, 4, 10), now)
	_, action := Apply(e, fill(model.TradeBuy, 4, 9), now)
	if action != ActionDelete {
		t.Errorf("expected delete, got %d", action)
	}
}

func TestApply_OppositeFlips(t *testing.T) {
	e, _ := Apply(nil, fill(model.TradeBuy, 1, 100), now)
	e, action := Apply(e, fill(model.TradeSell, 3, 90), now)

	if action != ActionUpdate {
		t.Fatalf("expected update, got %d", action)
	}
	if e.Side != model.TradeSell || !e.Units.Equal(d(2)) {
		t.Errorf("expected short 2, got %s %s", e.Side, e.Units)
	}
	if !e.AveragePrice.Equal(d(90)) {
		t.Errorf("expected average reset to 90, got %s", e.AveragePrice)
	}
}

func TestApply_ZeroUnitsIsNoop(t *testing.T) {
	_, action := Apply(nil, fill(model.TradeBuy, 0, 100), now)
	if action != ActionNone {
		t.Errorf("expected none, got %d", action)
	}
}

func TestClosingFill(t *testing.T) {
	o := &model.Order{
		UserID: "user1", AssetSymbol: "EURUSD=X", MarketType: "Forex",
		TradeType: model.TradeSell, Units: d(1000), PricePerUnit: d(1.1),
	}
	f := ClosingFill(o, d(1.05))
	if f.Side != model.TradeBuy {
		t.Errorf("closing a sell must be a buy fill, got %s", f.Side)
	}
	if !f.Price.Equal(d(1.05)) || !f.Units.Equal(d(1000)) {
		t.Errorf("unexpected closing fill: %+v", f)
	}
}

func TestRevalue(t *testing.T) {
	tests := []struct {
		name       string
		side       model.TradeType
		units, avg float64
		price      float64
		pnl, pct   float64
	}{
		{"long gain", model.TradeBuy, 2, 100, 110, 20, 10},
		{"long loss", model.TradeBuy, 4, 50, 45, -20, -10},
		{"short gain", model.TradeSell, 10, 20, 15, 50, 25},
		{"short loss", model.TradeSell, 1, 200, 250, -50, -25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &model.PortfolioEntry{Side: tt.side, Units: d(tt.units), AveragePrice: d(tt.avg)}
			Revalue(e, d(tt.price), now)
			if !e.PnL.Equal(d(tt.pnl)) {
				t.Errorf("pnl = %s, want %v", e.PnL, tt.pnl)
			}
			if !e.PnLPercentage.Equal(d(tt.pct)) {
				t.Errorf("pct = %s, want %v", e.PnLPercentage, tt.pct)
			}
			if !e.TotalValue.Equal(d(tt.units * tt.price)) {
				t.Errorf("value = %s", e.TotalValue)
			}
		})
	}
}

func TestTotalPnL(t *testing.T) {
	entries := []model.PortfolioEntry{{PnL: d(10)}, {PnL: d(-4.5)}, {PnL: d(0)}}
	if got := TotalPnL(entries); !got.Equal(d(5.5)) {
		t.Errorf("expected 5.5, got %s", got)
	}
}
