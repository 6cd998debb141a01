package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/engine"
	"github.com/tradeflow/margin-engine/internal/margin"
	"github.com/tradeflow/margin-engine/internal/model"
	"github.com/tradeflow/margin-engine/internal/quote"
	"github.com/tradeflow/margin-engine/internal/store"
	"github.com/tradeflow/margin-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// envelope mirrors trade.Envelope with a raw data payload.
type envelope struct {
	Success bool             `json:"success"`
	Data    json.RawMessage  `json:"data"`
	Error   *trade.ErrorBody `json:"error"`
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*quote.StaticSource, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	quotes := quote.NewStaticSource(nil)
	calc, err := margin.NewCalculator(nil, margin.DefaultFeeRate)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	eng := engine.New(ms, quotes, calc, engine.Options{})
	svc := trade.NewService(eng, quotes)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return quotes, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid response body %q: %v", w.Body.String(), err)
	}
	return w, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func createAccount(t *testing.T, router chi.Router, userID string, deposit float64) {
	t.Helper()
	w, env := do(t, router, "POST", "/api/v1/accounts", trade.CreateAccountRequest{
		UserID:         userID,
		InitialDeposit: d(deposit),
	})
	if w.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create account: %d %s", w.Code, w.Body.String())
	}
}

func submitCryptoBuy(t *testing.T, router chi.Router, userID string) string {
	t.Helper()
	w, env := do(t, router, "POST", "/api/v1/accounts/"+userID+"/orders", engine.OrderRequest{
		AssetSymbol:  "BTC-USD",
		MarketType:   "Crypto",
		Units:        d(1),
		PricePerUnit: d(50000),
		TradeType:    model.TradeBuy,
		OrderType:    model.OrderMarket,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit order: %d %s", w.Code, w.Body.String())
	}
	var res engine.SubmitResult
	decodeData(t, env, &res)
	return res.OrderID
}

// --- Account tests ---

func TestCreateAndGetAccount(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 10000)

	w, env := do(t, router, "GET", "/api/v1/accounts/user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var acct model.Account
	decodeData(t, env, &acct)
	if !acct.AvailableFunds.Equal(d(10000)) || acct.UserID != "user1" {
		t.Errorf("unexpected account: %+v", acct)
	}

	w, env = do(t, router, "POST", "/api/v1/accounts", trade.CreateAccountRequest{UserID: "user1"})
	if w.Code != http.StatusConflict || env.Success || env.Error.Kind != "invalid_state" {
		t.Errorf("expected 409 invalid_state, got %d %+v", w.Code, env.Error)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w, env := do(t, router, "GET", "/api/v1/accounts/ghost", nil)
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Kind != "not_found" {
		t.Errorf("expected 404 not_found, got %d %s", w.Code, w.Body.String())
	}
}

func TestDepositWithdraw(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 100)

	w, env := do(t, router, "POST", "/api/v1/accounts/user1/deposit", trade.AmountRequest{Amount: d(50)})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", w.Code, w.Body.String())
	}
	var acct model.Account
	decodeData(t, env, &acct)
	if !acct.CashBalance.Equal(d(150)) {
		t.Errorf("expected cash 150, got %s", acct.CashBalance)
	}

	w, env = do(t, router, "POST", "/api/v1/accounts/user1/withdraw", trade.AmountRequest{Amount: d(500)})
	if w.Code != http.StatusPaymentRequired || env.Error.Kind != "insufficient_funds" {
		t.Errorf("expected 402 insufficient_funds, got %d %s", w.Code, w.Body.String())
	}
}

// --- Order tests ---

func TestSubmitOrder_Market(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 10000)
	orderID := submitCryptoBuy(t, router, "user1")

	w, env := do(t, router, "GET", "/api/v1/accounts/user1/orders/"+orderID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get order: %d", w.Code)
	}
	var o model.Order
	decodeData(t, env, &o)
	if o.Status != model.StatusOpen || !o.MarginUsed.Equal(d(1000)) {
		t.Errorf("unexpected order: %+v", o)
	}

	_, env = do(t, router, "GET", "/api/v1/accounts/user1", nil)
	var acct model.Account
	decodeData(t, env, &acct)
	if !acct.AvailableFunds.Equal(d(9000)) || !acct.UsedMargin.Equal(d(1000)) {
		t.Errorf("unexpected account: %+v", acct)
	}
}

func TestSubmitOrder_InsufficientFunds(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 500)

	w, env := do(t, router, "POST", "/api/v1/accounts/user1/orders", engine.OrderRequest{
		AssetSymbol:  "BTC-USD",
		MarketType:   "Crypto",
		Units:        d(1),
		PricePerUnit: d(50000),
		TradeType:    model.TradeBuy,
		OrderType:    model.OrderMarket,
	})
	if w.Code != http.StatusPaymentRequired || env.Success || env.Error.Kind != "insufficient_funds" {
		t.Errorf("expected 402 insufficient_funds, got %d %s", w.Code, w.Body.String())
	}
}

func TestSubmitOrder_Validation(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 500)

	tests := []struct {
		name string
		body any
	}{
		{"zero units", engine.OrderRequest{AssetSymbol: "AAPL", Units: decimal.Zero, PricePerUnit: d(1), TradeType: model.TradeBuy, OrderType: model.OrderMarket}},
		{"missing symbol", engine.OrderRequest{Units: d(1), PricePerUnit: d(1), TradeType: model.TradeBuy, OrderType: model.OrderMarket}},
		{"missing order type", map[string]any{"asset_symbol": "AAPL", "units": "1", "price_per_unit": "1", "trade_type": "buy"}},
		{"bad order type", map[string]any{"asset_symbol": "AAPL", "units": "1", "price_per_unit": "1", "trade_type": "buy", "order_type": "stop"}},
		{"bad trade type", map[string]any{"asset_symbol": "AAPL", "units": "1", "price_per_unit": "1", "trade_type": "hold", "order_type": "market"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, router, "POST", "/api/v1/accounts/user1/orders", tc.body)
			if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Kind != "validation_error" {
				t.Errorf("expected 400 validation_error, got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSubmitOrder_InvalidBody(t *testing.T) {
	_, router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/accounts/user1/orders", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestEntryOrderCancel(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 10)

	w, env := do(t, router, "POST", "/api/v1/accounts/user1/orders", engine.OrderRequest{
		AssetSymbol:  "EURUSD=X",
		MarketType:   "Forex",
		Units:        d(1000),
		PricePerUnit: d(1.08),
		TradeType:    model.TradeSell,
		OrderType:    model.OrderEntry,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit entry: %d %s", w.Code, w.Body.String())
	}
	var res engine.SubmitResult
	decodeData(t, env, &res)
	if res.Status != model.StatusPending {
		t.Errorf("expected pending, got %s", res.Status)
	}

	w, _ = do(t, router, "POST", "/api/v1/accounts/user1/orders/"+res.OrderID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	w, env = do(t, router, "POST", "/api/v1/accounts/user1/orders/"+res.OrderID+"/cancel", nil)
	if w.Code != http.StatusConflict || env.Error.Kind != "invalid_state" {
		t.Errorf("expected 409 invalid_state on second cancel, got %d %s", w.Code, w.Body.String())
	}

	_, env = do(t, router, "GET", "/api/v1/accounts/user1/orders?status=cancelled", nil)
	var orders []model.Order
	decodeData(t, env, &orders)
	if len(orders) != 1 || orders[0].ID != res.OrderID {
		t.Errorf("expected the cancelled order, got %+v", orders)
	}
}

func TestClosePosition(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 10000)
	orderID := submitCryptoBuy(t, router, "user1")

	w, env := do(t, router, "POST", "/api/v1/accounts/user1/orders/"+orderID+"/close",
		trade.CloseRequest{ClosePrice: d(51000)})
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	var res engine.CloseResult
	decodeData(t, env, &res)
	if !res.PnL.Equal(d(1000)) {
		t.Errorf("expected pnl 1000, got %s", res.PnL)
	}

	_, env = do(t, router, "GET", "/api/v1/accounts/user1", nil)
	var acct model.Account
	decodeData(t, env, &acct)
	if !acct.CashBalance.Equal(d(11000)) || !acct.UsedMargin.IsZero() {
		t.Errorf("unexpected account after close: %+v", acct)
	}

	w, env = do(t, router, "POST", "/api/v1/accounts/user1/orders/"+orderID+"/close",
		trade.CloseRequest{ClosePrice: d(51000)})
	if w.Code != http.StatusConflict || env.Error.Kind != "invalid_state" {
		t.Errorf("expected 409 on second close, got %d %s", w.Code, w.Body.String())
	}
}

func TestClosePosition_AtQuote(t *testing.T) {
	quotes, router := newTestEnv(t)
	createAccount(t, router, "user1", 10000)
	orderID := submitCryptoBuy(t, router, "user1")

	// No body and no quote yet.
	w, env := do(t, router, "POST", "/api/v1/accounts/user1/orders/"+orderID+"/close", nil)
	if w.Code != http.StatusServiceUnavailable || env.Error.Kind != "quote_unavailable" {
		t.Fatalf("expected 503 quote_unavailable, got %d %s", w.Code, w.Body.String())
	}

	w, _ = do(t, router, "PUT", "/api/v1/quotes/btc-usd", trade.QuoteRequest{Price: d(50500)})
	if w.Code != http.StatusOK {
		t.Fatalf("set quote: %d %s", w.Code, w.Body.String())
	}
	if p, err := quotes.Quote(context.Background(), "BTC-USD"); err != nil || !p.Equal(d(50500)) {
		t.Fatalf("quote not stored: %s %v", p, err)
	}

	w, env = do(t, router, "POST", "/api/v1/accounts/user1/orders/"+orderID+"/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	var res engine.CloseResult
	decodeData(t, env, &res)
	if !res.PnL.Equal(d(500)) || !res.ClosePrice.Equal(d(50500)) {
		t.Errorf("unexpected close: %+v", res)
	}
}

func TestOrder_OtherUser(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 10000)
	createAccount(t, router, "user2", 10000)
	orderID := submitCryptoBuy(t, router, "user1")

	w, _ := do(t, router, "GET", "/api/v1/accounts/user2/orders/"+orderID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestExpireOrders(t *testing.T) {
	_, router := newTestEnv(t)
	createAccount(t, router, "user1", 10)

	w, _ := do(t, router, "POST", "/api/v1/accounts/user1/orders/expire", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	w, _ = do(t, router, "POST", "/api/v1/accounts/ghost/orders/expire", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown account, got %d", w.Code)
	}
}

// --- Portfolio tests ---

func TestPortfolioRefresh(t *testing.T) {
	quotes, router := newTestEnv(t)
	createAccount(t, router, "user1", 10000)
	submitCryptoBuy(t, router, "user1")

	_, env := do(t, router, "GET", "/api/v1/accounts/user1/portfolio", nil)
	var view engine.PortfolioView
	decodeData(t, env, &view)
	if len(view.Entries) != 1 || view.Entries[0].AssetSymbol != "BTC-USD" {
		t.Fatalf("unexpected portfolio: %+v", view.Entries)
	}

	if err := quotes.SetQuote(context.Background(), "BTC-USD", d(52000)); err != nil {
		t.Fatalf("SetQuote: %v", err)
	}
	w, env := do(t, router, "POST", "/api/v1/accounts/user1/portfolio/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", w.Code, w.Body.String())
	}
	decodeData(t, env, &view)
	if !view.Entries[0].PnL.Equal(d(2000)) || !view.Account.UnrealizedPnL.Equal(d(2000)) {
		t.Errorf("unexpected refreshed view: %+v", view)
	}
}

// --- Reference data ---

func TestGetLeverage(t *testing.T) {
	_, router := newTestEnv(t)
	w, env := do(t, router, "GET", "/api/v1/leverage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var lev trade.LeverageResponse
	decodeData(t, env, &lev)
	if !lev.Leverage["Forex"].Equal(d(100)) || !lev.Leverage["Stocks"].Equal(d(20)) {
		t.Errorf("unexpected leverage table: %+v", lev.Leverage)
	}
	if !lev.FeeRate.Equal(d(0.001)) {
		t.Errorf("expected fee rate 0.001, got %s", lev.FeeRate)
	}
}

func TestQuotes(t *testing.T) {
	_, router := newTestEnv(t)

	w, _ := do(t, router, "GET", "/api/v1/quotes/AAPL", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown quote, got %d", w.Code)
	}
	w, env := do(t, router, "PUT", "/api/v1/quotes/AAPL", trade.QuoteRequest{Price: d(-1)})
	if w.Code != http.StatusBadRequest || env.Error.Kind != "validation_error" {
		t.Errorf("expected 400 for negative price, got %d", w.Code)
	}
	w, _ = do(t, router, "PUT", "/api/v1/quotes/AAPL", trade.QuoteRequest{Price: d(190.5)})
	if w.Code != http.StatusOK {
		t.Fatalf("set quote: %d", w.Code)
	}
	w, env = do(t, router, "GET", "/api/v1/quotes/aapl", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get quote: %d", w.Code)
	}
	var q trade.QuoteResponse
	decodeData(t, env, &q)
	if q.Symbol != "AAPL" || !q.Price.Equal(d(190.5)) {
		t.Errorf("unexpected quote: %+v", q)
	}
}
