// Package trade provides the HTTP handlers for accounts, orders, positions
// and quotes on top of the margin engine.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Every response uses the envelope {"success": bool, "data" | "error"}.
package trade

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/asset"
	"github.com/tradeflow/margin-engine/internal/engine"
	"github.com/tradeflow/margin-engine/internal/model"
	"github.com/tradeflow/margin-engine/internal/quote"
)

// Service exposes the engine over HTTP.
type Service struct {
	engine *engine.Engine
	quotes quote.Book
}

// NewService creates a new trade service. quotes may be nil, in which
// case the quote endpoints report the quote as unavailable.
func NewService(eng *engine.Engine, quotes quote.Book) *Service {
	return &Service{engine: eng, quotes: quotes}
}

// Routes registers the API handlers on r (mounted under /api/v1).
func (s *Service) Routes(r chi.Router) {
	r.Post("/accounts", s.CreateAccount)
	r.Route("/accounts/{userID}", func(r chi.Router) {
		r.Get("/", s.GetAccount)
		r.Post("/deposit", s.Deposit)
		r.Post("/withdraw", s.Withdraw)

		r.Get("/orders", s.ListOrders)
		r.Post("/orders", s.SubmitOrder)
		r.Post("/orders/expire", s.ExpireOrders)
		r.Get("/orders/{orderID}", s.GetOrder)
		r.Post("/orders/{orderID}/close", s.ClosePosition)
		r.Post("/orders/{orderID}/cancel", s.CancelOrder)

		r.Get("/portfolio", s.GetPortfolio)
		r.Post("/portfolio/refresh", s.RefreshPortfolio)
	})

	r.Get("/leverage", s.GetLeverage)
	r.Get("/quotes/{symbol}", s.GetQuote)
	r.Put("/quotes/{symbol}", s.SetQuote)
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	UserID         string          `json:"user_id"`
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
	PaperTrading   bool            `json:"paper_trading"`
}

// AmountRequest is the JSON body for deposits and withdrawals.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CloseRequest is the JSON body for closing a position. A missing or
// zero close_price closes at the current quote.
type CloseRequest struct {
	ClosePrice decimal.Decimal `json:"close_price"`
}

// ExpireRequest is the optional JSON body for expiring entry orders.
type ExpireRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// QuoteRequest is the JSON body for PUT /quotes/{symbol}.
type QuoteRequest struct {
	Price decimal.Decimal `json:"price"`
}

// QuoteResponse is returned by the quote endpoints.
type QuoteResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// LeverageResponse describes the leverage table in use.
type LeverageResponse struct {
	Leverage        map[string]decimal.Decimal `json:"leverage"`
	DefaultLeverage decimal.Decimal            `json:"default_leverage"`
	FeeRate         decimal.Decimal            `json:"fee_rate"`
}

// Envelope is the body of every response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req, false) {
		return
	}

	acct, err := s.engine.OpenAccount(r.Context(), req.UserID, req.InitialDeposit, req.PaperTrading)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /api/v1/accounts/{userID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.engine.Account(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Deposit handles POST /api/v1/accounts/{userID}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req, false) {
		return
	}
	acct, err := s.engine.Deposit(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Withdraw handles POST /api/v1/accounts/{userID}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req, false) {
		return
	}
	acct, err := s.engine.Withdraw(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// SubmitOrder handles POST /api/v1/accounts/{userID}/orders. The order is
// routed on order_type, which is required.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.OrderRequest
	if !decode(w, r, &req, false) {
		return
	}

	userID := chi.URLParam(r, "userID")
	var res engine.SubmitResult
	var err error
	switch req.OrderType {
	case model.OrderEntry:
		res, err = s.engine.SubmitEntryOrder(r.Context(), userID, req)
	case model.OrderMarket:
		res, err = s.engine.SubmitMarketOrder(r.Context(), userID, req)
	default:
		writeError(w, string(engine.KindValidation), "order_type must be market or entry", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListOrders handles GET /api/v1/accounts/{userID}/orders?status=
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := model.OrderStatus(r.URL.Query().Get("status"))
	orders, err := s.engine.Orders(r.Context(), chi.URLParam(r, "userID"), status)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/accounts/{userID}/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Order(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "orderID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ClosePosition handles POST /api/v1/accounts/{userID}/orders/{orderID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !decode(w, r, &req, true) {
		return
	}
	res, err := s.engine.ClosePosition(r.Context(),
		chi.URLParam(r, "userID"), chi.URLParam(r, "orderID"), req.ClosePrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelOrder handles POST /api/v1/accounts/{userID}/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := s.engine.CancelOrder(r.Context(), chi.URLParam(r, "userID"), orderID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(model.StatusCancelled)})
}

// ExpireOrders handles POST /api/v1/accounts/{userID}/orders/expire
func (s *Service) ExpireOrders(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if !decode(w, r, &req, true) {
		return
	}
	var asOf time.Time
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	ids, err := s.engine.ExpireEntryOrders(r.Context(), chi.URLParam(r, "userID"), asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": ids})
}

// GetPortfolio handles GET /api/v1/accounts/{userID}/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RefreshPortfolio handles POST /api/v1/accounts/{userID}/portfolio/refresh
func (s *Service) RefreshPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.RefreshPortfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetLeverage handles GET /api/v1/leverage
func (s *Service) GetLeverage(w http.ResponseWriter, r *http.Request) {
	calc := s.engine.Calculator()
	writeJSON(w, http.StatusOK, LeverageResponse{
		Leverage:        calc.Table().Entries(),
		DefaultLeverage: decimal.NewFromInt(1),
		FeeRate:         calc.FeeRate(),
	})
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	if s.quotes == nil {
		writeError(w, string(engine.KindQuoteUnavailable), "no quote source configured", http.StatusServiceUnavailable)
		return
	}

	price, err := s.quotes.Quote(r.Context(), symbol)
	if errors.Is(err, quote.ErrNoQuote) {
		writeError(w, string(engine.KindNotFound), "no quote for "+symbol, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("quote lookup failed", "symbol", symbol, "err", err)
		writeError(w, string(engine.KindQuoteUnavailable), "quote lookup failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{Symbol: symbol, Price: price})
}

// SetQuote handles PUT /api/v1/quotes/{symbol}
func (s *Service) SetQuote(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	var req QuoteRequest
	if !decode(w, r, &req, false) {
		return
	}
	if s.quotes == nil {
		writeError(w, string(engine.KindQuoteUnavailable), "no quote source configured", http.StatusServiceUnavailable)
		return
	}

	if err := s.quotes.SetQuote(r.Context(), symbol, req.Price); err != nil {
		if errors.Is(err, quote.ErrInvalidPrice) {
			writeError(w, string(engine.KindValidation), err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("quote update failed", "symbol", symbol, "err", err)
		writeError(w, string(engine.KindQuoteUnavailable), "quote update failed", http.StatusServiceUnavailable)
		return
	}

	slog.Info("quote updated", "symbol", symbol, "price", req.Price.String())
	writeJSON(w, http.StatusOK, QuoteResponse{Symbol: symbol, Price: req.Price})
}

// --- helpers ---

func symbolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol, err := asset.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, string(engine.KindValidation), err.Error(), http.StatusBadRequest)
		return "", false
	}
	return symbol, true
}

// decode reads the JSON body into v. With optional set an empty body is
// accepted.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, string(engine.KindValidation), "invalid request body", http.StatusBadRequest)
	return false
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case engine.KindInvalidState:
		return http.StatusConflict
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindLimitExceeded, engine.KindInvalidAccountState:
		return http.StatusUnprocessableEntity
	case engine.KindQuoteUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeEngineError writes err in the error envelope. Persistence details
// are not exposed to clients.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	msg := err.Error()
	var e *engine.Error
	if errors.As(err, &e) {
		msg = e.Msg
	}
	if kind == engine.KindPersistence {
		msg = "operation failed, nothing was applied"
	}
	writeError(w, string(kind), msg, statusFor(kind))
}

// writeJSON writes a successful JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, kind, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: false, Error: &ErrorBody{Kind: kind, Message: message}})
}
