// Package metrics provides Prometheus instrumentation for the margin engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersSubmitted counts accepted orders by order type, direction and mode.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_engine_orders_submitted_total",
		Help: "Total number of accepted orders",
	}, []string{"order_type", "trade_type", "mode"})

	// PositionsClosed counts closed positions by direction and mode.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_engine_positions_closed_total",
		Help: "Total number of closed positions",
	}, []string{"trade_type", "mode"})

	// OrdersCancelled counts pending orders cancelled, by reason.
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_engine_orders_cancelled_total",
		Help: "Total number of cancelled entry orders",
	}, []string{"reason"})

	// Rejections counts failed engine operations by error kind.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_engine_rejections_total",
		Help: "Engine operations that failed, by kind",
	}, []string{"op", "kind"})

	// OperationLatency tracks engine operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_engine_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// RiskLimitRejections counts orders rejected by the exposure limits.
	RiskLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_engine_risk_limit_rejections_total",
		Help: "Orders rejected by risk limits",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margin_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Mode returns the mode label for an account or order.
func Mode(paper bool) string {
	if paper {
		return "paper"
	}
	return "live"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the chi route pattern to keep label cardinality low.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
