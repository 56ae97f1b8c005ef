// Package metrics provides Prometheus instrumentation for the clearing house.
package metrics

import (
	"bufio"
	"fmt"
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
	// MarketsCreated counts markets created.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clearinghouse_markets_created_total",
		Help: "Total number of markets created",
	})

	// TradesTotal counts executed trades, partitioned by direction and by
	// how they changed the position.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearinghouse_trades_total",
		Help: "Total number of trades executed",
	}, []string{"direction", "kind"})

	// TradeLatency tracks open_position latency, including rejected trades.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clearinghouse_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// Rejections counts rejected operations by reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearinghouse_rejections_total",
		Help: "Operations rejected, by reason",
	}, []string{"operation", "reason"})

	// RealizedPnL accumulates realized PnL per market, split by sign.
	RealizedPnL = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearinghouse_realized_pnl_total",
		Help: "Cumulative absolute realized PnL in quote units",
	}, []string{"market_id", "sign"})

	// MarketVolume tracks cumulative quote volume per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearinghouse_market_volume_total",
		Help: "Cumulative trade volume in quote units",
	}, []string{"market_id", "direction"})

	// MarginDeposits accumulates margin deposited.
	MarginDeposits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clearinghouse_margin_deposits_total",
		Help: "Cumulative margin deposited in collateral units",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clearinghouse_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearinghouse_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clearinghouse_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi route pattern, keeping label
// cardinality bounded by the number of routes.
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
