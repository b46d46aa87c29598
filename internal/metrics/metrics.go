// Package metrics provides Prometheus instrumentation for the exchange core.
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
	// OrdersTotal counts placed orders by side, type and resulting status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_total",
		Help: "Total number of orders placed",
	}, []string{"side", "type", "status"})

	// OrderCancellations counts cancelled resting orders.
	OrderCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_order_cancellations_total",
		Help: "Total number of cancelled orders",
	})

	// TradesTotal counts executed trades, partitioned by source
	// (secondary book or primary offering).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of trades executed",
	}, []string{"source"})

	// TradeVolume tracks cumulative traded shares per trading account.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trade_volume_shares_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"trading_account_id"})

	// PlacementLatency tracks the time from queueing an order to its reply.
	PlacementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_order_placement_latency_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// SettlementFailures counts matches whose settlement rolled back.
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_settlement_failures_total",
		Help: "Settlements rolled back",
	}, []string{"source"})

	// LimitRejections counts orders rejected by the risk limiter.
	LimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_limit_rejections_total",
		Help: "Orders rejected by risk limits",
	}, []string{"limit"})

	// ActiveBooks tracks the number of running order book actors.
	ActiveBooks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_active_books",
		Help: "Number of running order books",
	})

	// OfferingTransitions counts offering lifecycle transitions by target status.
	OfferingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_offering_transitions_total",
		Help: "Offering status transitions",
	}, []string{"status"})

	// OfferingSharesAllocated counts shares sold out of primary offerings.
	OfferingSharesAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_offering_shares_allocated_total",
		Help: "Shares allocated from initial share offerings",
	})

	// EventsDropped counts feed events dropped because a queue was full.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_events_dropped_total",
		Help: "Feed events dropped",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
