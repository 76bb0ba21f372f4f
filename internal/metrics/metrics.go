// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersSubmitted counts incoming orders, partitioned by outcome.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltsim_orders_submitted_total",
		Help: "Total orders submitted, by outcome",
	}, []string{"outcome"})

	// ClearingDuration tracks the wall-clock duration of a clearing cycle.
	ClearingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voltsim_clearing_duration_seconds",
		Help:    "Clearing cycle duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TradesCleared counts cleared-trade records emitted per timeslot.
	TradesCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltsim_trades_cleared_total",
		Help: "Total cleared-trade records emitted",
	})

	// ClearedVolumeMWh accumulates total matched energy.
	ClearedVolumeMWh = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltsim_cleared_volume_mwh_total",
		Help: "Cumulative matched energy in MWh",
	})

	// PositionLimitAdjustments counts bids clamped by the position limiter.
	PositionLimitAdjustments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltsim_position_limit_adjustments_total",
		Help: "Bids clamped by the market position limiter",
	})

	// NetImbalanceKWh reports the most recent system-wide imbalance.
	NetImbalanceKWh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltsim_net_imbalance_kwh",
		Help: "Net system imbalance of the last settled timeslot in kWh",
	})

	// BalancingChargesTotal accumulates |charge| posted per strategy.
	BalancingChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltsim_balancing_charges_total",
		Help: "Cumulative absolute balancing charges posted, by strategy",
	}, []string{"strategy"})

	// BalancingExercisesTotal counts balancing-order exercises.
	BalancingExercisesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltsim_balancing_exercises_total",
		Help: "Balancing-control exercises invoked",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltsim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltsim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voltsim_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
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
