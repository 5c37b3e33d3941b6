// Package metrics provides Prometheus instrumentation for the cashier.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsStarted counts sessions opened by a host.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashier_sessions_started_total",
		Help: "Total number of poker sessions started",
	})

	// SessionsFinished counts sessions closed by their host.
	SessionsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashier_sessions_finished_total",
		Help: "Total number of poker sessions finished",
	})

	// ActiveSessions tracks the number of sessions in the active state.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cashier_active_sessions",
		Help: "Number of currently active sessions",
	})

	// TipsTotal counts inbound tips by outcome
	// (accepted, out_of_range, session_finished, no_session, ignored).
	TipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashier_tips_total",
		Help: "Inbound tips by outcome",
	}, []string{"outcome"})

	// CashoutsTotal counts cashout attempts by outcome.
	CashoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashier_cashouts_total",
		Help: "Cashout commands by outcome",
	}, []string{"outcome"})

	// PayoutFailures counts failed outbound transfers, by kind
	// (cashout, retry, echo).
	PayoutFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashier_payout_failures_total",
		Help: "Failed outbound transfers",
	}, []string{"kind"})

	// RateResolutions counts exchange rate resolutions by source.
	RateResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashier_rate_resolutions_total",
		Help: "ETH/USD rate resolutions by source",
	}, []string{"source"})

	// LedgerOpDuration tracks how long ledger operations hold the channel
	// lock, including outbound calls.
	LedgerOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cashier_ledger_op_duration_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cashier_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// DuplicateEvents counts inbound events dropped as redeliveries.
	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashier_duplicate_events_total",
		Help: "Inbound events skipped because their id was already processed",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashier_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cashier_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOp records the duration of a ledger operation started at start.
func ObserveOp(op string, start time.Time) {
	LedgerOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
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

		// Prefer the route pattern so channel ids don't explode cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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
