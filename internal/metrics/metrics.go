// Package metrics provides Prometheus instrumentation for the API and worker.
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
	// TradesTotal counts executed trades by side and kind (market, limit).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side", "kind"})

	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_trade_rejections_total",
		Help: "Trades rejected, by error class",
	}, []string{"reason"})

	QuoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_quote_failures_total",
		Help: "Quote fetches that produced no usable price",
	}, []string{"type"})

	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_quote_cache_hits_total",
		Help: "Quotes served from the Redis cache",
	})

	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_ledger_conflicts_total",
		Help: "Optimistic ledger commits retried after a concurrent write",
	})

	LimitFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_limit_fills_total",
		Help: "Limit orders filled by the sweep",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stocksim_sweep_duration_seconds",
		Help:    "Limit order sweep duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})

	RankingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stocksim_ranking_duration_seconds",
		Help:    "Ranking aggregation duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	AccountsRanked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stocksim_accounts_ranked",
		Help: "Accounts included in the latest ranking snapshot",
	})

	RewardsPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_rewards_paid_total",
		Help: "Reward credits applied to ledgers, by source",
	}, []string{"source"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
