package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	PaymentIngest = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_ingest_total",
			Help: "Incoming payment notifications by outcome",
		},
		[]string{"outcome"},
	)

	PaymentMatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_match_total",
			Help: "Matcher results by outcome and priority",
		},
		[]string{"outcome", "priority"},
	)

	PromotionActivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotion_activations_total",
			Help: "Orders moved into a success state",
		},
		[]string{"status"},
	)

	SweepResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_sweep_total",
			Help: "Background reconciliation job runs and affected rows",
		},
		[]string{"job", "result"},
	)
)

// InitMetrics registers collectors and serves /metrics on addr.
func InitMetrics(addr string) {
	prometheus.MustRegister(RepositoryCalls, RepositoryDuration, PaymentIngest, PaymentMatch, PromotionActivations, SweepResults)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}
