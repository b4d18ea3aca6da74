package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ItemsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genqueue_items_enqueued_total",
		Help: "The total number of enqueue attempts",
	}, []string{"result"}) // result: added, skipped

	ClaimAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genqueue_claim_attempts_total",
		Help: "The total number of claim calls",
	}, []string{"result"}) // result: claimed, idle, error

	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genqueue_items_processed_total",
		Help: "The total number of processed items",
	}, []string{"outcome"}) // outcome: completed, retried, failed

	ItemsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genqueue_items_reclaimed_total",
		Help: "The total number of stale leases returned to pending",
	})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "genqueue_generation_duration_seconds",
		Help:    "Duration of content generation per claimed item.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
