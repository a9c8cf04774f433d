// Package metrics exposes the service's Prometheus collectors on a
// dedicated port, separate from the API listener.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventro_sessions_started_total",
		Help: "Reconciliation sessions started.",
	})

	SessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ventro_sessions_completed_total",
		Help: "Reconciliation sessions finished, by terminal state.",
	}, []string{"state"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ventro_pipeline_stage_seconds",
		Help:    "Wall time per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	LLMFailovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ventro_llm_failovers_total",
		Help: "Provider failovers in the completion chain.",
	}, []string{"from", "to"})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ventro_llm_calls_total",
		Help: "Completion calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	SAMRAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventro_samr_alerts_total",
		Help: "Reasoning-failure alerts raised.",
	})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ventro_ratelimit_rejections_total",
		Help: "Requests rejected by the rate limiter, by tier.",
	}, []string{"tier"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ventro_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ventro_jobs_processed_total",
		Help: "Background tasks processed by type and outcome.",
	}, []string{"type", "outcome"})
)

// Serve starts the metrics listener. Blocks; run in a goroutine.
func Serve(port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	slog.Info("metrics listener starting", "port", port)
	return srv.ListenAndServe()
}
