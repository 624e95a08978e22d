package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixora_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	JobsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_jobs_started_total",
			Help: "Total number of media jobs submitted.",
		},
		[]string{"kind"},
	)

	JobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_jobs_finished_total",
			Help: "Total number of media jobs that reached a terminal state.",
		},
		[]string{"kind", "state", "reason"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixora_job_duration_seconds",
			Help:    "Wall time from submission to terminal state.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"kind"},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixora_jobs_in_flight",
			Help: "Number of jobs not yet in a terminal state.",
		},
	)

	QuotaConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_quota_consumed_total",
			Help: "Quota units consumed by successful jobs.",
		},
		[]string{"kind", "tier"},
	)

	QuotaRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_quota_rejected_total",
			Help: "Jobs rejected because the allowance was exhausted.",
		},
		[]string{"kind", "tier"},
	)

	QuotaResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_quota_resets_total",
			Help: "Quota resets by trigger.",
		},
		[]string{"trigger"},
	)

	QuotaReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_quota_reconciliations_total",
			Help: "Successful jobs whose quota commit lost a race.",
		},
		[]string{"kind"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixora_provider_request_duration_seconds",
			Help:    "Provider prediction latency in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{"op", "outcome"},
	)

	ProviderBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixora_provider_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_uploads_total",
			Help: "Uploaded images by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsStartedTotal,
		JobsFinishedTotal,
		JobDuration,
		JobsInFlight,
		QuotaConsumedTotal,
		QuotaRejectedTotal,
		QuotaResetsTotal,
		QuotaReconciliationsTotal,
		ProviderRequestDuration,
		ProviderBreakerState,
		UploadsTotal,
	)
}
