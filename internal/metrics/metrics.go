package metrics

import "github.com/prometheus/client_golang/prometheus"

// Generation outcomes, used as the "outcome" label.
const (
	OutcomeCompleted           = "completed"
	OutcomeQuotaExceeded       = "quota_exceeded"
	OutcomeUpstreamBusy        = "upstream_busy"
	OutcomeUpstreamUnavailable = "upstream_unavailable"
	OutcomeFailed              = "failed"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompts_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prompts_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prompts_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompts_generations_total",
			Help: "Generation attempts that passed authentication, by outcome.",
		},
		[]string{"outcome"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prompts_upstream_request_duration_seconds",
			Help:    "Chat completion call duration in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)

	UsageTrackingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prompts_usage_tracking_failures_total",
			Help: "Usage ledger inserts that failed after a successful generation.",
		},
	)

	QuotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prompts_quota_rejections_total",
			Help: "Generation requests rejected because the daily limit was reached.",
		},
	)

	QuotaCounterErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prompts_quota_counter_errors_total",
			Help: "Quota counter operations that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		GenerationsTotal,
		UpstreamRequestDuration,
		UsageTrackingFailures,
		QuotaRejections,
		QuotaCounterErrors,
	)
}
