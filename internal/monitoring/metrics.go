package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warp2api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warp2api_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warp2api_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// 凭证池指标
	PoolCredentials = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warp2api_pool_credentials",
			Help: "Credentials in the pool by tier and liveness",
		},
		[]string{"tier", "state"},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warp2api_credential_refreshes_total",
			Help: "Total number of access token exchanges",
		},
		[]string{"tier", "status"},
	)

	CredentialDeactivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warp2api_credential_deactivations_total",
			Help: "Credentials deactivated after repeated exchange failures",
		},
		[]string{"tier"},
	)

	ProvisioningTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warp2api_provisioning_total",
			Help: "Anonymous credential signup attempts",
		},
		[]string{"status"},
	)

	// 上游调用指标
	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warp2api_upstream_attempts_total",
			Help: "AI endpoint attempts by tier and outcome kind",
		},
		[]string{"tier", "kind"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warp2api_upstream_duration_seconds",
			Help:    "AI endpoint attempt latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tier"},
	)

	RequestsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warp2api_requests_terminal_total",
			Help: "Requests that exhausted the retry budget, by terminal kind",
		},
		[]string{"kind"},
	)
)

// RecordAttempt tracks one AI endpoint attempt outcome.
func RecordAttempt(tier, kind string, seconds float64) {
	if kind == "" {
		kind = "ok"
	}
	UpstreamAttempts.WithLabelValues(tier, kind).Inc()
	UpstreamDuration.WithLabelValues(tier).Observe(seconds)
}

// RecordRefresh tracks one token exchange result.
func RecordRefresh(tier string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	CredentialRefreshes.WithLabelValues(tier, status).Inc()
}

// SetPoolGauges publishes per-tier credential counts.
func SetPoolGauges(tier string, active, inactive int) {
	PoolCredentials.WithLabelValues(tier, "active").Set(float64(active))
	PoolCredentials.WithLabelValues(tier, "inactive").Set(float64(inactive))
}
