package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Request pipeline metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StageErrors     *prometheus.CounterVec

	// Upstream metrics
	UpstreamAttempts *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamRetries  *prometheus.CounterVec

	// Cache metrics
	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec
	CacheEntries prometheus.Gauge

	// Host throttle metrics
	ThrottleWaits        *prometheus.CounterVec
	ThrottleWaitDuration *prometheus.HistogramVec

	// Payment metrics
	PaymentsVerified    *prometheus.CounterVec
	PaymentsSettled     *prometheus.CounterVec
	PaymentsFailedTotal *prometheus.CounterVec
	SettleDuration      *prometheus.HistogramVec
	AutoSignTotal       *prometheus.CounterVec

	// Inbound rate limit metrics
	RateLimitHitsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_requests_total",
				Help: "Total number of gateway requests",
			},
			[]string{"server", "status", "auth_method"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_request_duration_seconds",
				Help:    "End-to-end gateway request duration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"server"},
		),
		StageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_stage_errors_total",
				Help: "Pipeline errors by stage",
			},
			[]string{"stage"},
		),

		UpstreamAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_upstream_attempts_total",
				Help: "Outbound HTTP attempts to upstream MCP servers",
			},
			[]string{"host", "status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_upstream_duration_seconds",
				Help:    "Duration of a single upstream attempt",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		),
		UpstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_upstream_retries_total",
				Help: "Retries issued after upstream 429 responses",
			},
			[]string{"host"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_cache_hits_total",
				Help: "Response cache hits",
			},
			[]string{"host"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_cache_misses_total",
				Help: "Response cache misses",
			},
			[]string{"host"},
		),
		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcpay_cache_entries",
				Help: "Current number of cached responses",
			},
		),

		ThrottleWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_throttle_waits_total",
				Help: "Requests that waited on the per-host throttle",
			},
			[]string{"host"},
		),
		ThrottleWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_throttle_wait_duration_seconds",
				Help:    "Time spent waiting on the per-host throttle",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"host"},
		),

		PaymentsVerified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_payments_verified_total",
				Help: "Payment verifications by outcome",
			},
			[]string{"network", "valid"},
		),
		PaymentsSettled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_payments_settled_total",
				Help: "Successful payment settlements",
			},
			[]string{"network"},
		),
		PaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_payments_failed_total",
				Help: "Failed payments by phase and reason",
			},
			[]string{"phase", "reason"},
		),
		SettleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_settle_duration_seconds",
				Help:    "Facilitator settlement call duration",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"network"},
		),
		AutoSignTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_autosign_total",
				Help: "Auto-sign attempts by outcome",
			},
			[]string{"success"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_rate_limit_hits_total",
				Help: "Inbound requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),
	}
}

// ObserveRequest records one completed gateway request.
func (m *Metrics) ObserveRequest(server string, status int, authMethod string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(server, strconv.Itoa(status), authMethod).Inc()
	m.RequestDuration.WithLabelValues(server).Observe(duration.Seconds())
}

// ObserveUpstream records one outbound attempt.
func (m *Metrics) ObserveUpstream(host string, status int, duration time.Duration) {
	m.UpstreamAttempts.WithLabelValues(host, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveCache records a cache lookup outcome.
func (m *Metrics) ObserveCache(host string, hit bool, entries int) {
	if hit {
		m.CacheHits.WithLabelValues(host).Inc()
	} else {
		m.CacheMisses.WithLabelValues(host).Inc()
	}
	m.CacheEntries.Set(float64(entries))
}

// ObserveThrottleWait records time spent in the per-host throttle.
func (m *Metrics) ObserveThrottleWait(host string, waited time.Duration) {
	if waited <= 0 {
		return
	}
	m.ThrottleWaits.WithLabelValues(host).Inc()
	m.ThrottleWaitDuration.WithLabelValues(host).Observe(waited.Seconds())
}

// ObserveVerify records a facilitator verification outcome.
func (m *Metrics) ObserveVerify(network string, valid bool) {
	m.PaymentsVerified.WithLabelValues(network, strconv.FormatBool(valid)).Inc()
}

// ObserveSettle records a settlement attempt.
func (m *Metrics) ObserveSettle(network string, success bool, reason string, duration time.Duration) {
	m.SettleDuration.WithLabelValues(network).Observe(duration.Seconds())
	if success {
		m.PaymentsSettled.WithLabelValues(network).Inc()
	} else {
		m.PaymentsFailedTotal.WithLabelValues("capture", reason).Inc()
	}
}

// ObserveAutoSign records an auto-sign attempt.
func (m *Metrics) ObserveAutoSign(success bool) {
	m.AutoSignTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// ObserveRateLimit records an inbound rate-limit rejection.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}
