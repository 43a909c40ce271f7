package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnknownTenant labels requests that never resolved a tenant.
const UnknownTenant = "unknown"

var latencyBuckets = []float64{50, 100, 200, 400, 800, 1500, 3000}

// Metrics is the gateway's metrics sink. Every method is safe on a nil
// receiver so callers never need to guard against a missing sink.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	routeDenials     *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	upstreamErrors   *prometheus.CounterVec
	internalErrors   *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	upstreamLatency  *prometheus.HistogramVec
	inflight         prometheus.Gauge
	controlMutations *prometheus.CounterVec
	jwksFetches      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests through gateway",
		}, []string{"tenantId", "status"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Authentication failures",
		}, []string{"tenantId", "reason"}),
		routeDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_route_denials_total",
			Help: "Route access denials",
		}, []string{"tenantId"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Rate limited requests",
		}, []string{"tenantId"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Upstream service errors",
		}, []string{"tenantId"}),
		internalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_internal_errors_total",
			Help: "Internal gateway errors",
		}, []string{"type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_latency_ms",
			Help:    "End-to-end request latency",
			Buckets: latencyBuckets,
		}, []string{"tenantId", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_ms",
			Help:    "Latency of upstream calls",
			Buckets: latencyBuckets,
		}, []string{"tenantId", "upstream"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current in-flight requests",
		}),
		controlMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "control_mutations_total",
			Help: "Control plane state mutations",
		}, []string{"action"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_jwks_fetches_total",
			Help: "Remote JWKS fetches by result",
		}, []string{"tenantId", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.authFailures,
		m.routeDenials,
		m.rateLimited,
		m.upstreamErrors,
		m.internalErrors,
		m.latency,
		m.upstreamLatency,
		m.inflight,
		m.controlMutations,
		m.jwksFetches,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func tenantLabel(id string) string {
	if id == "" {
		return UnknownTenant
	}
	return id
}

func (m *Metrics) ObserveRequest(tenantID string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(tenantLabel(tenantID), code).Inc()
	m.latency.WithLabelValues(tenantLabel(tenantID), code).Observe(float64(d.Milliseconds()))
}

// TrackInflight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

func (m *Metrics) AuthFailure(tenantID, reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(tenantLabel(tenantID), reason).Inc()
}

func (m *Metrics) RouteDenied(tenantID string) {
	if m == nil {
		return
	}
	m.routeDenials.WithLabelValues(tenantLabel(tenantID)).Inc()
}

func (m *Metrics) RateLimited(tenantID string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(tenantLabel(tenantID)).Inc()
}

func (m *Metrics) UpstreamError(tenantID string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(tenantLabel(tenantID)).Inc()
}

func (m *Metrics) InternalError(kind string) {
	if m == nil {
		return
	}
	m.internalErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveUpstream(tenantID, upstream string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(tenantLabel(tenantID), upstream).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ControlMutation(action string) {
	if m == nil {
		return
	}
	m.controlMutations.WithLabelValues(action).Inc()
}

func (m *Metrics) JWKSFetch(tenantID, result string) {
	if m == nil {
		return
	}
	m.jwksFetches.WithLabelValues(tenantLabel(tenantID), result).Inc()
}
