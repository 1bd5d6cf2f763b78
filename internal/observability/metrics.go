package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded by JWKSFetch.
const (
	FetchSuccess   = "success"
	FetchError     = "error"
	FetchThrottled = "throttled"
	FetchCanceled  = "canceled"
)

// Metrics holds the Prometheus collectors for the authorization core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	JWKSFetchesTotal   *prometheus.CounterVec
	KeyCacheLookups    *prometheus.CounterVec
	AuthDecisionsTotal *prometheus.CounterVec
	KeyResolveDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JWKSFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_jwks_fetches_total",
				Help: "Outbound JWKS fetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		KeyCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_key_cache_lookups_total",
				Help: "Signing key cache lookups by result",
			},
			[]string{"result"},
		),
		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_decisions_total",
				Help: "Authorization checks by terminal outcome",
			},
			[]string{"outcome"},
		),
		KeyResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auth_key_resolve_duration_seconds",
				Help:    "Latency of signing key resolution including network fetches",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.JWKSFetchesTotal, m.KeyCacheLookups, m.AuthDecisionsTotal, m.KeyResolveDuration)
	}
	return m
}

// JWKSFetch records one fetch attempt.
func (m *Metrics) JWKSFetch(outcome string) {
	if m == nil {
		return
	}
	m.JWKSFetchesTotal.WithLabelValues(outcome).Inc()
}

// KeyCacheLookup records a cache hit or miss.
func (m *Metrics) KeyCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.KeyCacheLookups.WithLabelValues(result).Inc()
}

// AuthDecision records the terminal state of an authorization check.
func (m *Metrics) AuthDecision(outcome string) {
	if m == nil {
		return
	}
	m.AuthDecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveKeyResolve records how long a key resolution took.
func (m *Metrics) ObserveKeyResolve(seconds float64) {
	if m == nil {
		return
	}
	m.KeyResolveDuration.Observe(seconds)
}

// Handler serves the collectors gathered by g on /metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
