package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "licensegate"

// AuthorizationMetrics records outcomes of activate, renew and fetch calls.
type AuthorizationMetrics struct {
	duration      *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	usageFailures prometheus.Counter
}

// NewAuthorizationMetrics registers the authorization metrics on the provided registerer.
func NewAuthorizationMetrics(reg prometheus.Registerer) *AuthorizationMetrics {
	if reg == nil {
		return &AuthorizationMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "authorization_duration_seconds",
		Help:      "Duration of authorization operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_outcomes_total",
		Help:      "Authorization operations by terminal outcome.",
	}, []string{"operation", "outcome"})
	usageFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_write_failures_total",
		Help:      "Usage events that could not be persisted.",
	})
	reg.MustRegister(duration, outcomes, usageFailures)
	return &AuthorizationMetrics{
		duration:      duration,
		outcomes:      outcomes,
		usageFailures: usageFailures,
	}
}

// Observe records one finished operation. An empty outcome means it was granted.
func (m *AuthorizationMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	op := normalizeLabel(operation, "unknown")
	m.outcomes.WithLabelValues(op, normalizeLabel(outcome, "GRANTED")).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IncUsageFailure counts a dropped usage event.
func (m *AuthorizationMetrics) IncUsageFailure() {
	if m == nil || m.usageFailures == nil {
		return
	}
	m.usageFailures.Inc()
}

func normalizeLabel(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
