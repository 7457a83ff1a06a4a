package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeliveryMetrics tracks the health of the outbound messaging path.
type DeliveryMetrics struct {
	attempts    prometheus.CounterVec
	failures    prometheus.CounterVec
	pollRestart prometheus.CounterVec
	inbound     prometheus.CounterVec
}

var (
	defaultDeliveryMetrics     *DeliveryMetrics
	defaultDeliveryMetricsOnce sync.Once
)

// NewDeliveryMetrics builds a DeliveryMetrics recorder using the default registry.
func NewDeliveryMetrics() *DeliveryMetrics {
	defaultDeliveryMetricsOnce.Do(func() {
		defaultDeliveryMetrics = newDeliveryMetrics(prometheus.DefaultRegisterer)
	})
	return defaultDeliveryMetrics
}

// NewDeliveryMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewDeliveryMetricsWithRegisterer(reg prometheus.Registerer) *DeliveryMetrics {
	return newDeliveryMetrics(reg)
}

func newDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &DeliveryMetrics{
		attempts: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenehub",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Number of outbound message sends attempted, by channel",
		}, []string{"channel"}),
		failures: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenehub",
			Subsystem: "delivery",
			Name:      "failures_total",
			Help:      "Number of outbound message sends that failed after retries, by channel",
		}, []string{"channel"}),
		pollRestart: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenehub",
			Subsystem: "delivery",
			Name:      "poll_restarts_total",
			Help:      "Number of times a platform polling loop had to restart, by channel",
		}, []string{"channel"}),
		inbound: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenehub",
			Subsystem: "delivery",
			Name:      "inbound_total",
			Help:      "Number of inbound platform updates dispatched, by channel",
		}, []string{"channel"}),
	}
}

// RecordAttempt counts one outbound send attempt.
func (m *DeliveryMetrics) RecordAttempt(channel string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(channel).Inc()
}

// RecordFailure counts one exhausted outbound send.
func (m *DeliveryMetrics) RecordFailure(channel string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(channel).Inc()
}

// RecordPollRestart counts one polling-loop restart.
func (m *DeliveryMetrics) RecordPollRestart(channel string) {
	if m == nil {
		return
	}
	m.pollRestart.WithLabelValues(channel).Inc()
}

// RecordInbound counts one dispatched inbound update.
func (m *DeliveryMetrics) RecordInbound(channel string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(channel).Inc()
}
