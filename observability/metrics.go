// Package observability exposes the process's prometheus metrics.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics records message throughput and saga outcomes.
type MarketMetrics struct {
	messages      *prometheus.CounterVec
	sagasStarted  prometheus.Counter
	sagasOutcome  *prometheus.CounterVec
	sagasActive   prometheus.Gauge
	oracleLookups prometheus.Counter
	refunds       prometheus.Counter
}

var (
	metricsOnce sync.Once
	registry    *MarketMetrics
)

// Metrics returns the lazily-initialised metrics registry shared by the
// process.
func Metrics() *MarketMetrics {
	metricsOnce.Do(func() {
		registry = &MarketMetrics{
			messages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lomarket",
				Name:      "messages_total",
				Help:      "Inbound messages segmented by action tag.",
			}, []string{"action"}),
			sagasStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lomarket",
				Name:      "sagas_started_total",
				Help:      "Sagas that passed validation and requested admission.",
			}),
			sagasOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lomarket",
				Name:      "sagas_finished_total",
				Help:      "Terminated sagas segmented by outcome.",
			}, []string{"outcome"}),
			sagasActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lomarket",
				Name:      "sagas_active",
				Help:      "Sagas currently awaiting a correlated reply.",
			}),
			oracleLookups: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lomarket",
				Name:      "oracle_requests_total",
				Help:      "Price requests sent to the oracle.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lomarket",
				Name:      "refunds_total",
				Help:      "Asset refunds sent back through the collateral token.",
			}),
		}
		prometheus.MustRegister(
			registry.messages,
			registry.sagasStarted,
			registry.sagasOutcome,
			registry.sagasActive,
			registry.oracleLookups,
			registry.refunds,
		)
	})
	return registry
}

// Message records an inbound message by action.
func (m *MarketMetrics) Message(action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "none"
	}
	m.messages.WithLabelValues(action).Inc()
}

// SagaStarted records a new pending saga.
func (m *MarketMetrics) SagaStarted() {
	if m == nil {
		return
	}
	m.sagasStarted.Inc()
	m.sagasActive.Inc()
}

// SagaFinished records a terminated saga.
func (m *MarketMetrics) SagaFinished(completed bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if completed {
		outcome = "completed"
	}
	m.sagasOutcome.WithLabelValues(outcome).Inc()
	m.sagasActive.Dec()
}

// OracleRequest records an outbound price request.
func (m *MarketMetrics) OracleRequest() {
	if m == nil {
		return
	}
	m.oracleLookups.Inc()
}

// Refund records an asset refund.
func (m *MarketMetrics) Refund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}
