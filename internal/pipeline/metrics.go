package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects pipeline counters. All record methods are nil-safe so
// components can run without a collector wired in.
type Metrics struct {
	consumedTotal       *prometheus.CounterVec
	quarantinedTotal    *prometheus.CounterVec
	requeuedTotal       *prometheus.CounterVec
	fanoutTotal         prometheus.Counter
	associationFailures prometheus.Counter
	seededTotal         *prometheus.CounterVec

	registerer prometheus.Registerer
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockflow",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stockflow",
		Subsystem: "pipeline",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates a pipeline metrics collector. Pass nil to use the
// default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:          registerer,
		consumedTotal:       newCounterVec("consumed_total", "Messages consumed, by queue and outcome", []string{"queue", "outcome"}),
		quarantinedTotal:    newCounterVec("quarantined_total", "Messages copied to a dead-letter queue, by DLQ and reason", []string{"dlq", "reason"}),
		requeuedTotal:       newCounterVec("requeued_total", "Messages re-queued after a retryable failure, by queue", []string{"queue"}),
		fanoutTotal:         newCounter("fanout_published_total", "Product events fanned out from supplier events"),
		associationFailures: newCounter("association_failures_total", "Product/supplier association calls that failed"),
		seededTotal:         newCounterVec("seeded_total", "Seed documents handled by the publisher, by outcome", []string{"outcome"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	collectors := []prometheus.Collector{
		m.consumedTotal,
		m.quarantinedTotal,
		m.requeuedTotal,
		m.fanoutTotal,
		m.associationFailures,
		m.seededTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func (m *Metrics) recordConsumed(queue, outcome string) {
	if m == nil {
		return
	}
	m.consumedTotal.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) recordQuarantined(dlq, reason string) {
	if m == nil {
		return
	}
	m.quarantinedTotal.WithLabelValues(dlq, reason).Inc()
}

func (m *Metrics) recordRequeued(queue string) {
	if m == nil {
		return
	}
	m.requeuedTotal.WithLabelValues(queue).Inc()
}

func (m *Metrics) recordFanout(n int) {
	if m == nil {
		return
	}
	m.fanoutTotal.Add(float64(n))
}

func (m *Metrics) recordAssociationFailure() {
	if m == nil {
		return
	}
	m.associationFailures.Inc()
}

func (m *Metrics) recordSeeded(outcome string) {
	if m == nil {
		return
	}
	m.seededTotal.WithLabelValues(outcome).Inc()
}
