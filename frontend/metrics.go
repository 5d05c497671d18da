package frontend

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the tick driver's rolling counter set, grounded on
// minio-kes's internal/metric package: a private prometheus.Registry
// plus a handful of tagged counters/gauges, gathered on demand for
// getMetrics rather than exposed over HTTP (administrative surface is
// out of scope here).
type Metrics struct {
	registry *prometheus.Registry

	txTotal    prometheus.Counter
	txLastTick prometheus.Gauge
	sigEmitted prometheus.Counter
}

// NewMetrics constructs an empty Metrics set under the given namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		txTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frontend",
			Name:      "tx_total",
			Help:      "Total transactions dispatched since process start.",
		}),
		txLastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "frontend",
			Name:      "tx_last_tick",
			Help:      "Transactions dispatched during the most recent tick window.",
		}),
		sigEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frontend",
			Name:      "signatures_emitted_total",
			Help:      "Signatures emitted by the history ledger, on demand or by the tick driver.",
		}),
	}
	reg.MustRegister(m.txTotal, m.txLastTick, m.sigEmitted)
	return m
}

// RollUp folds txCount transactions dispatched since the last tick into
// the rolling counters, per spec.md §4.6.
func (m *Metrics) RollUp(txCount int64) {
	m.txTotal.Add(float64(txCount))
	m.txLastTick.Set(float64(txCount))
}

// RecordSignature notes that a signature was emitted, on demand or by
// the tick driver.
func (m *Metrics) RecordSignature() {
	m.sigEmitted.Inc()
}

// Snapshot gathers the current metric values into a JSON-friendly map,
// the representation getMetrics returns to the caller.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, fam := range families {
		for _, metric := range fam.Metric {
			switch {
			case metric.Counter != nil:
				out[fam.GetName()] = metric.Counter.GetValue()
			case metric.Gauge != nil:
				out[fam.GetName()] = metric.Gauge.GetValue()
			}
		}
	}
	return out, nil
}
