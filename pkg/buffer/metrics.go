package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/varnet/metric"
)

// bufferMetrics holds Prometheus metrics for one buffer.
type bufferMetrics struct {
	writes prometheus.Counter
	reads  prometheus.Counter
	drops  prometheus.Counter
	size   prometheus.Gauge
	util   prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"queue": prefix}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "varnet", Subsystem: "queue", Name: "writes_total",
			ConstLabels: labels, Help: "Total number of queue writes",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "varnet", Subsystem: "queue", Name: "reads_total",
			ConstLabels: labels, Help: "Total number of queue reads",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "varnet", Subsystem: "queue", Name: "drops_total",
			ConstLabels: labels, Help: "Total number of items dropped due to overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "varnet", Subsystem: "queue", Name: "size",
			ConstLabels: labels, Help: "Current number of items in the queue",
		}),
		util: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "varnet", Subsystem: "queue", Name: "utilization",
			ConstLabels: labels, Help: "Queue utilization (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "queue_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_utilization", m.util); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.util.Set(float64(size) / float64(capacity))
}
