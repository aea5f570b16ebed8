package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "varnet"

// Metrics contains the engine-level metrics shared by every application instance
type Metrics struct {
	// Transport
	DataLoss *prometheus.CounterVec
	Networks *prometheus.GaugeVec

	// Validity
	OwnerFaults      *prometheus.GaugeVec
	CycleInvalidity  *prometheus.GaugeVec
	StalledModules   prometheus.Gauge
	WatchdogReports  prometheus.Counter
	SchedulerStalls  prometheus.Counter
	SchedulerSteps   prometheus.Counter
	BackendFaulted   *prometheus.GaugeVec
	BackendRecovered *prometheus.CounterVec
	BackendAttempts  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		DataLoss: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "data_loss_total",
				Help:      "Values overwritten in a full queue before being read",
			},
			[]string{"network"},
		),

		Networks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "networks",
				Help:      "Resolved variable networks by runtime shape",
			},
			[]string{"shape"},
		),

		OwnerFaults: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "validity",
				Name:      "owner_fault_count",
				Help:      "Current data fault counter per module",
			},
			[]string{"owner"},
		),

		CycleInvalidity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "validity",
				Name:      "cycle_invalidity",
				Help:      "Invalidity counter per circular dependency network",
			},
			[]string{"cycle"},
		),

		StalledModules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "watchdog",
				Name:      "stalled_modules",
				Help:      "Modules currently reported as waiting without progress",
			},
		),

		WatchdogReports: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watchdog",
				Name:      "reports_total",
				Help:      "Stall reports emitted by the watchdog",
			},
		),

		SchedulerStalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "stalls_total",
				Help:      "Testable-mode steps that ended in a stall",
			},
		),

		SchedulerSteps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "steps_total",
				Help:      "Completed testable-mode steps",
			},
		),

		BackendFaulted: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "faulted",
				Help:      "Backend fault state (0=ok, 1=faulted)",
			},
			[]string{"backend"},
		),

		BackendRecovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "recoveries_total",
				Help:      "Successful backend recoveries",
			},
			[]string{"backend"},
		),

		BackendAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "recovery_attempts_total",
				Help:      "Backend reopen attempts",
			},
			[]string{"backend"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.DataLoss,
		c.Networks,
		c.OwnerFaults,
		c.CycleInvalidity,
		c.StalledModules,
		c.WatchdogReports,
		c.SchedulerStalls,
		c.SchedulerSteps,
		c.BackendFaulted,
		c.BackendRecovered,
		c.BackendAttempts,
	}
}

// RecordDataLoss counts one overwritten value on a network
func (c *Metrics) RecordDataLoss(network string) {
	c.DataLoss.WithLabelValues(network).Inc()
}

// RecordNetworkShape sets the number of networks resolved into a shape
func (c *Metrics) RecordNetworkShape(shape string, count int) {
	c.Networks.WithLabelValues(shape).Set(float64(count))
}

// RecordOwnerFaults updates the fault counter gauge of an owner
func (c *Metrics) RecordOwnerFaults(owner string, count int64) {
	c.OwnerFaults.WithLabelValues(owner).Set(float64(count))
}

// RecordCycleInvalidity updates the invalidity gauge of a circular network
func (c *Metrics) RecordCycleInvalidity(cycle string, count int64) {
	c.CycleInvalidity.WithLabelValues(cycle).Set(float64(count))
}

// RecordBackendState updates backend fault status
func (c *Metrics) RecordBackendState(backend string, faulted bool) {
	value := 0.0
	if faulted {
		value = 1.0
	}
	c.BackendFaulted.WithLabelValues(backend).Set(value)
}

// RecordRecoveryAttempt counts one reopen attempt
func (c *Metrics) RecordRecoveryAttempt(backend string) {
	c.BackendAttempts.WithLabelValues(backend).Inc()
}

// RecordRecovery counts one successful recovery
func (c *Metrics) RecordRecovery(backend string) {
	c.BackendRecovered.WithLabelValues(backend).Inc()
}
