package engine

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/metric"
)

// applicationMetrics holds Prometheus metrics for application lifecycle operations.
type applicationMetrics struct {
	// Lifecycle operations
	initialisations *prometheus.CounterVec // By status (success/failure)
	starts          *prometheus.CounterVec // By status
	stops           *prometheus.CounterVec // By status

	// Operation latency
	initialiseDuration *prometheus.HistogramVec // By stage
	stopDuration       *prometheus.HistogramVec

	// Assembly errors by failure class
	assemblyErrors *prometheus.CounterVec

	// State metrics
	runningModules prometheus.Gauge
}

// newApplicationMetrics creates and registers the lifecycle metrics with registry.
func newApplicationMetrics(registry *metric.MetricsRegistry) (*applicationMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &applicationMetrics{
		initialisations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varnet",
			Subsystem: "application",
			Name:      "initialisations_total",
			Help:      "Total number of application initialisations",
		}, []string{"status"}), // status: success, failure

		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varnet",
			Subsystem: "application",
			Name:      "starts_total",
			Help:      "Total number of application starts",
		}, []string{"status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varnet",
			Subsystem: "application",
			Name:      "stops_total",
			Help:      "Total number of application shutdowns",
		}, []string{"status"}),

		initialiseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "varnet",
			Subsystem: "application",
			Name:      "initialise_duration_seconds",
			Help:      "Duration of the assembly stages in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"stage"}), // stage: assemble, resolve, realize

		stopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "varnet",
			Subsystem: "application",
			Name:      "stop_duration_seconds",
			Help:      "Application shutdown duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1.0, 5.0},
		}, []string{}),

		assemblyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varnet",
			Subsystem: "application",
			Name:      "assembly_errors_total",
			Help:      "Total number of failed assemblies by cause",
		}, []string{"cause"}),

		runningModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "varnet",
			Subsystem: "application",
			Name:      "running_modules",
			Help:      "Current number of running module goroutines",
		}),
	}

	if err := registry.RegisterCounterVec("application", "initialisations", m.initialisations); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("application", "starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("application", "stops", m.stops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("application", "initialise_duration", m.initialiseDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("application", "stop_duration", m.stopDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("application", "assembly_errors", m.assemblyErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("application", "running_modules", m.runningModules); err != nil {
		return nil, err
	}

	return m, nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *applicationMetrics) recordInitialise(success bool, err error) {
	if m == nil {
		return
	}
	m.initialisations.WithLabelValues(outcome(success)).Inc()
	if err != nil {
		m.assemblyErrors.WithLabelValues(assemblyCause(err)).Inc()
	}
}

func (m *applicationMetrics) recordStage(stage string, seconds float64) {
	if m != nil {
		m.initialiseDuration.WithLabelValues(stage).Observe(seconds)
	}
}

func (m *applicationMetrics) recordStart(success bool, modules int) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(outcome(success)).Inc()
	if success {
		m.runningModules.Set(float64(modules))
	}
}

func (m *applicationMetrics) recordStop(success bool, seconds float64) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(outcome(success)).Inc()
	m.stopDuration.WithLabelValues().Observe(seconds)
	m.runningModules.Set(0)
}

// assemblyCause maps an assembly error to a low-cardinality label.
func assemblyCause(err error) string {
	for _, c := range []struct {
		sentinel error
		cause    string
	}{
		{errors.ErrDuplicateFeeder, "duplicate_feeder"},
		{errors.ErrNoFeeder, "no_feeder"},
		{errors.ErrNoConsumers, "no_consumers"},
		{errors.ErrTypeMismatch, "type_mismatch"},
		{errors.ErrUnitMismatch, "unit_mismatch"},
		{errors.ErrMissingTrigger, "missing_trigger"},
		{errors.ErrDuplicateTrigger, "duplicate_trigger"},
		{errors.ErrIllegalNetwork, "illegal_network"},
		{errors.ErrMalformedPath, "malformed_path"},
		{errors.ErrDuplicateName, "duplicate_name"},
	} {
		if stderrors.Is(err, c.sentinel) {
			return c.cause
		}
	}
	return "other"
}
