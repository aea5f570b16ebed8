package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/varnet/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("test-service", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("svc", "dup_gauge", gauge))

	err := registry.RegisterGauge("svc", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	err = registry.RegisterGauge("other-svc", "dup_gauge", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus conflict should be invalid, got %v", err)
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vec_total", Help: "v"}, []string{"x"})
	require.NoError(t, registry.RegisterCounterVec("svc", "vec_total", vec))

	assert.True(t, registry.Unregister("svc", "vec_total"))
	assert.False(t, registry.Unregister("svc", "vec_total"))

	require.NoError(t, registry.RegisterCounterVec("svc", "vec_total", vec))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d", i)
			gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: "c"}, []string{"l"})
			assert.NoError(t, registry.RegisterGaugeVec("svc", name, gv))
		}(i)
	}
	wg.Wait()
}

func TestCoreMetrics_Registered(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordDataLoss("/a/out")
	m.RecordNetworkShape("direct_pipe", 3)
	m.RecordOwnerFaults("/a", 2)
	m.RecordCycleInvalidity("c1", 1)
	m.RecordBackendState("oven", true)
	m.RecordRecoveryAttempt("oven")
	m.RecordRecovery("oven")
	m.SchedulerStalls.Inc()

	names := gatheredNames(t, registry)
	for _, want := range []string{
		"varnet_transport_data_loss_total",
		"varnet_transport_networks",
		"varnet_validity_owner_fault_count",
		"varnet_validity_cycle_invalidity",
		"varnet_device_faulted",
		"varnet_device_recoveries_total",
		"varnet_scheduler_stalls_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataLoss.WithLabelValues("/a/out")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Networks.WithLabelValues("direct_pipe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendFaulted.WithLabelValues("oven")))

	m.RecordBackendState("oven", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendFaulted.WithLabelValues("oven")))
}
