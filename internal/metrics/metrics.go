// Package metrics holds the Prometheus collectors for module loading and
// calculator calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// Module loading metrics
	moduleLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calc_module_loads_total",
		Help: "Total number of calculator module initializations",
	}, []string{"module", "result"})

	moduleLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calc_module_load_duration_seconds",
		Help:    "Duration of calculator module initialization",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	}, []string{"module"})

	// Operation metrics
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calc_operations_total",
		Help: "Total number of calculator operations",
	}, []string{"operation", "result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		moduleLoadsTotal,
		moduleLoadDuration,
		operationsTotal,
	)
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordModuleLoad records one module initialization.
func RecordModuleLoad(module, result string, durationSeconds float64) {
	moduleLoadsTotal.WithLabelValues(module, result).Inc()
	moduleLoadDuration.WithLabelValues(module).Observe(durationSeconds)
}

// RecordOperation records one calculator operation.
func RecordOperation(operation, result string) {
	operationsTotal.WithLabelValues(operation, result).Inc()
}

// ModuleLoads returns the module load counter for the given labels.
func ModuleLoads(module, result string) prometheus.Counter {
	return moduleLoadsTotal.WithLabelValues(module, result)
}

// Operations returns the operation counter for the given labels.
func Operations(operation, result string) prometheus.Counter {
	return operationsTotal.WithLabelValues(operation, result)
}
