package ops

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and histograms for the engine.
// All methods are nil-safe so the engine runs unchanged without metrics.
type Metrics struct {
	registry            *prometheus.Registry
	opsTotal            *prometheus.CounterVec
	opDurationSeconds   *prometheus.HistogramVec
	vmsProvisionedTotal *prometheus.CounterVec
	opsRejectedTotal    prometheus.Counter
}

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	opsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pve_nestlab",
			Subsystem: "ops",
			Name:      "total",
			Help:      "Completed operations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	opDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pve_nestlab",
			Subsystem: "ops",
			Name:      "duration_seconds",
			Help:      "Operation runtime from admission to terminal phase.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"kind"},
	)
	vmsProvisionedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pve_nestlab",
			Subsystem: "vms",
			Name:      "provisioned_total",
			Help:      "Guest VM provisioning attempts by result.",
		},
		[]string{"result"},
	)
	opsRejectedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pve_nestlab",
			Subsystem: "ops",
			Name:      "rejected_total",
			Help:      "Start requests rejected because an operation was in flight.",
		},
	)

	registry.MustRegister(opsTotal, opDurationSeconds, vmsProvisionedTotal, opsRejectedTotal)

	return &Metrics{
		registry:            registry,
		opsTotal:            opsTotal,
		opDurationSeconds:   opDurationSeconds,
		vmsProvisionedTotal: vmsProvisionedTotal,
		opsRejectedTotal:    opsRejectedTotal,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOperation(kind Kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(string(kind), outcome).Inc()
	if s := duration.Seconds(); s >= 0 {
		m.opDurationSeconds.WithLabelValues(string(kind)).Observe(s)
	}
}

func (m *Metrics) IncVMProvisioned(result string) {
	if m == nil {
		return
	}
	m.vmsProvisionedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.opsRejectedTotal.Inc()
}
