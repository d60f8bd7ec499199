package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/vuload/internal/performance"
)

// Telemetry exports process-wide load test counters to Prometheus.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	runsTotal      *prometheus.CounterVec
	activeRuns     prometheus.Gauge
	requestsTotal  *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewTelemetry registers the load test collectors with reg.
// It returns nil when reg is nil.
//
// Coordinators may share a registry: collectors already registered by an
// earlier call are reused, so their series are shared too.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		return nil
	}

	return &Telemetry{
		runsTotal: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vuload",
			Name:      "runs_total",
			Help:      "Total number of load test runs by terminal status.",
		}, []string{"status"})),
		activeRuns: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vuload",
			Name:      "active_runs",
			Help:      "Current number of running load tests.",
		})),
		requestsTotal: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vuload",
			Name:      "requests_total",
			Help:      "Total number of target invocations by outcome.",
		}, []string{"outcome"})),
		requestLatency: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vuload",
			Name:      "request_latency_seconds",
			Help:      "Latency distribution of target invocations.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		})),
	}
}

// register adds c to reg, returning the collector already registered under
// the same descriptor if there is one. Any other conflict panics, as
// MustRegister would.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}

// Observe counts one execution record. It satisfies performance.RecordObserver.
func (t *Telemetry) Observe(rec performance.ExecutionRecord) {
	if t == nil {
		return
	}
	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	t.requestsTotal.WithLabelValues(outcome).Inc()

	if rec.HasLatency {
		t.requestLatency.Observe((time.Duration(rec.LatencyMs) * time.Millisecond).Seconds())
	}
}

// RunStarted marks a run as active.
func (t *Telemetry) RunStarted() {
	if t == nil {
		return
	}
	t.activeRuns.Inc()
}

// RunFinished marks a run as no longer active and counts its terminal status.
func (t *Telemetry) RunFinished(status string) {
	if t == nil {
		return
	}
	t.activeRuns.Dec()
	t.runsTotal.WithLabelValues(status).Inc()
}
