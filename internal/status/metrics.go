package status

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// Metrics exports detector state to Prometheus on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	motion        prometheus.Gauge
	ready         prometheus.Gauge
	transitions   *prometheus.CounterVec
	aborted       prometheus.Counter
	readErrors    prometheus.Counter
	stateDuration *prometheus.HistogramVec

	mu   sync.Mutex
	last logic.EventCounts
}

// NewMetrics registers the detector metrics and the Go runtime collectors.
func NewMetrics(sensor string) *Metrics {
	labels := prometheus.Labels{"sensor": sensor}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		motion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pir_motion",
			Help:        "1 while motion is confirmed, 0 otherwise.",
			ConstLabels: labels,
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pir_ready",
			Help:        "1 once sensor calibration has completed.",
			ConstLabels: labels,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pir_transitions_total",
			Help:        "Confirmed motion transitions by new value.",
			ConstLabels: labels,
		}, []string{"value"}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pir_candidates_aborted_total",
			Help:        "Motion candidates discarded before stabilization.",
			ConstLabels: labels,
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pir_read_errors_total",
			Help:        "Failed pin reads.",
			ConstLabels: labels,
		}),
		stateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "pir_state_duration_seconds",
			Help:        "Time spent in a motion state before it changed.",
			ConstLabels: labels,
			Buckets:     []float64{1, 5, 10, 30, 60, 300, 900, 3600, 14400},
		}, []string{"state"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.motion,
		m.ready,
		m.transitions,
		m.aborted,
		m.readErrors,
		m.stateDuration,
	)
	return m
}

// SetReady records calibration completion.
func (m *Metrics) SetReady(ready bool) {
	m.ready.Set(boolFloat(ready))
}

// ObserveChange records a confirmed transition and how long the state it
// left lasted.
func (m *Metrics) ObserveChange(c logic.Change) {
	m.motion.Set(boolFloat(c.Value))
	m.transitions.WithLabelValues(valueLabel(c.Value)).Inc()
	m.stateDuration.WithLabelValues(valueLabel(!c.Value)).Observe(c.TimeInState.Seconds())
}

// SyncCounts advances the counters to match counts. Counts never decrease
// over a detector's life, so only the delta since the last call is added.
func (m *Metrics) SyncCounts(counts logic.EventCounts) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d := counts.Aborted - m.last.Aborted; d > 0 {
		m.aborted.Add(float64(d))
	}
	if d := counts.ReadErrors - m.last.ReadErrors; d > 0 {
		m.readErrors.Add(float64(d))
	}
	m.last = counts
}

func valueLabel(motion bool) string {
	if motion {
		return "motion"
	}
	return "clear"
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
