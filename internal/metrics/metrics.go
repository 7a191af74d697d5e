// Package metrics records Monte Carlo run counters on a private Prometheus
// registry and exports them in the node_exporter textfile format at the end
// of a batch run.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ising"

// Recorder holds the run metrics. A nil Recorder is safe to use; all methods
// are no-ops on nil receiver.
type Recorder struct {
	registry *prometheus.Registry

	SweepsTotal        *prometheus.CounterVec
	AcceptedFlipsTotal *prometheus.CounterVec
	AcceptanceRate     *prometheus.GaugeVec
	PhaseDuration      *prometheus.HistogramVec
	TemperaturesDone   prometheus.Counter
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sweeps_total",
				Help:      "Monte Carlo sweeps completed by phase",
			},
			[]string{"phase"},
		),
		AcceptedFlipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "accepted_flips_total",
				Help:      "Accepted single spin flips by phase",
			},
			[]string{"phase"},
		),
		AcceptanceRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "acceptance_rate",
				Help:      "Acceptance rate of the last phase at each temperature",
			},
			[]string{"phase", "temperature"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "phase_duration_seconds",
				Help:      "Wall clock duration of Monte Carlo phases",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"phase"},
		),
		TemperaturesDone: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "temperatures_completed_total",
				Help:      "Temperatures whose production phase has been persisted",
			},
		),
	}

	r.registry.MustRegister(
		r.SweepsTotal,
		r.AcceptedFlipsTotal,
		r.AcceptanceRate,
		r.PhaseDuration,
		r.TemperaturesDone,
	)
	return r
}

// Registry returns the private registry, for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObservePhase records one completed phase.
func (r *Recorder) ObservePhase(phase string, temperature float64, sweeps, accepted int, rate float64, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.SweepsTotal.WithLabelValues(phase).Add(float64(sweeps))
	r.AcceptedFlipsTotal.WithLabelValues(phase).Add(float64(accepted))
	r.AcceptanceRate.WithLabelValues(phase, strconv.FormatFloat(temperature, 'g', -1, 64)).Set(rate)
	r.PhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// TemperatureDone counts a persisted temperature.
func (r *Recorder) TemperatureDone() {
	if r == nil {
		return
	}
	r.TemperaturesDone.Inc()
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
