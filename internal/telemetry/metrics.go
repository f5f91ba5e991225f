package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the orchestrator increments while driving
// scenarios. Construct with a dedicated registry in tests to avoid global
// registration conflicts.
type Metrics struct {
	// StepsTotal counts finished steps by outcome (pass/fail/error/skipped).
	StepsTotal *prometheus.CounterVec

	// PollCycles counts fault status polls performed.
	PollCycles prometheus.Counter

	// StepDuration observes wall-clock step duration in seconds.
	StepDuration prometheus.Histogram
}

// NewMetrics creates and registers the collector set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultline",
			Name:      "steps_total",
			Help:      "Scenario steps finished, by outcome.",
		}, []string{"outcome"}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "faultline",
			Name:      "fault_poll_cycles_total",
			Help:      "Fault status polls performed.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "faultline",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of scenario steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	reg.MustRegister(m.StepsTotal, m.PollCycles, m.StepDuration)
	return m
}

// ObserveStep records one finished step.
func (m *Metrics) ObserveStep(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(outcome).Inc()
	m.StepDuration.Observe(d.Seconds())
}

// ObservePolls records fault status polls.
func (m *Metrics) ObservePolls(n int) {
	if m == nil {
		return
	}
	m.PollCycles.Add(float64(n))
}
