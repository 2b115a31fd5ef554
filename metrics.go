package durablesaga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects saga runtime metrics. A nil *Metrics records nothing.
type Metrics struct {
	instancesStarted  *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	instanceDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "durablesaga_instances_started_total",
				Help: "Total number of saga instances started",
			},
			[]string{"saga"},
		),
		instancesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "durablesaga_instances_finished_total",
				Help: "Total number of saga instances that reached a terminal state",
			},
			[]string{"saga", "status"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "durablesaga_compensations_total",
				Help: "Total number of compensating actions executed",
			},
			[]string{"saga", "result"},
		),
		instanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "durablesaga_instance_duration_seconds",
				Help:    "Time from start to terminal state of saga instances",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"saga", "status"},
		),
	}
	reg.MustRegister(m.instancesStarted, m.instancesFinished, m.compensations, m.instanceDuration)
	return m
}

func (m *Metrics) started(saga SagaName) {
	if m == nil {
		return
	}
	m.instancesStarted.WithLabelValues(string(saga)).Inc()
}

// finished records a terminal instance. Rolled back instances with a failed
// compensation are reported as partially_rolled_back.
func (m *Metrics) finished(saga SagaName, status InstanceStatus, outcome *SagaOutcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := string(status)
	if outcome != nil && outcome.PartiallyRolledBack() {
		label = "partially_rolled_back"
	}
	m.instancesFinished.WithLabelValues(string(saga), label).Inc()
	m.instanceDuration.WithLabelValues(string(saga), label).Observe(elapsed.Seconds())

	if outcome == nil {
		return
	}
	for _, c := range outcome.Compensations {
		result := "succeeded"
		if !c.Succeeded {
			result = "failed"
		}
		m.compensations.WithLabelValues(string(saga), result).Inc()
	}
}
