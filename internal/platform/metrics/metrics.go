package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the validation workflow engine.
type Metrics struct {
	// Case transitions by action and outcome (applied / refused / error)
	Transitions *prometheus.CounterVec

	// Cases marked EXPIRED by the sweep
	Expirations prometheus.Counter

	// Reminder actions recorded
	Reminders prometheus.Counter
}

// New registers workflow metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers workflow metrics on a caller-supplied registry; tests use
// a throwaway registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "report_validation_transitions_total",
			Help: "Total case transition attempts by action and outcome",
		}, []string{"action", "outcome"}),

		Expirations: factory.NewCounter(prometheus.CounterOpts{
			Name: "report_validation_expirations_total",
			Help: "Total cases transitioned to expired by the sweep",
		}),

		Reminders: factory.NewCounter(prometheus.CounterOpts{
			Name: "report_validation_reminders_total",
			Help: "Total reminder actions recorded",
		}),
	}
}

// IncrementTransition records one transition attempt.
func (m *Metrics) IncrementTransition(action, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(action, outcome).Inc()
	}
}

// IncrementExpirations records one case expired by the sweep.
func (m *Metrics) IncrementExpirations() {
	if m != nil {
		m.Expirations.Inc()
	}
}

// IncrementReminders records one reminder sent.
func (m *Metrics) IncrementReminders() {
	if m != nil {
		m.Reminders.Inc()
	}
}
