package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records engine outcomes. Check-in refusals keep their precise
// cause here even though the API merges Expired and Mismatch into one
// generic refusal message.
type Metrics struct {
	checkinResults *prometheus.CounterVec
	transitions    *prometheus.CounterVec
}

// NewMetrics registers engine metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkinResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emargement_checkin_results_total",
			Help: "Check-in attempts by outcome.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emargement_session_transitions_total",
			Help: "Session state transitions by target state.",
		}, []string{"to"}),
	}
	if reg != nil {
		reg.MustRegister(m.checkinResults, m.transitions)
	}
	return m
}

func (m *Metrics) checkin(result string) {
	if m == nil {
		return
	}
	m.checkinResults.WithLabelValues(result).Inc()
}

func (m *Metrics) transition(to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}
