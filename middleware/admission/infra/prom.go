package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DecisionMetrics exporta contadores Prometheus das decisões de admissão.
// Implementa domain.DecisionObserver; plugado no middleware, nunca no
// caminho da decisão em si.
type DecisionMetrics struct {
	decisions *prometheus.CounterVec
}

func NewDecisionMetrics() *DecisionMetrics {
	return &DecisionMetrics{
		decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Total number of admission decisions by route type and outcome.",
		}, []string{"route_type", "outcome"}),
	}
}

func (m *DecisionMetrics) ObserveDecision(routeType string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisions.WithLabelValues(routeType, outcome).Inc()
}
