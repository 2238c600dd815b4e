package metrics

import "github.com/prometheus/client_golang/prometheus"

// TriageMetrics exposes counters/histograms for the triage and crisis flows.
type TriageMetrics struct {
	turnsTotal         *prometheus.CounterVec
	assessmentFallback *prometheus.CounterVec
	crisisAlertsTotal  *prometheus.CounterVec
	assignmentsTotal   *prometheus.CounterVec
	assignmentRetries  prometheus.Counter
	statusTransitions  *prometheus.CounterVec
	llmLatency         *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
}

func NewTriageMetrics(reg prometheus.Registerer) *TriageMetrics {
	m := &TriageMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Turns processed by intervention type",
		}, []string{"intervention"}),
		assessmentFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "engine",
			Name:      "assessment_fallback_total",
			Help:      "Assessments that fell back to the default reading",
		}, []string{"reason"}),
		crisisAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "crisis",
			Name:      "alerts_total",
			Help:      "Crisis alerts created",
		}, []string{"crisis_type", "risk_level"}),
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "crisis",
			Name:      "assignments_total",
			Help:      "Responder assignment outcomes",
		}, []string{"outcome"}),
		assignmentRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "crisis",
			Name:      "assignment_retries_total",
			Help:      "Assignment attempts retried after a write conflict",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "crisis",
			Name:      "status_transitions_total",
			Help:      "Alert status transitions",
		}, []string{"from", "to"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Latency of text-generation calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 12, 20, 30},
		}, []string{"operation", "status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Crisis notifications attempted",
		}, []string{"kind", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal,
		m.assessmentFallback,
		m.crisisAlertsTotal,
		m.assignmentsTotal,
		m.assignmentRetries,
		m.statusTransitions,
		m.llmLatency,
		m.notificationsTotal,
	)
	return m
}

func (m *TriageMetrics) ObserveTurn(intervention string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intervention).Inc()
}

// ObserveAssessmentFallback records why an assessment was defaulted ("parse" or "upstream").
func (m *TriageMetrics) ObserveAssessmentFallback(reason string) {
	if m == nil {
		return
	}
	m.assessmentFallback.WithLabelValues(reason).Inc()
}

func (m *TriageMetrics) ObserveCrisisAlert(crisisType, riskLevel string) {
	if m == nil {
		return
	}
	m.crisisAlertsTotal.WithLabelValues(crisisType, riskLevel).Inc()
}

// ObserveAssignment records one of assigned, unassigned, conflict_exhausted or no_specialization.
func (m *TriageMetrics) ObserveAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(outcome).Inc()
}

func (m *TriageMetrics) ObserveAssignmentRetry() {
	if m == nil {
		return
	}
	m.assignmentRetries.Inc()
}

func (m *TriageMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func (m *TriageMetrics) ObserveLLMLatency(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmLatency.WithLabelValues(operation, status).Observe(seconds)
}

func (m *TriageMetrics) ObserveNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(kind, status).Inc()
}
