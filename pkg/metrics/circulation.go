package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for circulation operations.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// CirculationMetrics counts coordinator operations and queue movement.
type CirculationMetrics struct {
	operations   *prometheus.CounterVec
	casConflicts *prometheus.CounterVec
	casRetries   *prometheus.CounterVec
	promotions   prometheus.Counter
	expiries     *prometheus.CounterVec
}

// NewCirculationMetrics registers the circulation collectors on reg.
// A nil registerer yields a no-op recorder.
func NewCirculationMetrics(reg prometheus.Registerer) *CirculationMetrics {
	if reg == nil {
		return &CirculationMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_operations_total",
		Help: "Circulation operations by name and outcome.",
	}, []string{"operation", "outcome"})
	casConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_copy_cas_conflicts_total",
		Help: "Copy status compare-and-set conflicts observed by the coordinator.",
	}, []string{"operation"})
	casRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_copy_cas_retries_total",
		Help: "Transactions re-run after a copy status conflict.",
	}, []string{"operation"})
	promotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circulation_reservations_promoted_total",
		Help: "Reservations moved to ready with an earmarked copy.",
	})
	expiries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_reservations_expired_total",
		Help: "Reservations expired, by the status they expired from.",
	}, []string{"from"})
	reg.MustRegister(operations, casConflicts, casRetries, promotions, expiries)
	return &CirculationMetrics{
		operations:   operations,
		casConflicts: casConflicts,
		casRetries:   casRetries,
		promotions:   promotions,
		expiries:     expiries,
	}
}

// ObserveOperation counts one coordinator call.
func (m *CirculationMetrics) ObserveOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *CirculationMetrics) IncCASConflict(operation string) {
	if m == nil || m.casConflicts == nil {
		return
	}
	m.casConflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *CirculationMetrics) IncCASRetry(operation string) {
	if m == nil || m.casRetries == nil {
		return
	}
	m.casRetries.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *CirculationMetrics) AddPromotions(n int) {
	if m == nil || m.promotions == nil || n <= 0 {
		return
	}
	m.promotions.Add(float64(n))
}

func (m *CirculationMetrics) AddExpiries(from string, n int) {
	if m == nil || m.expiries == nil || n <= 0 {
		return
	}
	m.expiries.WithLabelValues(normalizeLabel(from)).Add(float64(n))
}
