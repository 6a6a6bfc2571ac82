package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCirculationMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCirculationMetrics(reg)

	m.ObserveOperation("borrow", OutcomeSuccess)
	m.ObserveOperation("borrow", OutcomeSuccess)
	m.ObserveOperation("borrow", OutcomeRejected)
	m.IncCASConflict("borrow")
	m.IncCASRetry("borrow")
	m.AddPromotions(3)
	m.AddPromotions(0)
	m.AddExpiries("ready", 2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	family := findMetricFamily(mfs, "circulation_operations_total")
	if family == nil {
		t.Fatal("operations metric missing")
	}
	var success float64
	for _, metric := range family.GetMetric() {
		if matchesLabel(metric.GetLabel(), "outcome", OutcomeSuccess) {
			success = metric.GetCounter().GetValue()
		}
	}
	if success != 2 {
		t.Fatalf("expected 2 successful borrows, got %f", success)
	}

	if got, err := fetchCounterValue(mfs, "circulation_copy_cas_conflicts_total", "operation", "borrow"); err != nil || got != 1 {
		t.Fatalf("unexpected cas conflicts %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "circulation_copy_cas_retries_total", "operation", "borrow"); err != nil || got != 1 {
		t.Fatalf("unexpected cas retries %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "circulation_reservations_expired_total", "from", "ready"); err != nil || got != 2 {
		t.Fatalf("unexpected expiries %f err=%v", got, err)
	}
	promoted := findMetricFamily(mfs, "circulation_reservations_promoted_total")
	if promoted == nil || promoted.GetMetric()[0].GetCounter().GetValue() != 3 {
		t.Fatalf("expected 3 promotions")
	}
}

func TestCirculationMetricsNilSafe(t *testing.T) {
	var m *CirculationMetrics
	m.ObserveOperation("borrow", OutcomeError)
	m.IncCASConflict("borrow")
	m.IncCASRetry("borrow")
	m.AddPromotions(1)
	m.AddExpiries("pending", 1)

	NewCirculationMetrics(nil).ObserveOperation("return", OutcomeSuccess)
}
