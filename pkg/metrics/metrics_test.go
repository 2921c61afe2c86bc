package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.Turn("success")
	m.Turn("success")
	m.ToolOutcome("add_ledger_entry", "declined")
	m.ConfirmationPending(1)
	m.ConfirmationPending(-1)
	m.ObserveProvider("classify", time.Now())

	if got := testutil.ToFloat64(m.turns.WithLabelValues("success")); got != 2 {
		t.Fatalf("turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.toolOutcomes.WithLabelValues("add_ledger_entry", "declined")); got != 1 {
		t.Fatalf("tool outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pendingConfirmations); got != 0 {
		t.Fatalf("pending = %v, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Turn("failed")
	m.ExpertInvoked("finance")
	m.ConfirmationPending(1)
	if m.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
