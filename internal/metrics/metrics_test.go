package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndIncrement(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.Register(reg)

	m.SinkFailuresTotal.WithLabelValues("sqlstore").Inc()
	m.SolverFailuresTotal.Inc()

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	found := false
	for _, f := range mf {
		if f.GetName() == "fleetwatch_sink_failures_total" {
			found = true
			var total float64
			for _, m := range f.Metric {
				total += m.GetCounter().GetValue()
			}
			if total != 1 {
				t.Fatalf("total = %v, want 1", total)
			}
		}
	}
	if !found {
		t.Fatalf("expected fleetwatch_sink_failures_total in gathered families")
	}
}
