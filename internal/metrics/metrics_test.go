package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewStatsRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStats(reg)

	s.DecipherData(42)
	s.Connections.Inc()
	s.ConnectionsTotal.Inc()
	s.DecodeErrors.Inc()
	s.MessagesTotal.WithLabelValues("in").Inc()

	if got := testutil.ToFloat64(s.DecipheredBytes); got != 42 {
		t.Errorf("DecipheredBytes = %v, want 42", got)
	}
	if got := testutil.ToFloat64(s.Connections); got != 1 {
		t.Errorf("Connections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.ConnectionsTotal); got != 1 {
		t.Errorf("ConnectionsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.DecodeErrors); got != 1 {
		t.Errorf("DecodeErrors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.MessagesTotal.WithLabelValues("in")); got != 1 {
		t.Errorf("MessagesTotal{direction=in} = %v, want 1", got)
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(metricFamilies) != 5 {
		t.Errorf("registered metric families = %d, want 5", len(metricFamilies))
	}
}

func TestStatsDecipherDataAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStats(reg)

	s.DecipherData(10)
	s.DecipherData(5)

	if got := testutil.ToFloat64(s.DecipheredBytes); got != 15 {
		t.Errorf("DecipheredBytes = %v, want 15", got)
	}
}
