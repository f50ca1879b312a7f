package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordIntoRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePrecache(true)
	m.ObservePrecache(true)
	m.ObservePrecache(false)
	m.ObserveRequest("default", "cache", 3*time.Millisecond)
	m.SetConnectedClients(4)
	m.IncBroadcast()

	if got := testutil.ToFloat64(m.precacheTotal.WithLabelValues(ResultStored)); got != 2 {
		t.Fatalf("stored counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.precacheTotal.WithLabelValues(ResultFailed)); got != 1 {
		t.Fatalf("failed counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("default", "cache")); got != 1 {
		t.Fatalf("requests counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectedClients); got != 4 {
		t.Fatalf("connected clients = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.broadcastsTotal); got != 1 {
		t.Fatalf("broadcasts = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("registry should expose collected families")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePrecache(true)
	m.ObserveInstall(time.Second)
	m.ObserveReap(false)
	m.ObserveRequest("font", "network", time.Second)
	m.ObserveFontPersist(true)
	m.SetConnectedClients(1)
	m.IncBroadcast()
}
