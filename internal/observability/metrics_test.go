package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRecordsBubbleEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test_bubbles")

	m.ObserveBubbleEvent("created")
	m.ObserveBubbleEvent("created")
	m.ObserveBubbleEvent("cleared")
	m.ObserveReadingPause(3 * time.Second)

	var metric dto.Metric
	if err := m.BubbleEvents.WithLabelValues("created").Write(&metric); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Fatalf("created counter = %v, want 2", got)
	}

	snap := m.HoldSnapshot()
	if len(snap.Holds) != 1 || snap.Holds[0].LastMS != 3000 {
		t.Fatalf("Holds = %+v, want one reading_pause sample of 3000ms", snap.Holds)
	}
	if len(snap.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(snap.Events))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "test_bubbles_reading_pause_ms" {
			found = true
			if got := f.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
				t.Fatalf("reading_pause_ms count = %d, want 1", got)
			}
		}
	}
	if !found {
		t.Fatalf("reading_pause_ms histogram not registered")
	}
}
