package liveview

import (
	"context"
	"testing"

	"github.com/marcus/livecache/internal/metrics"
	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/registry"
)

func TestObserveMetricAndActiveMetrics(t *testing.T) {
	executor := newFakeExecutor(
		model.Record{"id": 1, "status": "open"},
		model.Record{"id": 2, "status": "open"},
	)
	reg := registry.New()
	v, _ := NewRoot(Options{ModelName: "issue", PKField: "id", Executor: executor, Registry: reg})

	m, err := v.ObserveMetric(context.Background(), metrics.Count, "")
	if err != nil {
		t.Fatalf("ObserveMetric: %v", err)
	}
	if m.Value != 2 {
		t.Fatalf("expected count=2, got %v", m.Value)
	}
	if len(v.ActiveMetrics()) != 1 {
		t.Fatalf("expected 1 active metric")
	}
}

func TestScheduleMetricsRefreshCascadesToChildren(t *testing.T) {
	executor := newFakeExecutor(model.Record{"id": 1, "status": "open"})
	reg := registry.New()
	root, _ := NewRoot(Options{ModelName: "issue", PKField: "id", Executor: executor, Registry: reg})
	child := root.Filter(map[string]any{"status": "open"})

	// Should not panic even though only root is registered; exercises the
	// recursive cascade into filtered children's own metrics managers.
	root.ScheduleMetricsRefresh()
	_ = child
}
