package events

import (
	"context"
	"testing"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/registry"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/transport"
)

type stubExecutor struct {
	rows map[any]model.Record
}

func (s *stubExecutor) Execute(ctx context.Context, q transport.Query) (transport.Result, error) {
	switch q.Type {
	case transport.QueryGet, transport.QueryFirst:
		for _, v := range q.Filter {
			if row, ok := s.rows[v]; ok {
				return transport.Result{Data: []model.Record{row}}, nil
			}
		}
		return transport.Result{}, &transport.DoesNotExist{Model: q.Model}
	case transport.QueryRead:
		var pks []any
		// pk__in filter: value is a slice of wanted pks.
		for _, v := range q.Filter {
			if list, ok := v.([]any); ok {
				pks = list
			}
		}
		var out []model.Record
		for _, pk := range pks {
			if row, ok := s.rows[pk]; ok {
				out = append(out, row)
			}
		}
		return transport.Result{Data: out}, nil
	}
	return transport.Result{}, nil
}

type stubOverfetch struct {
	calls []string
}

func (o *stubOverfetch) HandleModelEvent(eventType string, pks []any) {
	o.calls = append(o.calls, eventType)
}

type testView struct {
	array      *synced.SyncedArray
	executor   *stubExecutor
	created    map[any]bool
	matchAll   bool
	matchField string
	matchValue any
	overfetch  *stubOverfetch
	refreshes  int
}

func newTestView(executor *stubExecutor) *testView {
	return &testView{
		array:    synced.New("id"),
		executor: executor,
		created:  map[any]bool{},
		matchAll: true,
	}
}

func (v *testView) ModelName() string   { return "issue" }
func (v *testView) Namespace() string   { return "issue::default" }
func (v *testView) PKField() string     { return "id" }
func (v *testView) Array() *synced.SyncedArray { return v.array }
func (v *testView) RemoteInsertPosition() synced.Position { return synced.Append() }
func (v *testView) HasCreatedItem(pk any) bool { return v.created[pk] }
func (v *testView) Executor() transport.QueryExecutor { return v.executor }
func (v *testView) ScheduleMetricsRefresh()     { v.refreshes++ }
func (v *testView) Overfetch() registry.OverfetchHandler {
	if v.overfetch == nil {
		return nil
	}
	return v.overfetch
}
func (v *testView) Matches(r model.Record) bool {
	if v.matchAll {
		return true
	}
	return r[v.matchField] == v.matchValue
}

func TestDispatchAppliesCreateWhenMatched(t *testing.T) {
	reg := registry.New()
	executor := &stubExecutor{rows: map[any]model.Record{1: {"id": 1, "name": "a"}}}
	view := newTestView(executor)
	reg.Register("issue::default", view)

	d := NewDispatcher(reg)
	d.Dispatch(context.Background(), transport.RawEvent{
		Type: "create", Model: "issue", Namespace: "issue::default",
		PKFieldName: "id", Extra: map[string]any{"id": 1},
	})

	ground := view.array.Ground()
	if len(ground) != 1 || ground[0]["name"] != "a" {
		t.Fatalf("expected fetched row applied to ground truth, got %v", ground)
	}
	if view.refreshes != 1 {
		t.Fatalf("expected ScheduleMetricsRefresh called once, got %d", view.refreshes)
	}
}

func TestDispatchSuppressesSelfEcho(t *testing.T) {
	reg := registry.New()
	executor := &stubExecutor{rows: map[any]model.Record{1: {"id": 1, "name": "a"}}}
	view := newTestView(executor)
	reg.Register("issue::default", view)
	reg.BeginOperation("op-1")

	d := NewDispatcher(reg)
	d.Dispatch(context.Background(), transport.RawEvent{
		Type: "create", Model: "issue", Namespace: "issue::default",
		OperationID: "op-1", PKFieldName: "id", Extra: map[string]any{"id": 1},
	})

	if len(view.array.Ground()) != 0 {
		t.Fatalf("expected self-echoed create to be dropped, got %v", view.array.Ground())
	}
	// Bookkeeping still runs even for self-echoes.
	if view.refreshes != 1 {
		t.Fatalf("expected metrics refresh scheduled even for self-echo, got %d", view.refreshes)
	}
}

func TestDispatchUpdateNoLongerMatchingDropsRow(t *testing.T) {
	reg := registry.New()
	executor := &stubExecutor{rows: map[any]model.Record{1: {"id": 1, "status": "closed"}}}
	view := newTestView(executor)
	view.matchAll = false
	view.matchField = "status"
	view.matchValue = "open"
	view.array.ResetGroundTruth([]model.Record{{"id": 1, "status": "open"}}, false)
	reg.Register("issue::default", view)

	d := NewDispatcher(reg)
	d.Dispatch(context.Background(), transport.RawEvent{
		Type: "update", Model: "issue", Namespace: "issue::default",
		PKFieldName: "id", Extra: map[string]any{"id": 1},
	})

	if len(view.array.Ground()) != 0 {
		t.Fatalf("expected row removed once it no longer matches filter, got %v", view.array.Ground())
	}
}

func TestDispatchUpdateGracePeriodKeepsLocallyCreatedRow(t *testing.T) {
	reg := registry.New()
	executor := &stubExecutor{rows: map[any]model.Record{}} // server doesn't know about it yet
	view := newTestView(executor)
	view.created[1] = true
	view.array.ResetGroundTruth([]model.Record{{"id": 1, "status": "open"}}, false)
	reg.Register("issue::default", view)

	d := NewDispatcher(reg)
	d.Dispatch(context.Background(), transport.RawEvent{
		Type: "update", Model: "issue", Namespace: "issue::default",
		PKFieldName: "id", Extra: map[string]any{"id": 1},
	})

	if len(view.array.Ground()) != 1 {
		t.Fatalf("expected locally-created row kept during grace period, got %v", view.array.Ground())
	}
}

func TestDispatchUnknownEventTypeDropped(t *testing.T) {
	reg := registry.New()
	executor := &stubExecutor{}
	view := newTestView(executor)
	reg.Register("issue::default", view)

	d := NewDispatcher(reg)
	d.Dispatch(context.Background(), transport.RawEvent{Type: "nonsense", Model: "issue", Namespace: "issue::default"})

	if view.refreshes != 0 {
		t.Fatalf("expected unknown event type to be dropped before bookkeeping, got %d refreshes", view.refreshes)
	}
}

func TestDispatchForwardsOverfetchRegardlessOfSelfEcho(t *testing.T) {
	reg := registry.New()
	executor := &stubExecutor{rows: map[any]model.Record{1: {"id": 1}}}
	view := newTestView(executor)
	view.overfetch = &stubOverfetch{}
	reg.Register("issue::default", view)
	reg.BeginOperation("op-1")

	d := NewDispatcher(reg)
	d.Dispatch(context.Background(), transport.RawEvent{
		Type: "create", Model: "issue", Namespace: "issue::default",
		OperationID: "op-1", PKFieldName: "id", Extra: map[string]any{"id": 1},
	})

	if len(view.overfetch.calls) != 1 {
		t.Fatalf("expected overfetch notified even for self-echo, got %v", view.overfetch.calls)
	}
}

func TestDispatchBulkDeleteRemovesAllInstances(t *testing.T) {
	reg := registry.New()
	executor := &stubExecutor{}
	view := newTestView(executor)
	view.array.ResetGroundTruth([]model.Record{{"id": float64(1)}, {"id": float64(2)}, {"id": float64(3)}}, false)
	reg.Register("issue::default", view)

	d := NewDispatcher(reg)
	d.Dispatch(context.Background(), transport.RawEvent{
		Type: "bulk_delete", Model: "issue", Namespace: "issue::default",
		PKFieldName: "id", Instances: []any{float64(1), float64(2)},
	})

	ground := view.array.Ground()
	if len(ground) != 1 || ground[0]["id"] != float64(3) {
		t.Fatalf("expected only id=3 remaining, got %v", ground)
	}
}
