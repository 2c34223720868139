package demo

import (
	"context"
	"testing"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/transport"
)

func TestCreateAssignsIncrementingPK(t *testing.T) {
	e := NewMemoryExecutor("id", []model.Record{{"id": 1, "name": "a"}})

	res, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryCreate, Data: model.Record{"name": "b"}})
	if err != nil {
		t.Fatalf("Execute create: %v", err)
	}
	if res.Data[0]["id"] != 2 {
		t.Fatalf("expected new pk 2, got %v", res.Data[0]["id"])
	}
}

func TestGetReturnsDoesNotExist(t *testing.T) {
	e := NewMemoryExecutor("id", nil)
	_, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryGet, Filter: map[string]any{"id": 99}})
	if err == nil {
		t.Fatalf("expected DoesNotExist error")
	}
	if _, ok := err.(*transport.DoesNotExist); !ok {
		t.Fatalf("expected *transport.DoesNotExist, got %T", err)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	e := NewMemoryExecutor("id", []model.Record{{"id": 1, "status": "open"}})
	res, err := e.Execute(context.Background(), transport.Query{
		Type: transport.QueryUpdate, Filter: map[string]any{"id": 1}, Data: model.Record{"status": "closed"},
	})
	if err != nil {
		t.Fatalf("Execute update: %v", err)
	}
	if len(res.Data) != 1 || res.Data[0]["status"] != "closed" {
		t.Fatalf("expected merged update, got %v", res.Data)
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	e := NewMemoryExecutor("id", []model.Record{{"id": 1}})
	if _, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryDelete, Filter: map[string]any{"id": 1}}); err != nil {
		t.Fatalf("Execute delete: %v", err)
	}
	_, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryGet, Filter: map[string]any{"id": 1}})
	if err == nil {
		t.Fatalf("expected row to be gone after delete")
	}
}

func TestReadWithInAndExcludeInFilters(t *testing.T) {
	e := NewMemoryExecutor("id", []model.Record{
		{"id": 1}, {"id": 2}, {"id": 3},
	})

	res, err := e.Execute(context.Background(), transport.Query{
		Type: transport.QueryRead, Filter: map[string]any{"id__in": []any{1, 3}},
	})
	if err != nil {
		t.Fatalf("Execute read __in: %v", err)
	}
	if len(res.Data) != 2 {
		t.Fatalf("expected 2 rows for __in filter, got %d", len(res.Data))
	}

	res, err = e.Execute(context.Background(), transport.Query{
		Type: transport.QueryRead, Filter: map[string]any{"id__exclude_in": []any{1}},
	})
	if err != nil {
		t.Fatalf("Execute read __exclude_in: %v", err)
	}
	if len(res.Data) != 2 {
		t.Fatalf("expected 2 rows excluding id=1, got %d", len(res.Data))
	}
}

func TestReadRespectsLimit(t *testing.T) {
	e := NewMemoryExecutor("id", []model.Record{{"id": 1}, {"id": 2}, {"id": 3}})
	res, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryRead, Limit: 2})
	if err != nil {
		t.Fatalf("Execute read: %v", err)
	}
	if len(res.Data) != 2 {
		t.Fatalf("expected limit to cap results to 2, got %d", len(res.Data))
	}
}

func TestAggregateCountSumAvgMinMax(t *testing.T) {
	e := NewMemoryExecutor("id", []model.Record{
		{"id": 1, "points": 10.0},
		{"id": 2, "points": 20.0},
		{"id": 3, "points": 30.0},
	})

	count, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryCount})
	if err != nil || count.Number != 3 {
		t.Fatalf("count: got %v err %v", count.Number, err)
	}

	sum, err := e.Execute(context.Background(), transport.Query{Type: transport.QuerySum, Fields: []string{"points"}})
	if err != nil || sum.Number != 60 {
		t.Fatalf("sum: got %v err %v", sum.Number, err)
	}

	avg, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryAvg, Fields: []string{"points"}})
	if err != nil || avg.Number != 20 {
		t.Fatalf("avg: got %v err %v", avg.Number, err)
	}

	min, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryMin, Fields: []string{"points"}})
	if err != nil || min.Number != 10 {
		t.Fatalf("min: got %v err %v", min.Number, err)
	}

	max, err := e.Execute(context.Background(), transport.Query{Type: transport.QueryMax, Fields: []string{"points"}})
	if err != nil || max.Number != 30 {
		t.Fatalf("max: got %v err %v", max.Number, err)
	}
}
