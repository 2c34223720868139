package overfetch

import (
	"context"
	"testing"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/transport"
)

type fakeExecutor struct {
	rows []model.Record
}

func (f *fakeExecutor) Execute(ctx context.Context, q transport.Query) (transport.Result, error) {
	excludeRaw := q.Filter["id__exclude_in"]
	exclude := map[any]bool{}
	if list, ok := excludeRaw.([]any); ok {
		for _, pk := range list {
			exclude[pk] = true
		}
	}
	var out []model.Record
	for _, r := range f.rows {
		if exclude[r.PK("id")] {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return transport.Result{Data: out}, nil
}

func TestInitializeExcludesMainArrayPKs(t *testing.T) {
	main := synced.New("id")
	main.ResetGroundTruth([]model.Record{{"id": 1}, {"id": 2}}, false)

	executor := &fakeExecutor{rows: []model.Record{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}}}
	c := New("issue", "id", 2, executor, transport.Query{})
	c.SetMainDataArray(main)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected cache filled to size 2, got %d", c.Len())
	}
}

func TestGetReplacementsDisjointFromMain(t *testing.T) {
	main := synced.New("id")
	main.ResetGroundTruth([]model.Record{{"id": 1}}, false)

	executor := &fakeExecutor{rows: []model.Record{{"id": 2}, {"id": 3}}}
	c := New("issue", "id", 5, executor, transport.Query{})
	c.SetMainDataArray(main)
	c.Initialize(context.Background())

	replacements := c.GetReplacements(1)
	if len(replacements) != 1 {
		t.Fatalf("expected 1 replacement, got %d", len(replacements))
	}
	if replacements[0].PK("id") == 1 {
		t.Fatalf("replacement must not duplicate a pk already in main array")
	}
}

func TestHandleModelEventDeleteRemovesMatchingItem(t *testing.T) {
	executor := &fakeExecutor{rows: []model.Record{{"id": 2}, {"id": 3}}}
	c := New("issue", "id", 5, executor, transport.Query{})
	c.Initialize(context.Background())

	if c.Len() != 2 {
		t.Fatalf("expected 2 items seeded, got %d", c.Len())
	}
	c.HandleModelEvent("delete", []any{2})
	if c.Len() != 1 {
		t.Fatalf("expected item with pk=2 removed, got len %d", c.Len())
	}
}

func TestResetRejectsModelMismatch(t *testing.T) {
	executor := &fakeExecutor{}
	c := New("issue", "id", 5, executor, transport.Query{})

	err := c.Reset(context.Background(), ResetOptions{NewModel: "board"})
	if err == nil {
		t.Fatalf("expected ModelMismatch error")
	}
}

func TestResetReinitializesCache(t *testing.T) {
	executor := &fakeExecutor{rows: []model.Record{{"id": 1}, {"id": 2}}}
	c := New("issue", "id", 5, executor, transport.Query{})
	c.Initialize(context.Background())

	newExecutor := &fakeExecutor{rows: []model.Record{{"id": 9}}}
	if err := c.Reset(context.Background(), ResetOptions{NewModel: "issue", NewExecutor: newExecutor}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected cache reinitialized from new executor, got len %d", c.Len())
	}
}
