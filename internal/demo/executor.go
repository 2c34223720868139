// Package demo provides an in-memory QueryExecutor used by the CLI's demo
// command to exercise a LiveView end to end without any real transport.
package demo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/transport"
)

// MemoryExecutor is a trivial, single-model in-memory backing store. It
// assigns integer pks on create and is not meant for anything but the demo
// command and tests.
type MemoryExecutor struct {
	mu     sync.Mutex
	pkField string
	rows   map[any]model.Record
	nextID int
}

// NewMemoryExecutor creates an executor keyed on pkField, pre-seeded with
// seed rows (their pk values are preserved; nextID continues past the
// highest seen integer pk).
func NewMemoryExecutor(pkField string, seed []model.Record) *MemoryExecutor {
	e := &MemoryExecutor{pkField: pkField, rows: make(map[any]model.Record)}
	for _, r := range seed {
		pk := r.PK(pkField)
		e.rows[pk] = r.Clone()
		if n, ok := pk.(int); ok && n >= e.nextID {
			e.nextID = n + 1
		}
	}
	return e
}

// Execute implements transport.QueryExecutor.
func (e *MemoryExecutor) Execute(_ context.Context, q transport.Query) (transport.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch q.Type {
	case transport.QueryCreate:
		return e.create(q)
	case transport.QueryUpdate:
		return e.update(q)
	case transport.QueryDelete:
		return e.delete(q)
	case transport.QueryGet, transport.QueryFirst:
		return e.get(q)
	case transport.QueryRead:
		return e.read(q)
	case transport.QueryCount, transport.QuerySum, transport.QueryAvg, transport.QueryMin, transport.QueryMax:
		return e.aggregate(q)
	default:
		return transport.Result{}, fmt.Errorf("demo: unsupported query type %q", q.Type)
	}
}

func (e *MemoryExecutor) create(q transport.Query) (transport.Result, error) {
	row := q.Data.Clone()
	if _, ok := row[e.pkField]; !ok {
		row[e.pkField] = e.nextID
		e.nextID++
	}
	e.rows[row.PK(e.pkField)] = row
	return transport.Result{Data: []model.Record{row}}, nil
}

func (e *MemoryExecutor) update(q transport.Query) (transport.Result, error) {
	var updated []model.Record
	for pk, row := range e.matchLocked(q.Filter) {
		merged := row.Merge(q.Data)
		e.rows[pk] = merged
		updated = append(updated, merged)
	}
	return transport.Result{Data: updated}, nil
}

func (e *MemoryExecutor) delete(q transport.Query) (transport.Result, error) {
	for pk := range e.matchLocked(q.Filter) {
		delete(e.rows, pk)
	}
	return transport.Result{}, nil
}

func (e *MemoryExecutor) get(q transport.Query) (transport.Result, error) {
	matched := e.matchLocked(q.Filter)
	for _, row := range matched {
		return transport.Result{Data: []model.Record{row}}, nil
	}
	return transport.Result{}, &transport.DoesNotExist{Model: q.Model, Filter: q.Filter}
}

func (e *MemoryExecutor) read(q transport.Query) (transport.Result, error) {
	matched := e.matchLocked(q.Filter)
	rows := make([]model.Record, 0, len(matched))
	for _, row := range matched {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return fmt.Sprint(rows[i][e.pkField]) < fmt.Sprint(rows[j][e.pkField])
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return transport.Result{Data: rows}, nil
}

func (e *MemoryExecutor) aggregate(q transport.Query) (transport.Result, error) {
	matched := e.matchLocked(q.Filter)
	var field string
	if len(q.Fields) > 0 {
		field = q.Fields[0]
	}

	switch q.Type {
	case transport.QueryCount:
		return transport.Result{Number: float64(len(matched))}, nil
	case transport.QuerySum, transport.QueryAvg:
		var sum float64
		for _, row := range matched {
			sum += numeric(row[field])
		}
		if q.Type == transport.QueryAvg && len(matched) > 0 {
			return transport.Result{Number: sum / float64(len(matched))}, nil
		}
		return transport.Result{Number: sum}, nil
	case transport.QueryMin, transport.QueryMax:
		var best float64
		first := true
		for _, row := range matched {
			v := numeric(row[field])
			if first || (q.Type == transport.QueryMin && v < best) || (q.Type == transport.QueryMax && v > best) {
				best = v
				first = false
			}
		}
		return transport.Result{Number: best}, nil
	default:
		return transport.Result{}, fmt.Errorf("demo: unsupported aggregate %q", q.Type)
	}
}

// matchLocked assumes e.mu is already held.
func (e *MemoryExecutor) matchLocked(filter map[string]any) map[any]model.Record {
	out := make(map[any]model.Record)
	for pk, row := range e.rows {
		if rowMatches(row, e.pkField, filter) {
			out[pk] = row
		}
	}
	return out
}

func rowMatches(row model.Record, pkField string, filter map[string]any) bool {
	for key, want := range filter {
		if in, ok := listSuffix(key, "__in"); ok {
			if !containsAny(want, row[in]) {
				return false
			}
			continue
		}
		if ex, ok := listSuffix(key, "__exclude_in"); ok {
			if containsAny(want, row[ex]) {
				return false
			}
			continue
		}
		if row[key] != want {
			return false
		}
	}
	return true
}

func listSuffix(key, suffix string) (string, bool) {
	if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
		return key[:len(key)-len(suffix)], true
	}
	return "", false
}

func containsAny(list any, v any) bool {
	values, ok := list.([]any)
	if !ok {
		return false
	}
	for _, want := range values {
		if want == v {
			return true
		}
	}
	return false
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
