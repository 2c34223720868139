// Package metrics implements the per-view active-aggregate map with
// optimistic delta updates and debounced refresh (spec.md §4.3, C4).
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/transport"
)

// RefreshDebounce is the spec-mandated 250ms metrics refresh debounce.
const RefreshDebounce = 250 * time.Millisecond

// Kind is one of the five supported aggregate types.
type Kind string

const (
	Count Kind = "count"
	Sum   Kind = "sum"
	Avg   Kind = "avg"
	Min   Kind = "min"
	Max   Kind = "max"
)

// Key returns the activeMetrics map key for (kind, field), per spec.md
// "${type}:${field|""}".
func Key(kind Kind, field string) string {
	return string(kind) + ":" + field
}

// Metric is a single observed aggregate. Value is the only mutable part —
// callers hold onto the *Metric to observe updates in place.
type Metric struct {
	Kind  Kind
	Field string
	Value float64
}

// Manager owns one view's activeMetrics map plus the debounce/reentrancy
// state for scheduled refreshes.
type Manager struct {
	mu      sync.Mutex
	active  map[string]*Metric
	seenOps map[string]bool // opIDs whose optimistic update has already been applied

	executor  transport.QueryExecutor
	modelName string

	debounce    *time.Timer
	sf          singleflight.Group
	refreshing  bool
}

// New creates a Manager that queries through executor for modelName.
func New(modelName string, executor transport.QueryExecutor) *Manager {
	return &Manager{
		active:    make(map[string]*Metric),
		seenOps:   make(map[string]bool),
		executor:  executor,
		modelName: modelName,
	}
}

// Observe fetches the value from the query executor for (kind, field),
// storing (creating if first observation) and returning the Metric object.
// filter carries the view's current server-side filter conditions.
func (m *Manager) Observe(ctx context.Context, kind Kind, field string, filter map[string]any) (*Metric, error) {
	qType := transport.QueryType(kind)
	res, err := m.executor.Execute(ctx, transport.Query{
		Type:   qType,
		Model:  m.modelName,
		Filter: filter,
		Fields: fieldSlice(field),
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(kind, field)
	metric, ok := m.active[key]
	if !ok {
		metric = &Metric{Kind: kind, Field: field}
		m.active[key] = metric
	}
	metric.Value = res.Number
	return metric, nil
}

func fieldSlice(field string) []string {
	if field == "" {
		return nil
	}
	return []string{field}
}

// ActiveMetrics returns a snapshot of the currently active metrics.
func (m *Manager) ActiveMetrics() map[string]*Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Metric, len(m.active))
	for k, v := range m.active {
		out[k] = v
	}
	return out
}

// ScheduleRefresh debounces (250ms) a full recompute of all active metrics.
// Overlapping refreshes collapse via singleflight; a metric that fails to
// refetch is logged and keeps its prior value.
func (m *Manager) ScheduleRefresh(ctx context.Context, filter map[string]any, opID string) {
	m.mu.Lock()
	if m.debounce != nil {
		m.mu.Unlock()
		return
	}
	m.debounce = time.AfterFunc(RefreshDebounce, func() {
		m.mu.Lock()
		m.debounce = nil
		m.mu.Unlock()
		m.runRefresh(ctx, filter)
	})
	m.mu.Unlock()
}

func (m *Manager) runRefresh(ctx context.Context, filter map[string]any) {
	_, _, _ = m.sf.Do("refresh", func() (any, error) {
		m.mu.Lock()
		m.refreshing = true
		keys := make([]string, 0, len(m.active))
		for k := range m.active {
			keys = append(keys, k)
		}
		m.mu.Unlock()

		for _, key := range keys {
			m.mu.Lock()
			metric, ok := m.active[key]
			m.mu.Unlock()
			if !ok {
				continue
			}
			res, err := m.executor.Execute(ctx, transport.Query{
				Type:   transport.QueryType(metric.Kind),
				Model:  m.modelName,
				Filter: filter,
				Fields: fieldSlice(metric.Field),
			})
			if err != nil {
				slog.Warn("metrics: refresh failed, keeping prior value", "key", key, "err", err)
				continue
			}
			m.mu.Lock()
			metric.Value = res.Number
			m.mu.Unlock()
		}

		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
		return nil, nil
	})
}

// InFlight reports whether a refresh is currently running — optimistic
// updates are dropped while true, per spec.md §4.3 ("the refresh is
// authoritative").
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshing
}

// OptimisticUpdate computes delta math per metric type for the rows that
// changed between oldView and newView under eventType, returning the set of
// metric keys whose value changed. avg is never updated optimistically
// (spec.md §9 open question) and is skipped.
func (m *Manager) OptimisticUpdate(eventType string, newView, oldView []model.Record, opID string) map[string]float64 {
	if m.InFlight() {
		return nil
	}

	m.mu.Lock()
	if opID != "" && m.seenOps[opID] {
		m.mu.Unlock()
		return nil
	}
	active := make(map[string]*Metric, len(m.active))
	for k, v := range m.active {
		active[k] = v
	}
	m.mu.Unlock()

	added, removed := diffRows(oldView, newView)
	updates := map[string]float64{}

	for key, metric := range active {
		switch metric.Kind {
		case Count:
			delta := float64(len(added) - len(removed))
			if delta != 0 {
				updates[key] = metric.Value + delta
			}
		case Sum:
			delta := sumField(added, metric.Field) - sumField(removed, metric.Field)
			if delta != 0 {
				updates[key] = metric.Value + delta
			}
		case Min:
			if v, ok := optimisticExtreme(metric.Value, added, removed, metric.Field, false); ok {
				updates[key] = v
			}
		case Max:
			if v, ok := optimisticExtreme(metric.Value, added, removed, metric.Field, true); ok {
				updates[key] = v
			}
		case Avg:
			// Deliberately left to refresh only.
		}
	}
	return updates
}

// ApplyOptimisticUpdates writes values and records opID so the same update
// is never applied twice from propagated notifications.
func (m *Manager) ApplyOptimisticUpdates(updates map[string]float64, opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range updates {
		if metric, ok := m.active[key]; ok {
			metric.Value = value
		}
	}
	if opID != "" {
		m.seenOps[opID] = true
	}
}

func diffRows(oldView, newView []model.Record) (added, removed []model.Record) {
	oldByID := indexByIdentity(oldView)
	newByID := indexByIdentity(newView)

	for id, row := range newByID {
		if _, ok := oldByID[id]; !ok {
			added = append(added, row)
		}
	}
	for id, row := range oldByID {
		if _, ok := newByID[id]; !ok {
			removed = append(removed, row)
		}
	}
	return added, removed
}

// indexByIdentity keys rows by a stable-enough identity for diffing: since
// the metrics manager only sees opaque records, it uses the first of the
// "id", "pk" or "ID" fields a row carries, falling back to the row's slice
// index when it has none. Callers in liveview pass already pk-identified rows.
func indexByIdentity(rows []model.Record) map[any]model.Record {
	out := make(map[any]model.Record, len(rows))
	for i, r := range rows {
		out[identityOf(r, i)] = r
	}
	return out
}

func identityOf(r model.Record, fallback int) any {
	for _, key := range []string{"id", "pk", "ID"} {
		if v, ok := r[key]; ok {
			return v
		}
	}
	return fallback
}

func sumField(rows []model.Record, field string) float64 {
	var total float64
	for _, r := range rows {
		total += numeric(r[field])
	}
	return total
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// optimisticExtreme recomputes min/max exactly only when unambiguous
// (spec.md §4.3 "Tie-breaks and edge cases"): an added row can always
// safely extend the extreme; a removed row can only be safely ignored when
// it strictly could not have been the extreme (strictly less than the
// running max, or strictly more than the running min). Any removed row at
// or beyond the current extreme makes the next value unknowable without a
// refetch, so the whole update is dropped and left to the scheduled
// refresh.
func optimisticExtreme(current float64, added, removed []model.Record, field string, isMax bool) (float64, bool) {
	value := current
	changed := false

	for _, r := range added {
		v := numeric(r[field])
		if (isMax && v > value) || (!isMax && v < value) {
			value = v
			changed = true
		}
	}

	for _, r := range removed {
		v := numeric(r[field])
		stillSafe := (isMax && v < value) || (!isMax && v > value)
		if !stillSafe {
			return current, false
		}
	}

	return value, changed
}
