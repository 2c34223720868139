package liveview

import (
	"context"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/registry"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/transport"
)

// The methods below satisfy registry.ActiveView. Only root views register
// (spec.md §4.4: "root LiveViews registered under namespace"); a filtered
// child's predicate is always a subset of its root's, so the root alone
// deciding whether a server row belongs in ground truth is sufficient —
// children simply apply a narrower filter on read.

// ModelName implements registry.ActiveView.
func (v *LiveView) ModelName() string { return v.sh.modelName }

// Namespace implements registry.ActiveView.
func (v *LiveView) Namespace() string { return v.sh.namespace }

// PKField implements registry.ActiveView.
func (v *LiveView) PKField() string { return v.sh.pkField }

// Matches implements registry.ActiveView: true when r satisfies this view's
// cumulative filter predicate (nil predicate accepts everything).
func (v *LiveView) Matches(r model.Record) bool {
	if v.filterFn == nil {
		return true
	}
	return v.filterFn(r)
}

// Array implements registry.ActiveView.
func (v *LiveView) Array() *synced.SyncedArray { return v.sh.array }

// RemoteInsertPosition implements registry.ActiveView.
func (v *LiveView) RemoteInsertPosition() synced.Position { return v.insertBehavior.Remote }

// HasCreatedItem implements registry.ActiveView: the local-create grace rule
// (spec.md §4.5, §9) — shared across the whole view tree.
func (v *LiveView) HasCreatedItem(pk any) bool { return v.sh.hasCreated(pk) }

// Executor implements registry.ActiveView.
func (v *LiveView) Executor() transport.QueryExecutor { return v.sh.executor }

// ScheduleMetricsRefresh implements registry.ActiveView. Only the root is
// registered with the dispatcher, so it cascades the debounced refresh to
// every descendant's own MetricsManager — each view tracks its own
// activeMetrics over its own filtered subset.
func (v *LiveView) ScheduleMetricsRefresh() {
	v.cascadeMetricsRefresh(context.Background())
}

func (v *LiveView) cascadeMetricsRefresh(ctx context.Context) {
	v.mu.Lock()
	children := append([]*LiveView(nil), v.children...)
	filter := v.filterConditions
	v.mu.Unlock()

	v.metrics.ScheduleRefresh(ctx, filter, "")
	for _, child := range children {
		child.cascadeMetricsRefresh(ctx)
	}
}

// Overfetch implements registry.ActiveView. Only the root owns an overfetch
// cache; children return nil so the dispatcher doesn't double-forward.
func (v *LiveView) Overfetch() registry.OverfetchHandler {
	if v.isRoot && v.sh.overfetch != nil {
		return v.sh.overfetch
	}
	return nil
}
