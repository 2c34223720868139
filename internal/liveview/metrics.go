package liveview

import (
	"context"

	"github.com/marcus/livecache/internal/metrics"
)

// ObserveMetric starts tracking kind(field) over this view's current
// server-side filter, fetching its initial value through the executor
// (spec.md §4.3: count/sum/avg/min/max).
func (v *LiveView) ObserveMetric(ctx context.Context, kind metrics.Kind, field string) (*metrics.Metric, error) {
	return v.metrics.Observe(ctx, kind, field, v.filterConditions)
}

// ActiveMetrics returns a snapshot of this view's currently tracked
// aggregates.
func (v *LiveView) ActiveMetrics() map[string]*metrics.Metric {
	return v.metrics.ActiveMetrics()
}
