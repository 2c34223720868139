package events

import (
	"context"
	"log/slog"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/registry"
	"github.com/marcus/livecache/internal/transport"
)

// Dispatcher normalizes incoming server events and routes them to the
// matching root LiveViews (spec.md §4.4, C5).
type Dispatcher struct {
	reg *registry.Registry
}

// NewDispatcher builds a Dispatcher over the shared registry.
func NewDispatcher(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Dispatch processes one raw event delivered by the realtime transport.
func (d *Dispatcher) Dispatch(ctx context.Context, raw transport.RawEvent) {
	kind, ok := NormalizeType(raw.Type)
	if !ok {
		slog.Warn("events: dropping unknown event type", "type", raw.Type)
		return
	}

	views := d.reg.ViewsForNamespace(raw.Namespace)
	for _, v := range views {
		if v.ModelName() != raw.Model {
			continue
		}

		// Step 3: fire-and-forget bookkeeping happens for every matching
		// view regardless of self-echo, per spec.md §4.4.
		v.ScheduleMetricsRefresh()
		d.forwardOverfetch(v, kind, raw)

		// Step 4: self-echo suppression.
		if d.reg.IsOperationActive(raw.ResolvedOperationID()) {
			continue
		}

		d.applyDirect(ctx, v, kind, raw)
	}
}

func (d *Dispatcher) forwardOverfetch(v registry.ActiveView, kind Type, raw transport.RawEvent) {
	of := v.Overfetch()
	if of == nil {
		return
	}
	pks := d.pks(raw)
	of.HandleModelEvent(string(kind), pks)
}

func (d *Dispatcher) pks(raw transport.RawEvent) []any {
	kind, _ := NormalizeType(raw.Type)
	if kind.IsBulk() {
		pks := make([]any, len(raw.Instances))
		for i, inst := range raw.Instances {
			pks[i] = raw.InstancePK(inst)
		}
		return pks
	}
	return []any{raw.PKValue()}
}

func (d *Dispatcher) applyDirect(ctx context.Context, v registry.ActiveView, kind Type, raw transport.RawEvent) {
	switch kind {
	case TypeCreate:
		d.applySingleCreate(ctx, v, raw)
	case TypeUpdate:
		d.applySingleUpdate(ctx, v, raw)
	case TypeDelete:
		pk := raw.PKValue()
		v.Array().DeleteDirect(pk)
	case TypeBulkCreate, TypeBulkUpdate:
		d.applyBulkUpsert(ctx, v, raw)
	case TypeBulkDelete:
		pks := make([]any, len(raw.Instances))
		for i, inst := range raw.Instances {
			pks[i] = raw.InstancePK(inst)
		}
		v.Array().BulkDeleteDirect(pks)
	}
}

func (d *Dispatcher) applySingleCreate(ctx context.Context, v registry.ActiveView, raw transport.RawEvent) {
	pk := raw.PKValue()
	row, err := fetchGet(ctx, v, pk)
	if err != nil || row == nil {
		return // missing row: drop the create
	}
	if !v.Matches(row) {
		return
	}
	v.Array().CreateDirect(v.RemoteInsertPosition(), row)
}

func (d *Dispatcher) applySingleUpdate(ctx context.Context, v registry.ActiveView, raw transport.RawEvent) {
	pk := raw.PKValue()
	row, err := fetchFirst(ctx, v, pk)
	grace := v.HasCreatedItem(pk)

	if err == nil && row != nil {
		if v.Matches(row) {
			v.Array().CreateDirect(v.RemoteInsertPosition(), row) // safe-add: update if present
			return
		}
		// Fetched but no longer matches the filter.
		if !grace {
			v.Array().DeleteDirect(pk)
		}
		return
	}

	// Not fetched (nil/error): drop unless locally created (grace period).
	if !grace {
		v.Array().DeleteDirect(pk)
	}
}

func (d *Dispatcher) applyBulkUpsert(ctx context.Context, v registry.ActiveView, raw transport.RawEvent) {
	wantPKs := make([]any, 0, len(raw.Instances))
	for _, inst := range raw.Instances {
		wantPKs = append(wantPKs, raw.InstancePK(inst))
	}

	rows, err := fetchMany(ctx, v, wantPKs)
	if err != nil {
		slog.Warn("events: bulk fetch failed", "model", v.ModelName(), "err", err)
		return
	}

	fetched := make(map[any]model.Record, len(rows))
	for _, row := range rows {
		fetched[row.PK(v.PKField())] = row
	}

	for _, pk := range wantPKs {
		row, ok := fetched[pk]
		if !ok || !v.Matches(row) {
			if !v.HasCreatedItem(pk) {
				v.Array().DeleteDirect(pk)
			}
			continue
		}
		v.Array().CreateDirect(v.RemoteInsertPosition(), row)
	}
}
