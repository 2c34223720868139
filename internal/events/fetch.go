package events

import (
	"context"
	"errors"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/registry"
	"github.com/marcus/livecache/internal/transport"
)

// fetchGet performs qs.get({pk}), returning (nil, nil) when the row does not
// exist.
func fetchGet(ctx context.Context, v registry.ActiveView, pk any) (model.Record, error) {
	return fetchOne(ctx, v, transport.QueryGet, pk)
}

// fetchFirst performs qs.first({pk}), same null-on-missing semantics as
// fetchGet but distinct per spec.md §4.4's UPDATE handling.
func fetchFirst(ctx context.Context, v registry.ActiveView, pk any) (model.Record, error) {
	return fetchOne(ctx, v, transport.QueryFirst, pk)
}

// fetchOne runs a single-row lookup of type qType filtered on pk, returning
// (nil, nil) when the row does not exist.
func fetchOne(ctx context.Context, v registry.ActiveView, qType transport.QueryType, pk any) (model.Record, error) {
	res, err := v.Executor().Execute(ctx, transport.Query{
		Type:  qType,
		Model: v.ModelName(),
		Filter: map[string]any{
			v.PKField(): pk,
		},
	})
	if err != nil {
		var dne *transport.DoesNotExist
		if errors.As(err, &dne) {
			return nil, nil
		}
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	return res.Data[0], nil
}

// fetchMany performs qs.filter({pk__in: pks}).fetch() for bulk_create /
// bulk_update handling.
func fetchMany(ctx context.Context, v registry.ActiveView, pks []any) ([]model.Record, error) {
	res, err := v.Executor().Execute(ctx, transport.Query{
		Type:  transport.QueryRead,
		Model: v.ModelName(),
		Filter: map[string]any{
			v.PKField() + "__in": pks,
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}
