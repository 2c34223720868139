package liveview

import (
	"context"
	"errors"
	"log/slog"

	"github.com/marcus/livecache/internal/cerr"
	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/oplog"
	"github.com/marcus/livecache/internal/overfetch"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/transport"
)

// CurrentView returns this view's current filtered slice, matching the last
// notification (or the value computed at Filter() time if nothing has
// mutated since).
func (v *LiveView) CurrentView() []model.Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Record, len(v.lastView))
	copy(out, v.lastView)
	return out
}

// Fetch is an alias for CurrentView, matching spec.md §4.5's read-only trio.
func (v *LiveView) Fetch() []model.Record { return v.CurrentView() }

// First returns the first row of the filtered view.
func (v *LiveView) First() (model.Record, bool) {
	view := v.CurrentView()
	if len(view) == 0 {
		return nil, false
	}
	return view[0], true
}

// Last returns the last row of the filtered view.
func (v *LiveView) Last() (model.Record, bool) {
	view := v.CurrentView()
	if len(view) == 0 {
		return nil, false
	}
	return view[len(view)-1], true
}

// Get searches the current filtered view first; on zero local matches it
// falls through to the query executor, merging filters with this view's own
// conditions (spec.md §4.5).
func (v *LiveView) Get(ctx context.Context, filters map[string]any) (model.Record, error) {
	match := predicateFor(filters)
	view := v.CurrentView()

	var found []model.Record
	for _, r := range view {
		if match == nil || match(r) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		// fall through to server
	default:
		return nil, &cerr.MultipleObjectsReturned{Model: v.sh.modelName, Count: len(found)}
	}

	merged := cloneConditions(v.filterConditions)
	if merged == nil {
		merged = make(map[string]any)
	}
	for k, val := range filters {
		merged[k] = val
	}

	res, err := v.sh.executor.Execute(ctx, transport.Query{
		Type:      transport.QueryGet,
		Model:     v.sh.modelName,
		Filter:    merged,
		Namespace: v.sh.namespace,
	})
	if err != nil {
		var dne *transport.DoesNotExist
		if errors.As(err, &dne) {
			return nil, &cerr.DoesNotExist{Model: v.sh.modelName, Filter: merged}
		}
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, &cerr.DoesNotExist{Model: v.sh.modelName, Filter: merged}
	}
	row := res.Data[0]
	if !v.Matches(row) {
		return nil, &cerr.DoesNotExist{Model: v.sh.modelName, Filter: merged}
	}
	v.sh.array.CreateDirect(v.insertBehavior.Remote, row)
	return row, nil
}

// Create assigns a fresh operation id, stages an optimistic insert at
// insertBehavior.Local, then issues the write through the query executor.
// On success the confirmed item lands at its optimistic display position and
// its pk is recorded in createdItems (the local-create grace period). On
// failure the optimistic op is removed and the error reaches error
// subscribers (and propagates to the parent chain).
func (v *LiveView) Create(ctx context.Context, data model.Record) (model.Record, error) {
	if err := v.checkMutable(); err != nil {
		return nil, err
	}

	opID := newOperationID()
	array := v.sh.array
	array.CreateOptimistic(opID, v.insertBehavior.Local, data)

	if v.sh.reg != nil {
		v.sh.reg.BeginOperation(opID)
	}
	res, err := v.sh.executor.Execute(ctx, transport.Query{
		Type:        transport.QueryCreate,
		Model:       v.sh.modelName,
		Data:        data,
		OperationID: opID,
		Namespace:   v.sh.namespace,
	})
	if v.sh.reg != nil {
		v.sh.reg.EndOperation(opID)
	}

	if err != nil {
		array.RemoveOptimisticOp(opID)
		wrapped := &cerr.TransportError{Op: "create", Err: err}
		v.emitError(wrapped)
		return nil, wrapped
	}

	var serverItem model.Record
	if len(res.Data) > 0 {
		serverItem = res.Data[0]
	} else {
		serverItem = data.Clone()
	}

	array.ConfirmOptimisticOp(opID, serverItem)
	v.sh.markCreated(serverItem.PK(v.sh.pkField))
	v.recordAudit(opID, nil, serverItem, oplog.EventCreate)

	return serverItem, nil
}

// Update is a no-op on a zero-row match (nil rows, nil error); otherwise every currently-matching row is
// staged as an optimistic merge sharing one outer operation id, written
// through the executor, then bulk-confirmed or bulk-removed.
func (v *LiveView) Update(ctx context.Context, updates model.Record) ([]model.Record, error) {
	if err := v.checkMutable(); err != nil {
		return nil, err
	}

	view := v.CurrentView()
	if len(view) == 0 {
		return nil, nil
	}

	opID := newOperationID()
	specs := make([]synced.UpdateSpec, len(view))
	ids := make([]string, len(view))
	for i, row := range view {
		id := newOperationID()
		ids[i] = id
		specs[i] = synced.UpdateSpec{ID: id, OperationID: opID, Key: row.PK(v.sh.pkField), Data: updates}
	}
	v.sh.array.BulkUpdateOptimistic(specs)

	if v.sh.reg != nil {
		v.sh.reg.BeginOperation(opID)
	}
	res, err := v.sh.executor.Execute(ctx, transport.Query{
		Type:        transport.QueryUpdate,
		Model:       v.sh.modelName,
		Filter:      v.filterConditions,
		Data:        updates,
		OperationID: opID,
		Namespace:   v.sh.namespace,
	})
	if v.sh.reg != nil {
		v.sh.reg.EndOperation(opID)
	}

	if err != nil {
		v.sh.array.BulkRemoveOptimisticOps(ids)
		wrapped := &cerr.TransportError{Op: "update", Err: err}
		v.emitError(wrapped)
		return nil, wrapped
	}

	byPK := make(map[any]model.Record, len(res.Data))
	for _, row := range res.Data {
		byPK[row.PK(v.sh.pkField)] = row
	}

	items := make([]synced.ConfirmItem, len(view))
	for i, row := range view {
		pk := row.PK(v.sh.pkField)
		serverRow, ok := byPK[pk]
		if !ok {
			serverRow = row.Merge(updates)
		}
		items[i] = synced.ConfirmItem{ID: ids[i], ServerData: serverRow}
	}
	v.sh.array.BulkConfirmOptimisticOps(items)

	for _, row := range view {
		v.recordAudit(opID, row, row.Merge(updates), oplog.EventUpdate)
	}

	return v.CurrentView(), nil
}

// Delete is a no-op on a zero-row match (0, nil); otherwise every
// currently-matching row is staged as an optimistic delete sharing one outer
// operation id. A deletion count above one runs a ghost-sweep inline, before
// Delete returns, to reconcile against a fetch-pks-only follow-up, per
// spec.md §4.5.
func (v *LiveView) Delete(ctx context.Context) (int, error) {
	if err := v.checkMutable(); err != nil {
		return 0, err
	}

	view := v.CurrentView()
	n := len(view)
	if n == 0 {
		return 0, nil
	}

	opID := newOperationID()
	specs := make([]synced.DeleteSpec, n)
	ids := make([]string, n)
	for i, row := range view {
		id := newOperationID()
		ids[i] = id
		specs[i] = synced.DeleteSpec{ID: id, OperationID: opID, Key: row.PK(v.sh.pkField)}
	}
	v.sh.array.BulkDeleteOptimistic(specs)

	if v.sh.reg != nil {
		v.sh.reg.BeginOperation(opID)
	}
	_, err := v.sh.executor.Execute(ctx, transport.Query{
		Type:        transport.QueryDelete,
		Model:       v.sh.modelName,
		Filter:      v.filterConditions,
		OperationID: opID,
		Namespace:   v.sh.namespace,
	})
	if v.sh.reg != nil {
		v.sh.reg.EndOperation(opID)
	}

	if err != nil {
		v.sh.array.BulkRemoveOptimisticOps(ids)
		wrapped := &cerr.TransportError{Op: "delete", Err: err}
		v.emitError(wrapped)
		return 0, wrapped
	}

	items := make([]synced.ConfirmItem, n)
	for i := range view {
		items[i] = synced.ConfirmItem{ID: ids[i]}
	}
	v.sh.array.BulkConfirmOptimisticOps(items)

	for _, row := range view {
		v.recordAudit(opID, row, nil, oplog.EventDelete)
	}

	if n > 1 {
		v.ghostSweep(ctx)
	}

	if v.sh.overfetch != nil && v.fixedPageSize > 0 {
		v.refillFromOverfetch(ctx)
	}

	return n, nil
}

// refillFromOverfetch tops ground truth back up to fixedPageSize out of the
// overfetch cache after a delete shrank it, per spec.md §4.2 ("when k items
// are removed, k are pulled from the cache to refill"). Inserts whatever the
// cache returns, up to the deficit, so a cache holding fewer rows than the
// deficit refills the page only partly; a no-op when it returns nothing.
func (v *LiveView) refillFromOverfetch(ctx context.Context) {
	deficit := v.fixedPageSize - len(v.sh.array.Ground())
	if deficit <= 0 {
		return
	}
	replacements := v.sh.overfetch.GetReplacements(deficit)
	if len(replacements) == 0 {
		return
	}
	v.sh.array.BulkCreateDirect(v.insertBehavior.Remote, replacements)
}

// ghostSweep fetches only the pks still present in ground truth and removes
// any view row absent from that result and absent from createdItems — the
// reconciliation pass after a bulk delete (spec.md §4.5, S6).
func (v *LiveView) ghostSweep(ctx context.Context) {
	ground := v.sh.array.Ground()
	pks := make([]any, 0, len(ground))
	for _, row := range ground {
		pks = append(pks, row.PK(v.sh.pkField))
	}
	if len(pks) == 0 {
		return
	}

	res, err := v.sh.executor.Execute(ctx, transport.Query{
		Type:  transport.QueryRead,
		Model: v.sh.modelName,
		Filter: map[string]any{
			v.sh.pkField + "__in": pks,
		},
	})
	if err != nil {
		slog.Warn("liveview: ghost sweep fetch failed", "model", v.sh.modelName, "err", err)
		return
	}

	remote := make(map[any]bool, len(res.Data))
	for _, row := range res.Data {
		remote[row.PK(v.sh.pkField)] = true
	}

	var stale []any
	for _, pk := range pks {
		if !remote[pk] && !v.sh.hasCreated(pk) {
			stale = append(stale, pk)
		}
	}
	if len(stale) > 0 {
		v.sh.array.BulkDeleteDirect(stale)
	}
}

// RefreshOptions configures Refresh; only meaningful on a root LiveView.
type RefreshOptions struct {
	NewFilterConditions map[string]any
	NewNamespaceSuffix  string
	ClearData           bool // spec default is true; Go zero value is false, so callers must set it explicitly
}

// Refresh re-points a root view at new filter conditions and namespace
// suffix, recomputes its namespace, re-registers, and (when ClearData)
// refetches and replaces ground truth. The model cannot change: RefreshOptions
// has no model field, and the overfetch cache is reset against the view's own
// model. The overfetch cache is re-pointed at the new filter and namespace
// and keeps its existing size; RefreshOptions carries no page size, cache
// size or limit, so none of them changes on Refresh.
func (v *LiveView) Refresh(ctx context.Context, opts RefreshOptions) error {
	if !v.isRoot {
		return &cerr.InvalidArguments{Reason: "refresh is only valid on a root LiveView"}
	}
	if err := v.checkMutable(); err != nil {
		return err
	}

	oldNamespace := v.sh.namespace
	newNamespace := namespaceFor(v.sh.modelName, opts.NewNamespaceSuffix)

	v.filterConditions = cloneConditions(opts.NewFilterConditions)
	v.filterFn = predicateFor(opts.NewFilterConditions)

	if newNamespace != oldNamespace && v.sh.reg != nil {
		if last := v.sh.reg.Unregister(oldNamespace, v); last && v.sh.receiver != nil {
			_ = v.sh.receiver.Unsubscribe(oldNamespace)
		}
		v.sh.namespace = newNamespace
		v.sh.reg.Register(newNamespace, v)
		if v.sh.receiver != nil {
			_ = v.sh.receiver.Subscribe(newNamespace)
		}
	}

	if opts.ClearData {
		res, err := v.sh.executor.Execute(ctx, transport.Query{
			Type:      transport.QueryRead,
			Model:     v.sh.modelName,
			Filter:    v.filterConditions,
			Namespace: v.sh.namespace,
			Limit:     v.fixedPageSize,
		})
		if err != nil {
			return &cerr.TransportError{Op: "refresh", Err: err}
		}
		v.sh.array.ResetGroundTruth(res.Data, true)
	}

	if v.sh.overfetch != nil {
		err := v.sh.overfetch.Reset(ctx, overfetch.ResetOptions{
			NewModel:    v.sh.modelName,
			NewBaseQuery: &transport.Query{Model: v.sh.modelName, Filter: v.filterConditions, Namespace: v.sh.namespace},
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// recordAudit best-effort mirrors an accepted mutation into the optional
// on-disk OperationLog audit trail. The log is strictly additive — nothing
// in the engine ever reads it back for rollback, since SyncedArray's
// optimistic-op overlay already provides exact revert.
func (v *LiveView) recordAudit(opID string, before, after model.Record, eventType oplog.EventType) {
	if v.sh.oplog == nil {
		return
	}
	if before == nil {
		before = model.Record{}
	}
	_, err := v.sh.oplog.ApplyMutation(opID, before, func(model.Record) model.Record {
		if after == nil {
			return model.Record{}
		}
		return after
	}, eventType)
	if err != nil {
		slog.Debug("liveview: audit mirror failed", "op", opID, "err", err)
	}
}
