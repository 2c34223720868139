package liveview

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
	"github.com/marcus/livecache/internal/cerr"
	"github.com/marcus/livecache/internal/metrics"
	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/overfetch"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/tdq"
	"github.com/marcus/livecache/internal/transport"
)

// NewRoot builds a root LiveView: it owns the SyncedArray, registers itself
// with the registry under its namespace, and (if Receiver is set) subscribes
// to realtime events. Initial population is the caller's job via Refresh.
func NewRoot(opts Options) (*LiveView, error) {
	if opts.PKField == "" {
		opts.PKField = "id"
	}
	insert := opts.InsertBehavior
	if insert.Local.Kind == 0 && insert.Remote.Kind == 0 {
		insert = DefaultInsertBehavior()
	}

	namespace := namespaceFor(opts.ModelName, opts.Namespace)

	array := synced.New(opts.PKField)

	sh := &shared{
		modelName:    opts.ModelName,
		pkField:      opts.PKField,
		namespace:    namespace,
		array:        array,
		createdItems: make(map[any]bool),
		executor:     opts.Executor,
		receiver:     opts.Receiver,
		reg:          opts.Registry,
		oplog:        opts.OpLog,
	}

	v := &LiveView{
		sh:               sh,
		isRoot:           true,
		filterConditions: cloneConditions(opts.FilterConditions),
		filterFn:         predicateFor(opts.FilterConditions),
		serializer:       opts.Serializer,
		insertBehavior:   insert,
		fixedPageSize:    opts.FixedPageSize,
		overfetchSize:    opts.OverfetchSize,
		metrics:          metrics.New(opts.ModelName, opts.Executor),
		state:            StateInitializing,
	}

	array.OnChange(func(newView, _ []model.Record, meta *synced.OpMeta) {
		v.propagate(newView, meta)
	})

	if opts.OverfetchSize > 0 {
		sh.overfetch = overfetch.New(opts.ModelName, opts.PKField, opts.OverfetchSize, opts.Executor, baseOverfetchQuery(opts))
		sh.overfetch.SetMainDataArray(array)
		if err := sh.overfetch.Initialize(context.Background()); err != nil {
			slog.Warn("liveview: overfetch initial fill failed", "model", opts.ModelName, "err", err)
		}
	}

	if sh.reg != nil {
		sh.reg.Register(namespace, v)
	}
	if sh.receiver != nil {
		_ = sh.receiver.Subscribe(namespace)
	}

	v.state = StateActive
	return v, nil
}

func baseOverfetchQuery(opts Options) transport.Query {
	return transport.Query{
		Model:     opts.ModelName,
		Filter:    cloneConditions(opts.FilterConditions),
		Namespace: namespaceFor(opts.ModelName, opts.Namespace),
	}
}

// predicateFor builds an equality-conjunction predicate over conditions.
// nil/empty conditions match everything.
func predicateFor(conditions map[string]any) func(model.Record) bool {
	if len(conditions) == 0 {
		return nil
	}
	frozen := cloneConditions(conditions)
	return func(r model.Record) bool {
		for field, want := range frozen {
			if !reflect.DeepEqual(r[field], want) {
				return false
			}
		}
		return true
	}
}

func cloneConditions(conditions map[string]any) map[string]any {
	if conditions == nil {
		return nil
	}
	out := make(map[string]any, len(conditions))
	for k, v := range conditions {
		out[k] = v
	}
	return out
}

// Filter returns a child LiveView sharing this view's SyncedArray, with a
// predicate conjoining the parent's and the new conditions, and a
// server-side queryset composing both filter maps (spec.md §4.5). Children
// never subscribe to the event bus themselves.
func (v *LiveView) Filter(conditions map[string]any) *LiveView {
	merged := cloneConditions(v.filterConditions)
	if merged == nil {
		merged = make(map[string]any)
	}
	for k, val := range conditions {
		merged[k] = val
	}

	parentFn := v.filterFn
	childFn := predicateFor(conditions)
	combined := func(r model.Record) bool {
		if parentFn != nil && !parentFn(r) {
			return false
		}
		if childFn != nil && !childFn(r) {
			return false
		}
		return true
	}

	child := &LiveView{
		sh:               v.sh,
		isRoot:           false,
		parent:           v,
		filterConditions: merged,
		filterFn:         combined,
		serializer:       v.serializer,
		insertBehavior:   v.insertBehavior,
		metrics:          metrics.New(v.sh.modelName, v.sh.executor),
		state:            StateActive,
	}

	v.mu.Lock()
	v.children = append(v.children, child)
	v.mu.Unlock()

	// Populate the child's initial view from whatever the array already
	// holds, without waiting for the next mutation.
	child.lastView = child.applyFilter(v.sh.array.View())

	return child
}

// FilterQuery returns a child LiveView like Filter, but its predicate is
// compiled from a tdq boolean expression (field comparisons joined with
// AND/OR/NOT, parens, IN, `~` substring match, numeric comparisons) instead of a plain
// equality-conjunction map. The compiled matcher only narrows the client-side
// view: filterConditions (and therefore the server-side queryset sent by
// Update/Delete) stay whatever the parent's were, since a tdq expression has
// no server-side query analog here.
func (v *LiveView) FilterQuery(query string) (*LiveView, error) {
	matcher, err := tdq.Compile(query)
	if err != nil {
		return nil, err
	}

	parentFn := v.filterFn
	combined := func(r model.Record) bool {
		if parentFn != nil && !parentFn(r) {
			return false
		}
		return matcher(r)
	}

	child := &LiveView{
		sh:               v.sh,
		isRoot:           false,
		parent:           v,
		filterConditions: cloneConditions(v.filterConditions),
		filterFn:         combined,
		serializer:       v.serializer,
		insertBehavior:   v.insertBehavior,
		metrics:          metrics.New(v.sh.modelName, v.sh.executor),
		state:            StateActive,
	}

	v.mu.Lock()
	v.children = append(v.children, child)
	v.mu.Unlock()

	child.lastView = child.applyFilter(v.sh.array.View())

	return child, nil
}

func (v *LiveView) applyFilter(full []model.Record) []model.Record {
	if v.filterFn == nil {
		return full
	}
	out := make([]model.Record, 0, len(full))
	for _, r := range full {
		if v.filterFn(r) {
			out = append(out, r)
		}
	}
	return out
}

// propagate recomputes this view's filtered slice of full, applies any
// optimistic metric delta, notifies subscribers if the view changed, and
// recurses into children regardless (a grandchild's narrower filter may
// react even when an intermediate child's didn't).
func (v *LiveView) propagate(full []model.Record, meta *synced.OpMeta) {
	next := v.applyFilter(full)

	v.mu.Lock()
	prev := v.lastView
	v.lastView = next
	subs := append([]ChangeFunc(nil), v.subscribers...)
	children := append([]*LiveView(nil), v.children...)
	v.mu.Unlock()

	opID, evType := "", ""
	if meta != nil {
		opID, evType = meta.OpID, meta.Type
	}
	if updates := v.metrics.OptimisticUpdate(evType, next, prev, opID); len(updates) > 0 {
		v.metrics.ApplyOptimisticUpdates(updates, opID)
	}

	if !model.ViewEqual(prev, next) {
		for _, fn := range subs {
			fn(next, prev)
		}
	}
	for _, child := range children {
		child.propagate(full, meta)
	}
}

// Subscribe registers cb to be called whenever this view's filtered slice
// changes.
func (v *LiveView) Subscribe(cb ChangeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subscribers = append(v.subscribers, cb)
}

// OnError registers cb to be called on write-path failures.
func (v *LiveView) OnError(cb ErrorFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errSubs = append(v.errSubs, cb)
}

func (v *LiveView) emitError(err error) {
	v.mu.Lock()
	subs := append([]ErrorFunc(nil), v.errSubs...)
	parent := v.parent
	v.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
	// Errors also propagate up the parent chain (spec.md §7).
	if parent != nil {
		parent.emitError(err)
	}
}

// Destroy is idempotent. A root's destroy unregisters it (and, if it was
// the last view in its namespace, unsubscribes the event receiver) and
// marks the whole shared tree destroyed so pending continuations and
// descendants start rejecting mutations. A child's destroy only clears its
// own subscribers.
func (v *LiveView) Destroy() {
	v.mu.Lock()
	if v.state == StateDestroyed {
		v.mu.Unlock()
		return
	}
	v.state = StateDestroyed
	v.subscribers = nil
	v.errSubs = nil
	v.mu.Unlock()

	if !v.isRoot {
		return
	}

	v.sh.mu.Lock()
	v.sh.destroyed = true
	v.sh.mu.Unlock()

	if v.sh.reg != nil {
		if last := v.sh.reg.Unregister(v.sh.namespace, v); last && v.sh.receiver != nil {
			_ = v.sh.receiver.Unsubscribe(v.sh.namespace)
		}
	}
}

func (v *LiveView) destroyed() bool {
	v.mu.Lock()
	state := v.state
	v.mu.Unlock()
	return state == StateDestroyed || v.sh.isDestroyed()
}

// OverfetchDepth reports how many rows the root's overfetch cache currently
// holds, for diagnostics/tests; 0 when overfetch isn't configured.
func (v *LiveView) OverfetchDepth() int {
	if v.sh.overfetch == nil {
		return 0
	}
	return v.sh.overfetch.Len()
}

// newOperationID mints a fresh operation id via uuid, as used by
// create/update/delete to tag their optimistic op group.
func newOperationID() string {
	return uuid.NewString()
}

func (v *LiveView) checkMutable() error {
	if v.destroyed() {
		return &cerr.DestroyedView{Model: v.sh.modelName}
	}
	return nil
}
