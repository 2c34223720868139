// Package registry implements spec.md §4's shared global state: the
// namespace -> set-of-LiveViews registry (C7) and the process-wide
// active-operation-id set used for self-echo suppression. Both are
// explicitly called out in spec.md §5 as the one piece of state touched
// from more than one call site, so they take a mutex. (LiveView, the
// metrics Manager and the overfetch Cache also guard their own state with a
// mutex; SyncedArray takes none.)
package registry

import (
	"sync"

	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/transport"
)

// OverfetchHandler is the subset of OverfetchCache the dispatcher drives.
type OverfetchHandler interface {
	HandleModelEvent(eventType string, pks []any)
}

// ActiveView is the subset of a LiveView the EventDispatcher and Registry
// need, kept narrow to avoid an import cycle between liveview and events.
type ActiveView interface {
	ModelName() string
	Namespace() string
	PKField() string
	Matches(r model.Record) bool
	Array() *synced.SyncedArray
	RemoteInsertPosition() synced.Position
	HasCreatedItem(pk any) bool
	Executor() transport.QueryExecutor
	ScheduleMetricsRefresh()
	Overfetch() OverfetchHandler
}

// Registry is the namespace -> []ActiveView map plus the active-operation-id
// dedup set, both process-wide shared resources per spec.md §5.
type Registry struct {
	mu          sync.Mutex
	byNamespace map[string][]ActiveView
	activeOps   map[string]int // refcount: multiple in-flight ops may share an id during bulk grouping
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byNamespace: make(map[string][]ActiveView),
		activeOps:   make(map[string]int),
	}
}

// Register adds v under namespace.
func (r *Registry) Register(namespace string, v ActiveView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNamespace[namespace] = append(r.byNamespace[namespace], v)
}

// Unregister removes v from namespace. Returns true if namespace now has no
// remaining views (caller should ask the event receiver to unsubscribe).
func (r *Registry) Unregister(namespace string, v ActiveView) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := r.byNamespace[namespace]
	for i, existing := range views {
		if existing == v {
			views = append(views[:i], views[i+1:]...)
			break
		}
	}
	if len(views) == 0 {
		delete(r.byNamespace, namespace)
		return true
	}
	r.byNamespace[namespace] = views
	return false
}

// ViewsForNamespace returns a snapshot of the views registered under
// namespace.
func (r *Registry) ViewsForNamespace(namespace string) []ActiveView {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := r.byNamespace[namespace]
	out := make([]ActiveView, len(views))
	copy(out, views)
	return out
}

// BeginOperation marks opID as an in-flight local mutation; events carrying
// this operation id are self-echoes and should be dropped by the
// dispatcher.
func (r *Registry) BeginOperation(opID string) {
	if opID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeOps[opID]++
}

// EndOperation releases one reference to opID, added by BeginOperation.
func (r *Registry) EndOperation(opID string) {
	if opID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeOps[opID] <= 1 {
		delete(r.activeOps, opID)
		return
	}
	r.activeOps[opID]--
}

// IsOperationActive reports whether opID currently has an in-flight local
// mutation.
func (r *Registry) IsOperationActive(opID string) bool {
	if opID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeOps[opID] > 0
}
