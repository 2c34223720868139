// Package liveview implements the root and filtered LiveView (spec.md §4.5,
// C6) plus wires into the shared Registry (C7).
package liveview

import (
	"sync"

	"github.com/marcus/livecache/internal/metrics"
	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/oplog"
	"github.com/marcus/livecache/internal/overfetch"
	"github.com/marcus/livecache/internal/registry"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/transport"
)

// State is a LiveView's lifecycle stage (spec.md §4.5).
type State int

const (
	StateInitializing State = iota
	StateActive
	StateDestroyed
)

// InsertBehavior controls where optimistic (local) vs. confirmed-without-
// optimism (remote) creates land, per spec.md §3 (default local=prepend,
// remote=append).
type InsertBehavior struct {
	Local  synced.Position
	Remote synced.Position
}

// DefaultInsertBehavior matches spec.md's stated default.
func DefaultInsertBehavior() InsertBehavior {
	return InsertBehavior{Local: synced.Prepend(), Remote: synced.Append()}
}

// SerializerOptions mirrors spec.md §3's {limit, offset, depth, fields}.
type SerializerOptions struct {
	Limit  int
	Offset int
	Depth  int
	Fields []string
}

// ChangeFunc is a view subscriber callback.
type ChangeFunc func(newView, previousView []model.Record)

// ErrorFunc is an error subscriber callback.
type ErrorFunc func(error)

// shared is the state one root LiveView and all of its filtered children
// hold in common: the SyncedArray, the set of locally-created pks, and the
// registry/transport wiring. Filtered children never get their own copy —
// "shared ownership of one SyncedArray... children hold a back-reference
// only for notification propagation, never for storage" (spec.md §9).
type shared struct {
	mu sync.Mutex

	modelName string
	pkField   string
	namespace string

	array        *synced.SyncedArray
	createdItems map[any]bool

	executor transport.QueryExecutor
	receiver transport.EventReceiver
	reg      *registry.Registry

	overfetch *overfetch.Cache
	oplog     *oplog.OperationLog

	destroyed bool
}

func (sh *shared) markCreated(pk any) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.createdItems[pk] = true
}

func (sh *shared) hasCreated(pk any) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.createdItems[pk]
}

func (sh *shared) isDestroyed() bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.destroyed
}

// LiveView is a reactive, filter-composable window over a paginated query
// (spec.md §4.5). Root views own `sh`; filtered children share it.
type LiveView struct {
	sh *shared

	isRoot bool
	parent *LiveView

	filterFn         func(model.Record) bool
	filterConditions map[string]any

	serializer     SerializerOptions
	insertBehavior InsertBehavior
	fixedPageSize  int
	overfetchSize  int

	metrics *metrics.Manager

	mu          sync.Mutex
	state       State
	subscribers []ChangeFunc
	errSubs     []ErrorFunc
	children    []*LiveView
	lastView    []model.Record
}

// Options configures a new root LiveView.
type Options struct {
	ModelName        string
	PKField          string
	Namespace        string // suffix; final namespace is modelName or modelName::suffix
	Executor         transport.QueryExecutor
	Receiver         transport.EventReceiver // optional; nil disables realtime subscribe
	Registry         *registry.Registry
	Serializer       SerializerOptions
	InsertBehavior   InsertBehavior
	FixedPageSize    int
	OverfetchSize    int
	FilterConditions map[string]any
	OpLog            *oplog.OperationLog // optional: enables the debug audit mirror
}

// namespaceFor applies spec.md §6's default resolution: modelName, or
// modelName::suffix when a custom namespace is given.
func namespaceFor(modelName, suffix string) string {
	if suffix == "" {
		return modelName
	}
	return modelName + "::" + suffix
}
