// Package overfetch implements the secondary "next items" pool that lets a
// fixed-size page refill after deletions without a round trip (spec.md
// §4.2, C3).
package overfetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marcus/livecache/internal/cerr"
	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/synced"
	"github.com/marcus/livecache/internal/transport"
)

// DebounceDelay is the spec-mandated 300ms refresh debounce.
const DebounceDelay = 300 * time.Millisecond

// Cache holds a disjoint set of "next" items for a LiveView with a fixed
// page size, ranked by the same order and excluding the current main pks.
type Cache struct {
	mu sync.Mutex

	modelName string
	pkField   string
	cacheSize int

	executor  transport.QueryExecutor
	baseQuery transport.Query // template: orderBy/fields, Limit overwritten per fetch

	main *synced.SyncedArray

	items []model.Record

	debounce *time.Timer
	sf       singleflight.Group
}

// New creates an overfetch cache for modelName/pkField with the given
// target size, fetching through executor using baseQuery as the filter
// template (orderBy, fields — Limit and the pk-exclusion are added here).
func New(modelName, pkField string, cacheSize int, executor transport.QueryExecutor, baseQuery transport.Query) *Cache {
	return &Cache{
		modelName: modelName,
		pkField:   pkField,
		cacheSize: cacheSize,
		executor:  executor,
		baseQuery: baseQuery,
	}
}

// SetMainDataArray lets the cache observe the main array by reference, so it
// can compute "currentMainPks" without the LiveView handing them over on
// every call.
func (c *Cache) SetMainDataArray(main *synced.SyncedArray) {
	c.mu.Lock()
	c.main = main
	c.mu.Unlock()
}

// Initialize performs the initial fetch:
// qs.exclude({pk__in: currentMainPks}).fetch({...serializer, limit: cacheSize}).
func (c *Cache) Initialize(ctx context.Context) error {
	return c.fetch(ctx)
}

func (c *Cache) currentMainPKs() []any {
	c.mu.Lock()
	main := c.main
	c.mu.Unlock()
	if main == nil {
		return nil
	}
	view := main.View()
	pks := make([]any, 0, len(view))
	for _, r := range view {
		pks = append(pks, r.PK(c.pkField))
	}
	return pks
}

func (c *Cache) fetch(ctx context.Context) error {
	c.mu.Lock()
	q := c.baseQuery
	size := c.cacheSize
	executor := c.executor
	c.mu.Unlock()

	q.Type = transport.QueryRead
	q.Model = c.modelName
	q.Limit = size
	if q.Filter == nil {
		q.Filter = map[string]any{}
	} else {
		clone := make(map[string]any, len(q.Filter))
		for k, v := range q.Filter {
			clone[k] = v
		}
		q.Filter = clone
	}
	q.Filter[c.pkField+"__exclude_in"] = c.currentMainPKs()

	res, err := executor.Execute(ctx, q)
	if err != nil {
		slog.Warn("overfetch: refresh failed", "model", c.modelName, "err", err)
		return err
	}

	// Transient duplication against the main array across an event is
	// tolerated per spec.md §4.2; only GetReplacements must surface a
	// disjoint set, which it enforces by splicing against the live main
	// array at call time, not here.
	c.mu.Lock()
	c.items = res.Data
	c.mu.Unlock()
	return nil
}

// RefreshCache schedules a debounced refetch. A pending refresh suppresses
// concurrent starts (spec.md §4.2).
func (c *Cache) RefreshCache(ctx context.Context) {
	c.mu.Lock()
	if c.debounce != nil {
		c.mu.Unlock()
		return
	}
	c.debounce = time.AfterFunc(DebounceDelay, func() {
		c.mu.Lock()
		c.debounce = nil
		c.mu.Unlock()
		c.runRefresh(ctx)
	})
	c.mu.Unlock()
}

func (c *Cache) runRefresh(ctx context.Context) {
	_, _, _ = c.sf.Do("refresh", func() (any, error) {
		return nil, c.fetch(ctx)
	})
}

// HandleModelEvent updates the cache in reaction to a dispatched server
// event, per spec.md §4.2's per-event-type table.
func (c *Cache) HandleModelEvent(eventType string, pks []any) {
	switch eventType {
	case "create":
		c.mu.Lock()
		full := len(c.items) >= c.cacheSize
		c.mu.Unlock()
		if !full {
			c.RefreshCache(context.Background())
		}
	case "delete", "bulk_delete":
		intersected := c.removePKs(pks)
		if intersected {
			c.RefreshCache(context.Background())
		}
	case "update", "bulk_update":
		if c.intersects(pks) {
			c.RefreshCache(context.Background())
		}
	}
}

func (c *Cache) removePKs(pks []any) bool {
	toRemove := make(map[any]bool, len(pks))
	for _, pk := range pks {
		toRemove[pk] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	intersected := false
	kept := c.items[:0:0]
	for _, item := range c.items {
		if toRemove[item.PK(c.pkField)] {
			intersected = true
			continue
		}
		kept = append(kept, item)
	}
	c.items = kept
	return intersected
}

func (c *Cache) intersects(pks []any) bool {
	want := make(map[any]bool, len(pks))
	for _, pk := range pks {
		want[pk] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.items {
		if want[item.PK(c.pkField)] {
			return true
		}
	}
	return false
}

// GetReplacements splices up to n items off the front of the cache,
// filtering out anything that (per the invariant in spec.md §4.2) has
// meanwhile appeared in the main view — transient duplication across an
// event is tolerated, but it must not be surfaced. If the remaining cache
// drops below cacheSize/2, a refresh is scheduled.
func (c *Cache) GetReplacements(n int) []model.Record {
	c.mu.Lock()
	mainPKs := c.currentMainPKsLocked()

	out := make([]model.Record, 0, n)
	remaining := make([]model.Record, 0, len(c.items))
	for _, item := range c.items {
		if len(out) < n && !mainPKs[item.PK(c.pkField)] {
			out = append(out, item)
			continue
		}
		remaining = append(remaining, item)
	}
	c.items = remaining
	low := len(c.items) < c.cacheSize/2
	c.mu.Unlock()

	if low {
		c.RefreshCache(context.Background())
	}
	return out
}

// currentMainPKsLocked assumes c.mu is already held.
func (c *Cache) currentMainPKsLocked() map[any]bool {
	out := map[any]bool{}
	if c.main == nil {
		return out
	}
	for _, r := range c.main.View() {
		out[r.PK(c.pkField)] = true
	}
	return out
}

// Len reports the current cache size, for diagnostics/tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// ResetOptions carries the optional overrides for Reset.
type ResetOptions struct {
	NewModel     string // must equal the current model, else ModelMismatch
	NewExecutor  transport.QueryExecutor
	NewBaseQuery *transport.Query
	NewCacheSize int
}

// Reset clears the cache in place (preserving the backing array identity
// isn't meaningful in Go slices the way it is in a JS array reference, but
// the exported Cache pointer identity is preserved) and re-initializes.
func (c *Cache) Reset(ctx context.Context, opts ResetOptions) error {
	c.mu.Lock()
	if opts.NewModel != "" && opts.NewModel != c.modelName {
		c.mu.Unlock()
		return &cerr.ModelMismatch{Have: c.modelName, Want: opts.NewModel}
	}
	if opts.NewExecutor != nil {
		c.executor = opts.NewExecutor
	}
	if opts.NewBaseQuery != nil {
		c.baseQuery = *opts.NewBaseQuery
	}
	if opts.NewCacheSize > 0 {
		c.cacheSize = opts.NewCacheSize
	}
	c.items = c.items[:0]
	c.mu.Unlock()

	return c.fetch(ctx)
}
