// Package synced implements SyncedArray: a primary-key-indexed array with a
// ground-truth layer and a sorted set of optimistic ops, computing the view
// lazily and emitting change events — the core of spec.md §4.1.
package synced

import (
	"log/slog"
	"sort"

	"github.com/marcus/livecache/internal/model"
)

// ChangeFunc is invoked synchronously, before the mutating method returns,
// whenever a mutation observably changes the view (spec.md §5: "onChange
// fires synchronously before the mutating method returns").
type ChangeFunc func(newView, previousView []model.Record, meta *OpMeta)

// SyncedArray is the engine's single source of truth for one root LiveView
// tree. It is not safe for concurrent use — per spec.md §5 the whole engine
// assumes single cooperative-goroutine access.
type SyncedArray struct {
	pkField string

	ground      []model.Record
	groundIndex map[any]int // pk -> index in ground

	ops []*OptimisticOp // kept sorted by Timestamp

	clock int64

	viewCache       []model.Record
	viewCacheValid  bool
	viewFromGround  []bool // parallel to viewCache: true if the row traces to ground truth

	lastNotified []model.Record
	onChange     ChangeFunc
}

// New creates a SyncedArray keyed on pkField.
func New(pkField string) *SyncedArray {
	return &SyncedArray{
		pkField:     pkField,
		groundIndex: make(map[any]int),
	}
}

// OnChange registers the single change callback. SyncedArray only ever
// holds one; LiveView fans out to its own subscribers.
func (s *SyncedArray) OnChange(fn ChangeFunc) { s.onChange = fn }

func (s *SyncedArray) nextTimestamp() int64 {
	s.clock++
	return s.clock
}

func (s *SyncedArray) invalidate() { s.viewCacheValid = false }

// View returns the current computed view: ground truth with all optimistic
// ops applied in timestamp order. The returned slice is a fresh copy and is
// safe to retain, but its rows are the cached view's own records, so callers
// must not mutate them.
func (s *SyncedArray) View() []model.Record {
	s.rebuild()
	out := make([]model.Record, len(s.viewCache))
	copy(out, s.viewCache)
	return out
}

func (s *SyncedArray) rebuild() {
	if s.viewCacheValid {
		return
	}

	view := make([]model.Record, 0, len(s.ground))
	fromGround := make([]bool, 0, len(s.ground))
	index := make(map[any]int, len(s.ground))
	for _, r := range s.ground {
		clone := r.Clone()
		pk := clone.PK(s.pkField)
		index[pk] = len(view)
		view = append(view, clone)
		fromGround = append(fromGround, true)
	}

	sorted := make([]*OptimisticOp, len(s.ops))
	copy(sorted, s.ops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	for _, op := range sorted {
		switch op.Type {
		case OpCreate:
			if _, exists := index[op.ID]; exists {
				// Synthetic id collides with an existing view entry: suppress
				// rather than duplicate (spec.md §3 invariant 3).
				continue
			}
			item := op.Data.Clone()
			item[s.pkField] = op.ID
			pos := op.Position.resolve(item, view)
			view, fromGround = insertAt(view, fromGround, pos, item, false)
			s.reindexView(view, index)
		case OpUpdate:
			if idx, ok := index[op.Key]; ok {
				view[idx] = view[idx].Merge(op.Data)
			}
		case OpDelete:
			if idx, ok := index[op.Key]; ok {
				view = append(view[:idx], view[idx+1:]...)
				fromGround = append(fromGround[:idx], fromGround[idx+1:]...)
				s.reindexView(view, index)
			}
		}
	}

	s.viewCache = view
	s.viewFromGround = fromGround
	s.viewCacheValid = true
}

func insertAt(view []model.Record, fromGround []bool, pos int, item model.Record, isGround bool) ([]model.Record, []bool) {
	view = append(view, nil)
	copy(view[pos+1:], view[pos:])
	view[pos] = item

	fromGround = append(fromGround, false)
	copy(fromGround[pos+1:], fromGround[pos:])
	fromGround[pos] = isGround

	return view, fromGround
}

// reindexView rebuilds the pk->index map after a splice shifted positions.
func (s *SyncedArray) reindexView(view []model.Record, index map[any]int) {
	for k := range index {
		delete(index, k)
	}
	for i, r := range view {
		index[r.PK(s.pkField)] = i
	}
}

func (s *SyncedArray) groundPositionForViewIndex(viewIdx int) int {
	count := 0
	for i := 0; i < viewIdx && i < len(s.viewFromGround); i++ {
		if s.viewFromGround[i] {
			count++
		}
	}
	return count
}

func (s *SyncedArray) findOpIndex(id string) int {
	for i, op := range s.ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (s *SyncedArray) removeOpAt(i int) *OptimisticOp {
	op := s.ops[i]
	s.ops = append(s.ops[:i], s.ops[i+1:]...)
	return op
}

func (s *SyncedArray) notify(meta *OpMeta) {
	prev := s.lastNotified
	s.invalidate()
	next := s.View()
	if model.ViewEqual(prev, next) {
		s.lastNotified = next
		return
	}
	s.lastNotified = next
	if s.onChange != nil {
		s.onChange(next, prev, meta)
	}
}

// ---- ground-truth helpers (used by Direct ops and Confirm) ----

func (s *SyncedArray) groundIndexOf(pk any) (int, bool) {
	idx, ok := s.groundIndex[pk]
	if !ok {
		return 0, false
	}
	return idx, true
}

func (s *SyncedArray) rebuildGroundIndex() {
	s.groundIndex = make(map[any]int, len(s.ground))
	for i, r := range s.ground {
		s.groundIndex[r.PK(s.pkField)] = i
	}
}

// safeAddGround inserts data into ground truth, or merges onto the existing
// row if its pk collides (spec.md "Safe-add": idempotency guarantee).
// Returns wasAdded=true only when a brand new row was inserted.
func (s *SyncedArray) safeAddGround(pos Position, data model.Record) bool {
	pk := data.PK(s.pkField)
	if idx, ok := s.groundIndexOf(pk); ok {
		s.ground[idx] = s.ground[idx].Merge(data)
		return false
	}
	groundView := s.ground
	idx := pos.resolve(data, groundView)
	s.ground = append(s.ground, nil)
	copy(s.ground[idx+1:], s.ground[idx:])
	s.ground[idx] = data.Clone()
	s.rebuildGroundIndex()
	return true
}

func (s *SyncedArray) updateGround(key any, data model.Record) bool {
	idx, ok := s.groundIndexOf(key)
	if !ok {
		return false
	}
	s.ground[idx] = s.ground[idx].Merge(data)
	return true
}

func (s *SyncedArray) deleteGround(key any) bool {
	idx, ok := s.groundIndexOf(key)
	if !ok {
		return false
	}
	s.ground = append(s.ground[:idx], s.ground[idx+1:]...)
	s.rebuildGroundIndex()
	return true
}

// ---- optimistic public API ----

// CreateOptimistic inserts a synthetic item at position; its pk becomes id.
func (s *SyncedArray) CreateOptimistic(id string, position Position, data model.Record) string {
	return s.BulkCreateOptimistic([]CreateSpec{{ID: id, Position: position, Data: data}})[0]
}

// UpdateOptimistic overlays partial fields onto the item keyed by key.
func (s *SyncedArray) UpdateOptimistic(id string, key any, data model.Record) string {
	return s.BulkUpdateOptimistic([]UpdateSpec{{ID: id, Key: key, Data: data}})[0]
}

// DeleteOptimistic hides the item keyed by key from the view.
func (s *SyncedArray) DeleteOptimistic(id string, key any) string {
	return s.BulkDeleteOptimistic([]DeleteSpec{{ID: id, Key: key}})[0]
}

// BulkCreateOptimistic stages N creates atomically: one recompute, one
// notification.
func (s *SyncedArray) BulkCreateOptimistic(specs []CreateSpec) []string {
	ids := make([]string, len(specs))
	for i, spec := range specs {
		opID := spec.OperationID
		if opID == "" {
			opID = spec.ID
		}
		s.ops = append(s.ops, &OptimisticOp{
			ID: spec.ID, OperationID: opID, Type: OpCreate,
			Timestamp: s.nextTimestamp(), Position: spec.Position, Data: spec.Data,
		})
		ids[i] = spec.ID
	}
	s.notify(&OpMeta{Type: "bulk_create"})
	return ids
}

// BulkUpdateOptimistic stages N updates atomically.
func (s *SyncedArray) BulkUpdateOptimistic(specs []UpdateSpec) []string {
	ids := make([]string, len(specs))
	for i, spec := range specs {
		opID := spec.OperationID
		if opID == "" {
			opID = spec.ID
		}
		s.ops = append(s.ops, &OptimisticOp{
			ID: spec.ID, OperationID: opID, Type: OpUpdate,
			Timestamp: s.nextTimestamp(), Key: spec.Key, Data: spec.Data,
		})
		ids[i] = spec.ID
	}
	s.notify(&OpMeta{Type: "bulk_update"})
	return ids
}

// BulkDeleteOptimistic stages N deletes atomically.
func (s *SyncedArray) BulkDeleteOptimistic(specs []DeleteSpec) []string {
	ids := make([]string, len(specs))
	for i, spec := range specs {
		opID := spec.OperationID
		if opID == "" {
			opID = spec.ID
		}
		s.ops = append(s.ops, &OptimisticOp{
			ID: spec.ID, OperationID: opID, Type: OpDelete,
			Timestamp: s.nextTimestamp(), Key: spec.Key,
		})
		ids[i] = spec.ID
	}
	s.notify(&OpMeta{Type: "bulk_delete"})
	return ids
}

// ConfirmOptimisticOp removes op id and, if it still exists, merges its data
// into ground truth. Returns whether the op was found.
func (s *SyncedArray) ConfirmOptimisticOp(id string, serverData model.Record) bool {
	ok := s.confirmOne(id, serverData)
	s.notify(&OpMeta{OpID: id, Type: "confirm"})
	return ok
}

// BulkConfirmOptimisticOps stages deletes, then updates, then creates (in
// that order, per spec.md §4.1) and emits a single notification.
func (s *SyncedArray) BulkConfirmOptimisticOps(items []ConfirmItem) {
	byID := make(map[string]model.Record, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		byID[it.ID] = it.ServerData
		order = append(order, it.ID)
	}

	var deletes, updates, creates []string
	for _, id := range order {
		idx := s.findOpIndex(id)
		if idx < 0 {
			continue
		}
		switch s.ops[idx].Type {
		case OpDelete:
			deletes = append(deletes, id)
		case OpUpdate:
			updates = append(updates, id)
		case OpCreate:
			creates = append(creates, id)
		}
	}

	for _, id := range deletes {
		s.confirmOne(id, byID[id])
	}
	for _, id := range updates {
		s.confirmOne(id, byID[id])
	}
	for _, id := range creates {
		s.confirmOne(id, byID[id])
	}

	s.notify(&OpMeta{Type: "bulk_confirm"})
}

// confirmOne performs the ground-truth merge for a single op without
// notifying; callers batch the notification.
func (s *SyncedArray) confirmOne(id string, serverData model.Record) bool {
	// The view must be rebuilt with the op still present so we can locate
	// its current display position before removing it (anti-flicker rule,
	// spec.md §9 "Insertion position of confirmed creates").
	s.rebuild()
	viewIdx := -1
	for i, r := range s.viewCache {
		if r.PK(s.pkField) == id {
			viewIdx = i
			break
		}
	}

	idx := s.findOpIndex(id)
	if idx < 0 {
		return false
	}
	op := s.removeOpAt(idx)
	s.invalidate()

	data := serverData
	if data == nil {
		data = op.Data
	}

	switch op.Type {
	case OpCreate:
		groundPos := len(s.ground)
		if viewIdx >= 0 {
			groundPos = s.groundPositionForViewIndex(viewIdx)
		}
		merged := data
		if merged == nil {
			merged = model.Record{}
		}
		// Coerce to update if this create's pk collides with an existing
		// ground row (spec.md §3 invariant 2).
		s.safeAddGround(AtIndex(groundPos), merged)
	case OpUpdate:
		if pk := op.Key; pk != nil {
			s.updateGround(pk, data)
		}
	case OpDelete:
		if pk := op.Key; pk != nil {
			s.deleteGround(pk)
		}
	}
	return true
}

// RemoveOptimisticOp cancels op id, reverting its view contribution.
func (s *SyncedArray) RemoveOptimisticOp(id string) {
	s.BulkRemoveOptimisticOps([]string{id})
}

// BulkRemoveOptimisticOps cancels N ops atomically.
func (s *SyncedArray) BulkRemoveOptimisticOps(ids []string) {
	for _, id := range ids {
		idx := s.findOpIndex(id)
		if idx < 0 {
			slog.Debug("synced: remove of unknown optimistic op", "id", id)
			continue
		}
		s.removeOpAt(idx)
	}
	s.notify(&OpMeta{Type: "bulk_remove"})
}

// ---- direct (ground-truth) API, used by EventDispatcher ----

// CreateDirect safe-adds data to ground truth at position. wasAdded is false
// when an existing pk caused a merge instead of an insert.
func (s *SyncedArray) CreateDirect(position Position, data model.Record) bool {
	wasAdded := s.safeAddGround(position, data)
	s.notify(&OpMeta{Type: "direct_create"})
	return wasAdded
}

// UpdateDirect merges data onto the ground row keyed by key.
func (s *SyncedArray) UpdateDirect(key any, data model.Record) bool {
	found := s.updateGround(key, data)
	s.notify(&OpMeta{Type: "direct_update"})
	return found
}

// DeleteDirect removes the ground row keyed by key.
func (s *SyncedArray) DeleteDirect(key any) bool {
	removed := s.deleteGround(key)
	s.notify(&OpMeta{Type: "direct_delete"})
	return removed
}

// BulkCreateDirect applies N safe-adds with a single notification.
func (s *SyncedArray) BulkCreateDirect(position Position, rows []model.Record) int {
	added := 0
	for _, row := range rows {
		if s.safeAddGround(position, row) {
			added++
		}
	}
	s.notify(&OpMeta{Type: "bulk_direct_create"})
	return added
}

// BulkUpdateDirect merges N rows with a single notification.
func (s *SyncedArray) BulkUpdateDirect(pairs map[any]model.Record) int {
	found := 0
	for key, data := range pairs {
		if s.updateGround(key, data) {
			found++
		}
	}
	s.notify(&OpMeta{Type: "bulk_direct_update"})
	return found
}

// BulkDeleteDirect removes N rows with a single notification.
func (s *SyncedArray) BulkDeleteDirect(keys []any) int {
	removed := 0
	for _, key := range keys {
		if s.deleteGround(key) {
			removed++
		}
	}
	s.notify(&OpMeta{Type: "bulk_direct_delete"})
	return removed
}

// ResetGroundTruth replaces ground truth verbatim. When clearOptimistic is
// true, all pending optimistic ops are dropped too.
func (s *SyncedArray) ResetGroundTruth(data []model.Record, clearOptimistic bool) {
	s.ground = make([]model.Record, len(data))
	for i, r := range data {
		s.ground[i] = r.Clone()
	}
	s.rebuildGroundIndex()
	if clearOptimistic {
		s.ops = nil
	}
	s.notify(&OpMeta{Type: "reset"})
}

// Ground returns a copy of the current ground truth, for diagnostics/tests.
func (s *SyncedArray) Ground() []model.Record {
	out := make([]model.Record, len(s.ground))
	copy(out, s.ground)
	return out
}

// PendingOps reports the ids of ops currently pending, for diagnostics.
func (s *SyncedArray) PendingOps() []string {
	ids := make([]string, len(s.ops))
	for i, op := range s.ops {
		ids[i] = op.ID
	}
	return ids
}
