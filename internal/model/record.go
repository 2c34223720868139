// Package model defines the entity contract the live-cache engine operates
// over. Records are opaque to the engine except for the primary-key field
// and whatever fields a filter or aggregate names.
package model

import "reflect"

// Record is a single entity instance. The engine never knows the concrete
// shape of a collection's rows — it only reads/writes named fields, the
// same way the teacher's query evaluator treats models.Issue fields via
// reflection-free map access in matcher functions.
type Record map[string]any

// PK returns the value of the named primary-key field, or nil if absent.
func (r Record) PK(pkField string) any {
	if r == nil {
		return nil
	}
	return r[pkField]
}

// Clone returns a shallow copy. Field values are never mutated in place by
// the engine; every merge produces a new Record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new Record with partial's fields overlaid on r. partial
// wins on conflicting keys. Neither input is mutated.
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(partial))
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Equal compares two records field-by-field. Used by SyncedArray to suppress
// spurious change notifications when a recomputed view is identical to the
// previous one.
func Equal(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !equalValue(v, bv) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	// Fast path for comparable scalars (string, int, float64, bool, nil) —
	// the overwhelming majority of fields decoded from JSON wire payloads.
	// Uncomparable values (slices, maps) skip it, since == panics on them.
	if t := reflect.TypeOf(a); t == nil || t.Comparable() {
		if a == b {
			return true
		}
	}
	aSlice, aOK := a.([]any)
	bSlice, bOK := b.([]any)
	if aOK && bOK {
		if len(aSlice) != len(bSlice) {
			return false
		}
		for i := range aSlice {
			if !equalValue(aSlice[i], bSlice[i]) {
				return false
			}
		}
		return true
	}
	aMap, aOK := a.(Record)
	bMap, bOK := b.(Record)
	if aOK && bOK {
		return Equal(aMap, bMap)
	}
	return false
}

// ViewEqual compares two ordered views element-by-element with structural
// Equal. It never calls Serialize: elements are compared field by field
// whether or not they implement Serializable.
func ViewEqual(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Serializable is implemented by records that expose a serialized form.
// Nothing in the engine consults it: change-notification suppression always
// uses the plain field comparison of ViewEqual.
type Serializable interface {
	Serialize() Record
}
