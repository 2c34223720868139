// Package events normalizes server push events and routes them to the
// LiveViews that should react to them (spec.md §4.4, the EventDispatcher).
package events

import "strings"

// Type is a canonical server event kind.
type Type string

const (
	TypeCreate     Type = "create"
	TypeUpdate     Type = "update"
	TypeDelete     Type = "delete"
	TypeBulkCreate Type = "bulk_create"
	TypeBulkUpdate Type = "bulk_update"
	TypeBulkDelete Type = "bulk_delete"
)

// NormalizeType maps a raw wire event type string to a canonical Type.
// Returns ok=false for anything unrecognized (spec.md §4.4 step 1: "unknown
// types are warned and dropped").
func NormalizeType(raw string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "create":
		return TypeCreate, true
	case "update":
		return TypeUpdate, true
	case "delete":
		return TypeDelete, true
	case "bulk_create", "bulkcreate":
		return TypeBulkCreate, true
	case "bulk_update", "bulkupdate":
		return TypeBulkUpdate, true
	case "bulk_delete", "bulkdelete":
		return TypeBulkDelete, true
	default:
		return "", false
	}
}

// IsBulk reports whether t carries an "instances" payload rather than a
// single pk.
func (t Type) IsBulk() bool {
	switch t {
	case TypeBulkCreate, TypeBulkUpdate, TypeBulkDelete:
		return true
	default:
		return false
	}
}

// IsDelete reports whether t is a delete-flavored event.
func (t Type) IsDelete() bool {
	return t == TypeDelete || t == TypeBulkDelete
}
