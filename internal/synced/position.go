package synced

import "github.com/marcus/livecache/internal/model"

// PositionKind selects how a create op's insertion point is resolved.
type PositionKind int

const (
	// PositionIndex inserts at a fixed, clamped index.
	PositionIndex PositionKind = iota
	// PositionPrepend inserts at index 0.
	PositionPrepend
	// PositionAppend inserts at the end of the current view/ground.
	PositionAppend
	// PositionFunc calls a function with the item and the current slice to
	// compute the index.
	PositionFunc
)

// Position mirrors spec.md §4.1's position resolution: "0 (prepend),
// undefined (append), a non-negative integer (splice index, clamped to
// length), or a function called with (item, currentView)".
type Position struct {
	Kind  PositionKind
	Index int
	Func  func(item model.Record, current []model.Record) int
}

// Prepend returns a Position that inserts at the front.
func Prepend() Position { return Position{Kind: PositionPrepend} }

// Append returns a Position that inserts at the end.
func Append() Position { return Position{Kind: PositionAppend} }

// AtIndex returns a Position that inserts at a fixed, clamped index.
func AtIndex(i int) Position { return Position{Kind: PositionIndex, Index: i} }

// ByFunc returns a Position resolved by calling fn against the item and the
// slice it is being inserted into.
func ByFunc(fn func(item model.Record, current []model.Record) int) Position {
	return Position{Kind: PositionFunc, Func: fn}
}

// resolve clamps/computes the insertion index for item within current.
func (p Position) resolve(item model.Record, current []model.Record) int {
	switch p.Kind {
	case PositionPrepend:
		return 0
	case PositionAppend:
		return len(current)
	case PositionFunc:
		if p.Func == nil {
			return len(current)
		}
		return clamp(p.Func(item, current), len(current))
	default:
		return clamp(p.Index, len(current))
	}
}

func clamp(i, length int) int {
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}
