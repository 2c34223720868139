// Package cerr defines the engine's typed error kinds (spec.md §7), mirroring
// the teacher's internal/workflow convention of small struct errors rather
// than bare sentinel values, so callers can type-assert on specifics.
package cerr

import "fmt"

// DoesNotExist is returned when a local get() falls through to the server
// and the server also has no matching row.
type DoesNotExist struct {
	Model  string
	Filter map[string]any
}

func (e *DoesNotExist) Error() string {
	return fmt.Sprintf("livecache: %s matching %v does not exist", e.Model, e.Filter)
}

// MultipleObjectsReturned is returned when a local get() matches more than
// one row in the current filtered view.
type MultipleObjectsReturned struct {
	Model string
	Count int
}

func (e *MultipleObjectsReturned) Error() string {
	return fmt.Sprintf("livecache: get() on %s matched %d objects, expected exactly one", e.Model, e.Count)
}

// ModelMismatch is returned by refresh()/reset() when the caller supplies a
// queryset/options for a different entity model than the one currently
// owned.
type ModelMismatch struct {
	Have, Want string
}

func (e *ModelMismatch) Error() string {
	return fmt.Sprintf("livecache: model mismatch: have %q, want %q", e.Have, e.Want)
}

// TransportError wraps an error returned by the query executor during a
// write path, after rollback has already been applied.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("livecache: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidArguments is returned synchronously when a method is called on a
// view that does not accept it; LiveView.Refresh returns it when called on a
// filtered child instead of the root.
type InvalidArguments struct {
	Reason string
}

func (e *InvalidArguments) Error() string {
	return "livecache: invalid arguments: " + e.Reason
}

// DestroyedView is thrown synchronously on any mutation attempted against a
// destroyed LiveView.
type DestroyedView struct {
	Model string
}

func (e *DestroyedView) Error() string {
	return fmt.Sprintf("livecache: operation on destroyed LiveView(%s)", e.Model)
}
