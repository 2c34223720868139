// Package transport declares the contract-only boundary between the
// live-cache engine and its external collaborators: the query executor
// (HTTP query builder/request transport) and the event receiver (realtime
// pub/sub). Per spec.md §1 these are out of scope — only the interfaces
// live here.
package transport

import (
	"context"
	"encoding/json"

	"github.com/marcus/livecache/internal/model"
)

// QueryType enumerates the structured query operations a QueryExecutor must
// support (spec.md §6).
type QueryType string

const (
	QueryRead   QueryType = "read"
	QueryGet    QueryType = "get"
	QueryFirst  QueryType = "first"
	QueryCount  QueryType = "count"
	QuerySum    QueryType = "sum"
	QueryAvg    QueryType = "avg"
	QueryMin    QueryType = "min"
	QueryMax    QueryType = "max"
	QueryCreate QueryType = "create"
	QueryUpdate QueryType = "update"
	QueryDelete QueryType = "delete"
)

// Query is the structured request shape passed to a QueryExecutor.
type Query struct {
	Type        QueryType
	Model       string
	Filter      map[string]any // server-side filter conditions, e.g. {"pk__in": [...]}
	OrderBy     string
	Fields      []string
	Limit       int
	Offset      int
	Data        model.Record // create/update payload
	OperationID string
	Namespace   string
}

// Result is what a QueryExecutor returns for a successful query.
type Result struct {
	Data     []model.Record
	Metadata map[string]any
	Number   float64 // populated for count/sum/avg/min/max
}

// QueryExecutor is the HTTP query builder / request transport boundary.
// Implementations must be idempotent w.r.t. OperationID: the engine may
// pass the same id on retry.
type QueryExecutor interface {
	Execute(ctx context.Context, q Query) (Result, error)
}

// DoesNotExist is returned by a QueryExecutor when a get/first lookup finds
// nothing, mirroring spec.md §6 "or throws DoesNotExist".
type DoesNotExist struct {
	Model  string
	Filter map[string]any
}

func (e *DoesNotExist) Error() string {
	return "livecache: " + e.Model + " matching filter does not exist"
}

// RawEvent is the wire-format record delivered by the realtime transport,
// bit-exact per spec.md §6: type, model, namespace,
// operation_id|operationId, pk_field_name?, pk/id/named-pk-field (single),
// instances (bulk). Because the single-event pk travels under whatever
// field name pk_field_name names, the full decoded payload is kept in Extra
// for dynamic lookup via PKValue.
type RawEvent struct {
	Type        string
	Model       string
	Namespace   string
	OperationID string
	PKFieldName string
	Instances   []any
	Extra       map[string]any
}

// UnmarshalJSON decodes the wire format, pulling the fixed fields out of the
// envelope and leaving everything else (including the dynamically-named pk
// field) in Extra.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Extra = raw
	e.Type, _ = raw["type"].(string)
	if e.Type == "" {
		e.Type, _ = raw["event"].(string)
	}
	e.Model, _ = raw["model"].(string)
	e.Namespace, _ = raw["namespace"].(string)
	if v, ok := raw["operation_id"].(string); ok {
		e.OperationID = v
	} else if v, ok := raw["operationId"].(string); ok {
		e.OperationID = v
	}
	e.PKFieldName, _ = raw["pk_field_name"].(string)
	if e.PKFieldName == "" {
		e.PKFieldName = "id"
	}
	if instances, ok := raw["instances"].([]any); ok {
		e.Instances = instances
	}
	return nil
}

// ResolvedOperationID returns the event's operation id for self-echo
// comparison against the registry's active-operation-ids set.
func (e RawEvent) ResolvedOperationID() string {
	return e.OperationID
}

// PKValue returns the single-event primary key, checked in order:
// pk_field_name's own field, "pk", "id".
func (e RawEvent) PKValue() any {
	if v, ok := e.Extra[e.PKFieldName]; ok {
		return v
	}
	if v, ok := e.Extra["pk"]; ok {
		return v
	}
	if v, ok := e.Extra["id"]; ok {
		return v
	}
	return nil
}

// InstancePK extracts the pk from one bulk "instances" entry, which may be
// a raw pk value or an object keyed by pk_field_name.
func (e RawEvent) InstancePK(instance any) any {
	if obj, ok := instance.(map[string]any); ok {
		if v, ok := obj[e.PKFieldName]; ok {
			return v
		}
		if v, ok := obj["id"]; ok {
			return v
		}
		return nil
	}
	return instance
}

// EventHandlerFunc processes one delivered event.
type EventHandlerFunc func(RawEvent)

// EventReceiver is the realtime transport boundary: a channel-per-namespace
// pub/sub that delivers events as opaque records.
type EventReceiver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(namespace string) error
	Unsubscribe(namespace string) error
	AddEventHandler(fn EventHandlerFunc)
	RemoveEventHandler(fn EventHandlerFunc)
	SetNamespaceResolver(fn func(modelName, suffix string) string)
}
