package transport

import "testing"

func TestRawEventUnmarshalJSONFixedFields(t *testing.T) {
	data := []byte(`{"type":"update","model":"issue","namespace":"issue::default","operation_id":"op-1","pk_field_name":"issueId","issueId":42,"status":"open"}`)
	var e RawEvent
	if err := e.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if e.Type != "update" || e.Model != "issue" || e.Namespace != "issue::default" {
		t.Fatalf("unexpected envelope fields: %+v", e)
	}
	if e.OperationID != "op-1" {
		t.Fatalf("OperationID = %q, want op-1", e.OperationID)
	}
	if e.PKFieldName != "issueId" {
		t.Fatalf("PKFieldName = %q, want issueId", e.PKFieldName)
	}
	if got := e.PKValue(); got != float64(42) {
		t.Fatalf("PKValue() = %v, want 42", got)
	}
	if e.ResolvedOperationID() != "op-1" {
		t.Fatalf("ResolvedOperationID() = %q, want op-1", e.ResolvedOperationID())
	}
}

func TestRawEventUnmarshalJSONEventAliasAndCamelOperationID(t *testing.T) {
	data := []byte(`{"event":"create","model":"issue","operationId":"op-2"}`)
	var e RawEvent
	if err := e.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if e.Type != "create" {
		t.Fatalf("expected event alias to populate Type, got %q", e.Type)
	}
	if e.OperationID != "op-2" {
		t.Fatalf("expected camelCase operationId to populate OperationID, got %q", e.OperationID)
	}
	if e.PKFieldName != "id" {
		t.Fatalf("expected default pk_field_name of id, got %q", e.PKFieldName)
	}
}

func TestRawEventPKValueFallbackOrder(t *testing.T) {
	withPK := RawEvent{PKFieldName: "missing", Extra: map[string]any{"pk": "p1", "id": "i1"}}
	if got := withPK.PKValue(); got != "p1" {
		t.Fatalf("expected pk field to win over id, got %v", got)
	}

	idOnly := RawEvent{PKFieldName: "missing", Extra: map[string]any{"id": "i1"}}
	if got := idOnly.PKValue(); got != "i1" {
		t.Fatalf("expected fallback to id, got %v", got)
	}

	none := RawEvent{PKFieldName: "missing", Extra: map[string]any{}}
	if got := none.PKValue(); got != nil {
		t.Fatalf("expected nil when nothing matches, got %v", got)
	}
}

func TestRawEventInstancePK(t *testing.T) {
	e := RawEvent{PKFieldName: "issueId"}
	if got := e.InstancePK(map[string]any{"issueId": 7}); got != 7 {
		t.Fatalf("InstancePK(object) = %v, want 7", got)
	}
	if got := e.InstancePK(map[string]any{"id": 9}); got != 9 {
		t.Fatalf("InstancePK(object fallback to id) = %v, want 9", got)
	}
	if got := e.InstancePK(5); got != 5 {
		t.Fatalf("InstancePK(raw value) = %v, want 5", got)
	}
}

func TestDoesNotExistError(t *testing.T) {
	err := &DoesNotExist{Model: "issue", Filter: map[string]any{"id": 1}}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error message")
	}
}
