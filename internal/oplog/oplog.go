// Package oplog implements the rollback substrate for optimistic mutations:
// an ordered, per-operation-id log of inverse patches, computed with a
// structured copy-on-write patch library the way the teacher's workflow
// state machine leans on typed, composable records rather than hand-rolled
// diffing.
package oplog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/marcus/livecache/internal/model"
)

// DefaultTTL is the age after which a completed operation's patch history is
// eligible for cleanup (spec.md §4.6: "default 60 s").
const DefaultTTL = 60 * time.Second

// EventType tags a patch entry with the mutation kind it recorded, so a
// rollback can emit the inverse event type.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// inverse returns the event type a rollback of this entry should report.
func (e EventType) inverse() EventType {
	switch e {
	case EventCreate:
		return EventDelete
	case EventDelete:
		return EventCreate
	default:
		return EventUpdate
	}
}

// patchEntry is one recorded mutation: the forward/inverse JSON merge
// patches between before and after, plus the event type and when it
// happened.
type patchEntry struct {
	forward   json.RawMessage
	inverse   json.RawMessage
	eventType EventType
	timestamp time.Time
}

// OperationLog stores, per operationId, an ordered list of patch entries so
// a failed or cancelled optimistic operation can be unwound in reverse
// order.
type OperationLog struct {
	mu      sync.Mutex
	entries map[string][]patchEntry
	ttl     time.Duration
	audit   *AuditSink
}

// New creates an OperationLog with the given TTL. A zero ttl uses
// DefaultTTL.
func New(ttl time.Duration) *OperationLog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &OperationLog{
		entries: make(map[string][]patchEntry),
		ttl:     ttl,
	}
}

// ApplyMutation computes before→after patches for opID by running mutate
// over a clone of before, records the forward+inverse pair tagged with
// eventType, and returns the mutated record.
func (l *OperationLog) ApplyMutation(opID string, before model.Record, mutate func(model.Record) model.Record, eventType EventType) (model.Record, error) {
	after := mutate(before.Clone())

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("oplog: marshal before: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, fmt.Errorf("oplog: marshal after: %w", err)
	}

	forward, err := jsonpatch.CreateMergePatch(beforeJSON, afterJSON)
	if err != nil {
		return nil, fmt.Errorf("oplog: create forward patch: %w", err)
	}
	inverse, err := jsonpatch.CreateMergePatch(afterJSON, beforeJSON)
	if err != nil {
		return nil, fmt.Errorf("oplog: create inverse patch: %w", err)
	}

	now := time.Now()
	l.mu.Lock()
	l.entries[opID] = append(l.entries[opID], patchEntry{
		forward:   forward,
		inverse:   inverse,
		eventType: eventType,
		timestamp: now,
	})
	sink := l.audit
	l.mu.Unlock()

	if sink != nil {
		sink.record(opID, eventType, forward, now)
	}

	return after, nil
}

// Rollback applies opID's inverse patches, in reverse recorded order, to
// current and returns the resulting record along with the inverse event
// types that were applied (create↔delete, update↔update). The log entry
// for opID is dropped after a successful rollback.
func (l *OperationLog) Rollback(opID string, current model.Record) (model.Record, []EventType, error) {
	l.mu.Lock()
	entries := l.entries[opID]
	delete(l.entries, opID)
	l.mu.Unlock()

	if len(entries) == 0 {
		return current, nil, nil
	}

	doc, err := json.Marshal(current)
	if err != nil {
		return nil, nil, fmt.Errorf("oplog: marshal current: %w", err)
	}

	var inverseTypes []EventType
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		doc, err = jsonpatch.MergePatch(doc, entry.inverse)
		if err != nil {
			return nil, nil, fmt.Errorf("oplog: apply inverse patch for %q: %w", opID, err)
		}
		inverseTypes = append(inverseTypes, entry.eventType.inverse())
	}

	var result model.Record
	if err := json.Unmarshal(doc, &result); err != nil {
		return nil, nil, fmt.Errorf("oplog: unmarshal rolled-back record: %w", err)
	}
	return result, inverseTypes, nil
}

// Forget drops opID's patch history without rolling back, used on
// successful confirmation.
func (l *OperationLog) Forget(opID string) {
	l.mu.Lock()
	delete(l.entries, opID)
	l.mu.Unlock()
}

// Cleanup drops entries whose most recent patch is older than the log's
// TTL, relative to now. Returns the number of operation ids dropped.
func (l *OperationLog) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for opID, entries := range l.entries {
		if len(entries) == 0 {
			delete(l.entries, opID)
			dropped++
			continue
		}
		last := entries[len(entries)-1].timestamp
		if now.Sub(last) > l.ttl {
			delete(l.entries, opID)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("oplog: cleanup evicted stale operations", "count", dropped)
	}
	return dropped
}

// Len reports how many operation ids currently have recorded history.
// Mainly used by tests.
func (l *OperationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
