package oplog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AuditSink is an optional, strictly-additive on-disk mirror of every
// mutation ApplyMutation records. Nothing in the engine ever reads it back —
// rollback uses the in-memory patch entries, never this table — it exists
// purely so a deployment can inspect mutation history after the fact.
type AuditSink struct {
	db *sql.DB
}

// OpenAuditSink opens (creating if needed) a SQLite database at path and
// ensures the audit table exists.
func OpenAuditSink(path string) (*AuditSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("oplog: open audit sink: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS mutation_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	forward_patch TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("oplog: create audit table: %w", err)
	}
	return &AuditSink{db: db}, nil
}

// Close closes the underlying database handle.
func (a *AuditSink) Close() error {
	return a.db.Close()
}

// record inserts one audit row. Failures are logged, never surfaced — the
// audit mirror must never perturb the write path it observes.
func (a *AuditSink) record(opID string, eventType EventType, forward any, at time.Time) {
	patchJSON, err := json.Marshal(forward)
	if err != nil {
		slog.Warn("oplog: audit marshal failed", "op", opID, "err", err)
		return
	}
	_, err = a.db.Exec(
		`INSERT INTO mutation_audit (operation_id, event_type, forward_patch, recorded_at) VALUES (?, ?, ?, ?)`,
		opID, string(eventType), string(patchJSON), at,
	)
	if err != nil {
		slog.Warn("oplog: audit insert failed", "op", opID, "err", err)
	}
}

// SetAuditSink attaches sink to l; every subsequent ApplyMutation also
// mirrors its forward patch to sink, best-effort.
func (l *OperationLog) SetAuditSink(sink *AuditSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audit = sink
}
