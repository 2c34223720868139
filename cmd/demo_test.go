package cmd

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestRunDemoCompletesWithoutError(t *testing.T) {
	demoAuditDB = ""
	if err := runDemo(demoCmd, nil); err != nil {
		t.Fatalf("runDemo: %v", err)
	}
}

func TestRunDemoWritesAuditTrail(t *testing.T) {
	demoAuditDB = t.TempDir() + "/audit.db"
	defer func() { demoAuditDB = "" }()

	if err := runDemo(demoCmd, nil); err != nil {
		t.Fatalf("runDemo with audit db: %v", err)
	}

	db, err := sql.Open("sqlite3", demoAuditDB)
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer db.Close()
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM mutation_audit`).Scan(&rows); err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if rows == 0 {
		t.Fatalf("expected runDemo to write audit rows, got none")
	}
}
