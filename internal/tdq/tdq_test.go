package tdq

import (
	"testing"

	"github.com/marcus/livecache/internal/model"
)

func TestCompileEqualityMatch(t *testing.T) {
	matcher, err := Compile(`status = "open"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !matcher(model.Record{"status": "open"}) {
		t.Fatalf("expected status=open to match")
	}
	if matcher(model.Record{"status": "closed"}) {
		t.Fatalf("expected status=closed to not match")
	}
}

func TestCompileAndOrPrecedence(t *testing.T) {
	matcher, err := Compile(`status = "open" AND priority > 2 OR status = "urgent"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !matcher(model.Record{"status": "open", "priority": 3}) {
		t.Fatalf("expected open+priority>2 to match")
	}
	if matcher(model.Record{"status": "open", "priority": 1}) {
		t.Fatalf("expected open+priority<=2 to not match")
	}
	if !matcher(model.Record{"status": "urgent", "priority": 0}) {
		t.Fatalf("expected OR branch status=urgent to match regardless of priority")
	}
}

func TestCompileNot(t *testing.T) {
	matcher, err := Compile(`NOT status = "closed"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if matcher(model.Record{"status": "closed"}) {
		t.Fatalf("expected NOT to exclude closed")
	}
	if !matcher(model.Record{"status": "open"}) {
		t.Fatalf("expected NOT to include open")
	}
}

func TestCompileParentheses(t *testing.T) {
	matcher, err := Compile(`(status = "open" OR status = "blocked") AND priority >= 5`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !matcher(model.Record{"status": "blocked", "priority": 5}) {
		t.Fatalf("expected grouped OR with priority>=5 to match")
	}
	if matcher(model.Record{"status": "blocked", "priority": 4}) {
		t.Fatalf("expected priority<5 to not match")
	}
}

func TestCompileIn(t *testing.T) {
	matcher, err := Compile(`status IN ("open", "blocked")`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !matcher(model.Record{"status": "blocked"}) {
		t.Fatalf("expected IN list membership to match")
	}
	if matcher(model.Record{"status": "closed"}) {
		t.Fatalf("expected non-member to not match")
	}
}

func TestCompileContains(t *testing.T) {
	matcher, err := Compile(`name ~ "widget"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !matcher(model.Record{"name": "Third Widget"}) {
		t.Fatalf("expected case-insensitive substring match")
	}
	if matcher(model.Record{"name": "gadget"}) {
		t.Fatalf("expected non-substring to not match")
	}
}

func TestCompileEmptyQueryMatchesEverything(t *testing.T) {
	matcher, err := Compile("")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !matcher(model.Record{"anything": "goes"}) {
		t.Fatalf("expected empty query to match everything")
	}
}

func TestParseErrorsOnUnterminatedString(t *testing.T) {
	_, err := Compile(`name = "unterminated`)
	if err == nil {
		t.Fatalf("expected an error for an unterminated string literal")
	}
}

func TestParseErrorsOnTrailingTokens(t *testing.T) {
	_, err := Compile(`status = "open" )`)
	if err == nil {
		t.Fatalf("expected an error for unbalanced trailing paren")
	}
}

func TestNumericComparisonOperators(t *testing.T) {
	matcher, err := Compile(`points <= 10`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !matcher(model.Record{"points": 10}) {
		t.Fatalf("expected points=10 to satisfy <=10")
	}
	if matcher(model.Record{"points": 11}) {
		t.Fatalf("expected points=11 to fail <=10")
	}
}
