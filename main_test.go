package main

import "testing"

func TestEffectiveVersionPrefersExplicitValue(t *testing.T) {
	if got := effectiveVersion("v1.0.0"); got != "v1.0.0" {
		t.Fatalf("effectiveVersion(v1.0.0) = %q, want v1.0.0", got)
	}
}

func TestEffectiveVersionFallsBackOnDev(t *testing.T) {
	got := effectiveVersion("dev")
	if got == "" {
		t.Fatalf("expected a non-empty fallback version")
	}
}
