package cmd

import "testing"

func TestSetVersionUpdatesRootCommand(t *testing.T) {
	SetVersion("1.2.3")
	if versionStr != "1.2.3" {
		t.Fatalf("versionStr = %q, want 1.2.3", versionStr)
	}
	if rootCmd.Version != "1.2.3" {
		t.Fatalf("rootCmd.Version = %q, want 1.2.3", rootCmd.Version)
	}
}
