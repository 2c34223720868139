package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLevelFor(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"nope":  slog.LevelInfo,
	}
	for input, want := range cases {
		if got := levelFor(input); got != want {
			t.Fatalf("levelFor(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestSetupRedirectsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	f := Setup("info", path)
	if f == nil {
		t.Fatalf("expected Setup to return the opened file")
	}
	defer f.Close()

	slog.Info("hello")
	f.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output written to file")
	}
}

func TestSetupDefaultsToStderrOnEmptyPath(t *testing.T) {
	f := Setup("info", "")
	if f != nil {
		t.Fatalf("expected nil file when path is empty, got %v", f)
	}
}
