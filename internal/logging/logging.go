// Package logging configures the process-wide slog default handler, the way
// the teacher's cmd package redirects slog to a file when TD_LOG_FILE is
// set, instead of threading a logger through every constructor.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler at level (debug/info/warn/error, case
// insensitive; unrecognized values fall back to info) as the slog default.
// If path is non-empty, output goes there (append mode) instead of stderr;
// the caller is responsible for closing the returned file, if any.
func Setup(level, path string) *os.File {
	var out *os.File = os.Stderr
	var file *os.File

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = f
			file = f
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: levelFor(level),
	})))
	return file
}

func levelFor(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
