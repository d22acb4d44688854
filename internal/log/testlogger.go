package log

import (
	"log/slog"
	"testing"
)

// SlogTestLogger returns a [*slog.Logger] instance that redirects it's output
// to the log of t. Debug messages are included.
func SlogTestLogger(t testing.TB) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(t.Output(), &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}),
	)
}
