// Package log provides helpers to pass optional [*slog.Logger] instances
// around.
package log

import "log/slog"

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// SloggerWithGroup returns the logger with the given group, if logger is not
// nil.
// Otherwise it returns a new logger that discards all output.
func SloggerWithGroup(logger *slog.Logger, group string) *slog.Logger {
	if logger == nil {
		return discardLogger()
	}

	return logger.WithGroup(group)
}

// EnsureLoggerInstance returns logger if it is not nil, otherwise a logger
// that discards all output.
func EnsureLoggerInstance(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return discardLogger()
	}

	return logger
}
