package imapclt

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"time"
)

// DebugWriter logs the raw IMAP protocol data passed to Write with debug
// level.
type DebugWriter struct {
	l *slog.Logger
}

func NewDebugWriter(l *slog.Logger) *DebugWriter {
	return &DebugWriter{l: l}
}

func (w *DebugWriter) Write(p []byte) (n int, err error) {
	ctx := context.Background()
	if !w.l.Enabled(ctx, slog.LevelDebug) {
		return len(p), nil
	}

	var pcs [1]uintptr

	runtime.Callers(2, pcs[:])

	r := slog.NewRecord(time.Now(), slog.LevelDebug, string(bytes.TrimRight(p, "\r\n")), pcs[0])
	r.AddAttrs(slog.String("event", "imap.data"))

	err = w.l.Handler().Handle(ctx, r)
	if err != nil {
		return 0, err
	}

	return len(p), nil
}
