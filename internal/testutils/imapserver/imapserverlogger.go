package imapserver

import "testing"

// imapServerLogger writes the log output of the IMAP server to the test log.
type imapServerLogger struct {
	t testing.TB
}

func (l *imapServerLogger) Printf(format string, args ...any) {
	l.t.Helper()
	l.t.Logf("imapserver: "+format, args...)
}

func testLoggerAsImapServerLogger(t testing.TB) *imapServerLogger {
	return &imapServerLogger{t: t}
}
