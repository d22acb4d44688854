package imapserver

import (
	"os"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Upload appends the message stored at path to mailbox, via a separate
// connection.
func (s *Server) Upload(t testing.TB, path, mailbox string) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s failed: %s", path, err)
	}

	clt, err := imapclient.DialInsecure(s.ListenAddr, nil)
	if err != nil {
		t.Fatalf("connecting to imap server failed: %s", err)
	}
	defer clt.Close()

	if err := clt.Login(s.UserName, s.UserPasswd).Wait(); err != nil {
		t.Fatalf("login failed: %s", err)
	}

	appendCmd := clt.Append(mailbox, int64(len(data)), &imap.AppendOptions{Time: time.Now()})
	if _, err := appendCmd.Write(data); err != nil {
		_ = appendCmd.Close()
		t.Fatalf("uploading %s failed: %s", path, err)
	}

	if err := appendCmd.Close(); err != nil {
		t.Fatalf("closing append command failed: %s", err)
	}

	if _, err := appendCmd.Wait(); err != nil {
		t.Fatalf("appending %s to %s failed: %s", path, mailbox, err)
	}

	if err := clt.Logout().Wait(); err != nil {
		t.Logf("logout failed: %s", err)
	}
}
