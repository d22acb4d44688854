package imapserver

import (
	"errors"
	"net"
	"testing"

	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// Server is an in-memory IMAP server for tests.
type Server struct {
	UserName   string
	UserPasswd string
	ListenAddr string

	InboxMailbox   string
	ArchiveMailbox string

	srv *imapserver.Server
	ch  chan error
}

// StartServer starts an IMAP server listening on a random localhost port.
// The server is stopped when the test finishes.
func StartServer(t *testing.T) *Server {
	t.Helper()

	srv := Server{
		UserName:       "user",
		UserPasswd:     "none",
		ch:             make(chan error, 1),
		InboxMailbox:   "INBOX",
		ArchiveMailbox: "archive",
	}

	user := imapmemserver.NewUser(srv.UserName, srv.UserPasswd)
	createMailbox(t, user, srv.InboxMailbox)
	createMailbox(t, user, srv.ArchiveMailbox)

	msrv := imapmemserver.New()
	msrv.AddUser(user)

	srv.srv = imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return msrv.NewSession(), nil, nil
		},
		Logger:       testLoggerAsImapServerLogger(t),
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("creating listener failed: %s", err)
	}
	srv.ListenAddr = ln.Addr().String()

	go func() {
		srv.ch <- srv.srv.Serve(ln)
		close(srv.ch)
	}()

	t.Cleanup(func() { _ = srv.Close() })

	return &srv
}

func createMailbox(t *testing.T, user *imapmemserver.User, mailboxName string) {
	if err := user.Create(mailboxName, nil); err != nil {
		t.Fatalf("creating %s mailbox failed: %s", mailboxName, err)
	}
}

// Close stops the server, it can be called multiple times.
func (s *Server) Close() error {
	err := s.srv.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for chErr := range s.ch {
		if errors.Is(chErr, net.ErrClosed) {
			continue
		}
		err = errors.Join(err, chErr)
	}

	return err
}
