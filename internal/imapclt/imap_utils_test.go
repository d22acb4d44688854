package imapclt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fho/imap-attachments/internal/log"
	"github.com/fho/imap-attachments/internal/testutils/imapserver"
)

func testClientCfg(t *testing.T, srv *imapserver.Server) *Config {
	return &Config{
		Address:       srv.ListenAddr,
		User:          srv.UserName,
		Password:      srv.UserPasswd,
		AllowInsecure: true,
		LogIMAPData:   true,
		Logger:        log.SlogTestLogger(t),
	}
}

func startServerClient(t *testing.T) (*imapserver.Server, *Client) {
	srv := imapserver.StartServer(t)
	return srv, newTestClient(t, srv)
}

func newTestClient(t *testing.T, srv *imapserver.Server) *Client {
	t.Helper()

	clt, err := Connect(testClientCfg(t, srv))
	require.NoError(t, err)

	t.Logf("connection to imap server established successfully")

	t.Cleanup(func() { _ = clt.Close() })

	return clt
}
