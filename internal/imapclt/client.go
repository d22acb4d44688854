package imapclt

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fho/imap-attachments/internal/log"
)

const (
	dialTimeout = 120 * time.Second
	lkMailbox   = "mailbox"
)

// Client is a read-only IMAP client that retrieves message structures and
// message parts.
// Fetch operations apply to the mailbox that was selected last via
// [Client.Select] or [Client.Structures].
type Client struct {
	clt    *imapclient.Client
	logger *slog.Logger

	mu       sync.Mutex
	selected string
}

type Config struct {
	// Address is the address of the IMAP server. If the port is "993" or
	// "imaps" an implicit TLS (SSL) is established.
	// Otherwise a explicitl TLS (STARTTLS) connection is established.
	Address  string
	User     string
	Password string
	// AllowInsecure enables falling back to establishing the
	// connection without encryption when the server does not support TLS
	AllowInsecure bool
	// LogIMAPData logs all data exchanged with the server with debug
	// level, including credentials.
	LogIMAPData bool
	Logger      *slog.Logger
}

// Connect establishes a connection with the IMAP server and returns a new
// Client.
func Connect(cfg *Config) (*Client, error) {
	result := newClient(cfg)

	opts := imapclient.Options{
		Dialer: &net.Dialer{Timeout: dialTimeout},
	}
	if cfg.LogIMAPData {
		opts.DebugWriter = NewDebugWriter(result.logger.WithGroup("data"))
	}

	clt, err := result.dial(cfg.Address, cfg.AllowInsecure, &opts)
	if err != nil {
		return nil, fmt.Errorf("establishing imap server connection failed: %w", err)
	}
	result.clt = clt

	if err := clt.Login(cfg.User, cfg.Password).Wait(); err != nil {
		_ = clt.Close()
		return nil, fmt.Errorf("login at imap server failed: %w", err)
	}

	result.logger.Info("connection established, authentication succeeded",
		"event", "imap.connection_established")

	return result, nil
}

func newClient(cfg *Config) *Client {
	result := Client{}
	result.logger = log.SloggerWithGroup(cfg.Logger, "imapclt")

	return &result
}

func (c *Client) Close() error {
	return c.clt.Close()
}

func (c *Client) dial(address string, allowInsecure bool, opts *imapclient.Options) (*imapclient.Client, error) {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("server", address).With("timeout", dialTimeout)

	if port == "993" || port == "imaps" {
		logger.Debug("connecting to imap server", "tlsmode", "implicit")
		return imapclient.DialTLS(address, opts)
	}

	logger.Debug("connecting to imap server", "tlsmode", "explicit")
	clt, err := imapclient.DialStartTLS(address, opts)
	if err != nil && allowInsecure && isStartTLSNotSupportedErr(err) {
		logger.Warn("establishing secure connection failed, connecting without encryption", "tlsmode", "none", "error", err)
		return imapclient.DialInsecure(address, opts)
	}

	return clt, err
}

func isStartTLSNotSupportedErr(err error) bool {
	var imapErr *imap.Error

	if errors.As(err, &imapErr) {
		return imapErr.Text == "STARTTLS not supported"
	}

	return false
}

// Select opens mailbox read-only. Subsequent fetch operations refer to
// messages in mailbox.
func (c *Client) Select(mailbox string) (*imap.SelectData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.clt.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		c.selected = ""
		return nil, fmt.Errorf("selecting mailbox %q failed: %w", mailbox, err)
	}

	c.selected = mailbox

	c.logger.Debug("selected mailbox",
		lkMailbox, mailbox,
		"count", d.NumMessages,
	)

	return d, nil
}

// Selected returns the name of the selected mailbox.
func (c *Client) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.selected
}

func asUIDSet(uids []uint32) imap.UIDSet {
	var result imap.UIDSet

	for _, uid := range uids {
		result.AddNum(imap.UID(uid))
	}
	return result
}
