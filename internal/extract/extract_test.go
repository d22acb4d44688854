package extract

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fho/imap-attachments/internal/bodystructure"
	"github.com/fho/imap-attachments/internal/charset"
	"github.com/fho/imap-attachments/internal/imapclt"
	"github.com/fho/imap-attachments/internal/log"
	"github.com/fho/imap-attachments/internal/mimeword"
	"github.com/fho/imap-attachments/internal/testutils/imapserver"
	"github.com/fho/imap-attachments/internal/testutils/mail"
	"github.com/fho/imap-attachments/internal/testutils/mock"
)

func newIMAPClient(t *testing.T, srv *imapserver.Server) *imapclt.Client {
	t.Helper()

	clt, err := imapclt.Connect(&imapclt.Config{
		Address:       srv.ListenAddr,
		User:          srv.UserName,
		Password:      srv.UserPasswd,
		AllowInsecure: true,
		Logger:        log.SlogTestLogger(t),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = clt.Close() })

	return clt
}

func testClientCfg(t *testing.T, clt IMAPClient, mailbox string) *Config {
	return &Config{
		Mailbox:    mailbox,
		OutputDir:  t.TempDir(),
		Logger:     log.SlogTestLogger(t),
		IMAPClient: clt,
	}
}

func startServerClient(t *testing.T) (*imapserver.Server, *imapclt.Client) {
	srv := imapserver.StartServer(t)
	imapClt := newIMAPClient(t, srv)

	for _, path := range []string{mail.TestAttachmentsMailPath(t), mail.TestPlainMailPath(t)} {
		srv.Upload(t, path, srv.InboxMailbox)
	}

	return srv, imapClt
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestRun(t *testing.T) {
	srv, imapClt := startServerClient(t)

	cfg := testClientCfg(t, imapClt, srv.InboxMailbox)
	clt, err := NewClient(cfg)
	require.NoError(t, err)

	res, err := clt.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Messages)
	assert.Equal(t, 3, res.Saved)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Entries, 3)

	uid := res.Entries[0].UID
	dir := filepath.Join(cfg.OutputDir, strconv.FormatUint(uint64(uid), 10))

	for _, e := range res.Entries {
		assert.Equal(t, uid, e.UID)
		assert.Equal(t, mail.AttachmentsMailSubject, e.Subject)
		assert.Equal(t, filepath.Join(dir, e.Filename), e.Path)
	}

	assert.Equal(t, "2", res.Entries[0].PartID)
	assert.Equal(t, "Привет.pdf", res.Entries[0].Filename)
	assert.Equal(t, "application/pdf", res.Entries[0].MIMEType)
	assert.Equal(t, mail.AttachmentsMailPDF, readFile(t, res.Entries[0].Path))

	assert.Equal(t, "Grüße.txt", res.Entries[1].Filename)
	assert.Equal(t, mail.AttachmentsMailText, readFile(t, res.Entries[1].Path))

	assert.Equal(t, mail.AttachmentsMailEmbeddedName, res.Entries[2].Filename)
	embedded := readFile(t, res.Entries[2].Path)
	assert.Contains(t, embedded, "From: other@example.com")
	assert.Contains(t, embedded, "Forwarded body.")

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the message with attachments has a directory")
	assert.Equal(t, strconv.FormatUint(uint64(uid), 10), entries[0].Name())
}

func TestRun_DryRun(t *testing.T) {
	srv, imapClt := startServerClient(t)

	cfg := testClientCfg(t, imapClt, srv.InboxMailbox)
	cfg.DryRun = true

	clt, err := NewClient(cfg)
	require.NoError(t, err)

	res, err := clt.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Messages)
	assert.Zero(t, res.Saved)
	require.Len(t, res.Entries, 3)

	for _, e := range res.Entries {
		assert.Empty(t, e.Path)
		assert.NotEmpty(t, e.Filename)
	}

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_EmptyMailbox(t *testing.T) {
	srv, imapClt := startServerClient(t)

	clt, err := NewClient(testClientCfg(t, imapClt, srv.ArchiveMailbox))
	require.NoError(t, err)

	res, err := clt.Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, res.Messages)
	assert.Empty(t, res.Entries)
}

type fakeIMAPClient struct {
	*mock.Source
	msgs []*imapclt.Message
	err  error
}

func (f *fakeIMAPClient) Structures(string) iter.Seq2[*imapclt.Message, error] {
	return func(yield func(*imapclt.Message, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}

		for _, m := range f.msgs {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func namedLeaf(name string) *bodystructure.Part {
	var dispParams []bodystructure.Param
	if name != "" {
		dispParams = []bodystructure.Param{{Key: "filename", Value: name}}
	}

	return bodystructure.NewLeaf(bodystructure.Fields{
		Type:              "text",
		Subtype:           "plain",
		Encoding:          "7bit",
		Size:              4,
		Disposition:       "attachment",
		DispositionParams: dispParams,
	})
}

func TestRun_FilenameCollisions(t *testing.T) {
	src := mock.NewSource()
	src.Messages[3] = &mock.Message{
		Parts: map[string][]byte{"1": []byte("one"), "2": []byte("two"), "3": []byte("three")},
	}

	fake := fakeIMAPClient{
		Source: src,
		msgs: []*imapclt.Message{{
			UID:     3,
			Subject: "dups",
			Structure: bodystructure.NewMultipart(
				bodystructure.Fields{Subtype: "mixed"},
				namedLeaf("a.txt"),
				namedLeaf("dir/a.txt"),
				namedLeaf(""),
			),
		}},
	}

	cfg := testClientCfg(t, &fake, "INBOX")
	clt, err := NewClient(cfg)
	require.NoError(t, err)

	res, err := clt.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)

	dir := filepath.Join(cfg.OutputDir, "3")
	assert.Equal(t, "one", readFile(t, filepath.Join(dir, "a.txt")))
	assert.Equal(t, "two", readFile(t, filepath.Join(dir, "2-a.txt")))
	assert.Equal(t, "three", readFile(t, filepath.Join(dir, "part-3")))
}

func TestRun_SaveFailureContinues(t *testing.T) {
	src := mock.NewSource()
	src.Messages[1] = &mock.Message{Parts: map[string][]byte{"2": []byte("two")}}
	src.Messages[2] = &mock.Message{Parts: map[string][]byte{"1": []byte("one")}}

	fake := fakeIMAPClient{
		Source: src,
		msgs: []*imapclt.Message{
			{
				UID: 1,
				Structure: bodystructure.NewMultipart(
					bodystructure.Fields{Subtype: "mixed"},
					namedLeaf("missing.txt"),
					namedLeaf("ok.txt"),
				),
			},
			{UID: 2, Structure: namedLeaf("single.txt")},
		},
	}

	cfg := testClientCfg(t, &fake, "INBOX")
	clt, err := NewClient(cfg)
	require.NoError(t, err)

	res, err := clt.Run(t.Context())
	require.ErrorIs(t, err, mock.ErrNotFound)

	assert.Equal(t, 2, res.Saved)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "two", readFile(t, filepath.Join(cfg.OutputDir, "1", "ok.txt")))
	assert.Equal(t, "one", readFile(t, filepath.Join(cfg.OutputDir, "2", "single.txt")))
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "1", "missing.txt"))
}

func TestRun_StructuresFail(t *testing.T) {
	fake := fakeIMAPClient{Source: mock.NewSource(), err: errors.New("connection lost")}

	clt, err := NewClient(testClientCfg(t, &fake, "INBOX"))
	require.NoError(t, err)

	_, err = clt.Run(t.Context())
	require.ErrorIs(t, err, fake.err)
}

func TestRun_ContextCanceled(t *testing.T) {
	fake := fakeIMAPClient{
		Source: mock.NewSource(),
		msgs:   []*imapclt.Message{{UID: 1, Structure: namedLeaf("a.txt")}},
	}

	clt, err := NewClient(testClientCfg(t, &fake, "INBOX"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := clt.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Messages)
	assert.Empty(t, res.Entries)
	assert.Zero(t, fake.Calls("OpenPart"))
}

func TestNewClient_InvalidConfig(t *testing.T) {
	fake := fakeIMAPClient{Source: mock.NewSource()}

	cfg := testClientCfg(t, &fake, "")
	_, err := NewClient(cfg)
	require.Error(t, err)

	cfg = testClientCfg(t, nil, "INBOX")
	_, err = NewClient(cfg)
	require.Error(t, err)

	cfg = testClientCfg(t, &fake, "INBOX")
	cfg.OutputDir = filepath.Join(cfg.OutputDir, "missing")
	_, err = NewClient(cfg)
	require.Error(t, err)

	cfg.DryRun = true
	_, err = NewClient(cfg)
	require.NoError(t, err)
}

func runLegacyCharsetMail(t *testing.T, dec *mimeword.Decoder) *Result {
	t.Helper()

	srv := imapserver.StartServer(t)
	imapClt := newIMAPClient(t, srv)
	srv.Upload(t, mail.TestLegacyCharsetMailPath(t), srv.InboxMailbox)

	cfg := testClientCfg(t, imapClt, srv.InboxMailbox)
	cfg.DryRun = true
	cfg.Decoder = dec

	clt, err := NewClient(cfg)
	require.NoError(t, err)

	res, err := clt.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)

	assert.Equal(t, "2", res.Entries[0].PartID)
	assert.Equal(t, "3", res.Entries[1].PartID)

	return res
}

func TestRun_LegacyCharsetTarget(t *testing.T) {
	res := runLegacyCharsetMail(t, mimeword.NewDecoder(&mimeword.Config{
		Charset: "ISO-8859-1",
		Logger:  log.SlogTestLogger(t),
	}))

	assert.Equal(t, "Gr\xfc\xdfe.txt", res.Entries[0].Filename)
}

func TestRun_MislabeledUTF8(t *testing.T) {
	tcs := []struct {
		policy   charset.Policy
		expected string
	}{
		{policy: charset.PolicyDetect, expected: "Jørn.txt"},
		{policy: charset.PolicyDeclared, expected: "JÃ¸rn.txt"},
	}

	for _, tc := range tcs {
		t.Run(tc.policy.String(), func(t *testing.T) {
			res := runLegacyCharsetMail(t, mimeword.NewDecoder(&mimeword.Config{
				Converter: charset.NewConverter(&charset.Config{
					Policy: tc.policy,
					Logger: log.SlogTestLogger(t),
				}),
				Logger: log.SlogTestLogger(t),
			}))

			assert.Equal(t, "Grüße.txt", res.Entries[0].Filename)
			assert.Equal(t, tc.expected, res.Entries[1].Filename)
		})
	}
}
