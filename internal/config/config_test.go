package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fho/imap-attachments/internal/charset"
)

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ImapAddr = "imap.example.com:993"
ImapUser = "user"
ImapPassword = "secret"
Mailbox = "Archive"
OutputDir = "/var/lib/attachments"
Charset = "ISO-8859-1"
MislabeledUTF8 = "detect"
HTTPListenAddr = "localhost:8080"
`), 0o600))

	cfg, err := FromFile(path)
	require.NoError(t, err)

	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "imap.example.com:993", cfg.ImapAddr)
	assert.Equal(t, "Archive", cfg.Mailbox)
	assert.Equal(t, "/var/lib/attachments", cfg.OutputDir)
	assert.Equal(t, "ISO-8859-1", cfg.Charset)
	assert.Equal(t, 50, cfg.SubjectNameLength)
	assert.Equal(t, "localhost:8080", cfg.HTTPListenAddr)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, charset.PolicyDetect, p)
}

func TestFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`ImapAddr = `), 0o600))

	_, err := FromFile(path)
	require.Error(t, err)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, "INBOX", cfg.Mailbox)
	assert.Equal(t, charset.UTF8, cfg.Charset)
	assert.Equal(t, "declared", cfg.MislabeledUTF8)
	assert.Equal(t, 50, cfg.SubjectNameLength)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Charset:           "x-made-up",
		MislabeledUTF8:    "guess",
		SubjectNameLength: -1,
	}

	err := cfg.Validate()
	require.Error(t, err)

	for _, s := range []string{"ImapAddr", "ImapUser", "Mailbox", "MislabeledUTF8", "Charset", "SubjectNameLength"} {
		assert.Contains(t, err.Error(), s)
	}
}

func TestString_HidesPassword(t *testing.T) {
	cfg := Config{ImapPassword: "secret"}
	assert.NotContains(t, cfg.String(), "secret")
	assert.Contains(t, cfg.String(), "***")

	cfg.ImapPassword = ""
	assert.Contains(t, cfg.String(), "UNSET")
}

func TestLoadCredentialsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "ImapPassword"), []byte("secret123"), 0600)
	_ = os.WriteFile(filepath.Join(dir, "ImapUser"), []byte("testuser"), 0600)

	cfg := &Config{
		ImapAddr:     "imap.example.com:993",
		ImapPassword: "original",
	}

	err := cfg.LoadCredentialsFromDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, "secret123", cfg.ImapPassword)
	assert.Equal(t, "testuser", cfg.ImapUser)
	assert.Equal(t, "imap.example.com:993", cfg.ImapAddr)
}

func TestLoadCredentialsFromDirectory_MissingFilesSkipped(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "ImapUser"), []byte("user"), 0600)

	cfg := &Config{ImapPassword: "original"}

	err := cfg.LoadCredentialsFromDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, "user", cfg.ImapUser)
	assert.Equal(t, "original", cfg.ImapPassword)
}

func TestLoadCredentialsFromDirectory_DirNotExistsError(t *testing.T) {
	cfg := &Config{}
	err := cfg.LoadCredentialsFromDirectory("/nonexistent/path")
	require.Error(t, err)
	assert.Equal(t, "credentials directory: stat /nonexistent/path: no such file or directory", err.Error())
}

func TestLoadCredentialsFromDirectory_EmptyFileError(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "ImapPassword"), []byte(""), 0600)

	cfg := &Config{}
	err := cfg.LoadCredentialsFromDirectory(dir)
	require.Error(t, err)
	assert.Equal(t, "reading credential ImapPassword: file is empty", err.Error())
}

func TestLoadCredentialsFromDirectory_PreservesSpaces(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "ImapUser"), []byte(" spaces \nnewline\n"), 0600)
	_ = os.WriteFile(filepath.Join(dir, "ImapPassword"), []byte(" spaces \r\nnewline\n\r"), 0600)

	cfg := &Config{}
	err := cfg.LoadCredentialsFromDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, " spaces \nnewline", cfg.ImapUser)
	assert.Equal(t, " spaces \r\nnewline", cfg.ImapPassword)
}
