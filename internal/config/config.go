package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/fho/imap-attachments/internal/charset"
)

const (
	defMailbox           = "INBOX"
	defSubjectNameLength = 50
)

type Config struct {
	ImapAddr     string
	ImapUser     string
	ImapPassword string
	// Mailbox is the mailbox that is searched for attachments.
	Mailbox string
	// OutputDir is the directory that attachments are saved to.
	OutputDir string
	// Charset is the charset of decoded filenames and subjects.
	Charset string
	// MislabeledUTF8 is the policy to handle UTF-8 data that declares a
	// different charset, "declared" or "detect".
	MislabeledUTF8 string
	// SubjectNameLength is the maximum number of subject characters that
	// are used as filename of embedded messages.
	SubjectNameLength int
	// HTTPListenAddr is the address the HTTP API listens on.
	HTTPListenAddr string
	LogIMAPData    bool
}

// credentialFields are the names of the credential files that are read by
// [Config.LoadCredentialsFromDirectory] and the fields they are stored in.
func (c *Config) credentialFields() map[string]*string {
	return map[string]*string{
		"ImapUser":     &c.ImapUser,
		"ImapPassword": &c.ImapPassword,
	}
}

func (c *Config) String() string {
	const unset = "UNSET"
	const hiddenPasswd = "***"
	var sb strings.Builder

	printKv := func(k string, v any) {
		fmt.Fprintf(&sb, "%-30v%-50v\n", k+":", v)
	}

	sb.WriteString("Configuration:\n")

	printKv("IMAP Server Address", c.ImapAddr)
	printKv("IMAP User", c.ImapUser)

	if c.ImapPassword == "" {
		printKv("IMAP Password", unset)
	} else {
		printKv("IMAP Password", hiddenPasswd)
	}

	printKv("Mailbox", c.Mailbox)
	printKv("Output Directory", c.OutputDir)
	printKv("Charset", c.Charset)
	printKv("Mislabeled UTF-8", c.MislabeledUTF8)
	printKv("Subject Name Length", c.SubjectNameLength)

	if c.HTTPListenAddr == "" {
		printKv("HTTP Listen Address", unset)
	} else {
		printKv("HTTP Listen Address", c.HTTPListenAddr)
	}

	printKv("Log IMAP Data", c.LogIMAPData)

	sb.WriteRune('\n')
	fmt.Fprintf(&sb, "Attachments of mails in %q are saved to %q.\n", c.Mailbox, c.OutputDir)
	fmt.Fprintf(&sb, "Filenames are converted to %s.\n", c.Charset)

	return sb.String()
}

func FromFile(path string) (*Config, error) {
	var result Config
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = toml.Unmarshal(buf, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Config) SetDefaults() {
	if c.Mailbox == "" {
		c.Mailbox = defMailbox
	}

	if c.Charset == "" {
		c.Charset = charset.UTF8
	}

	if c.MislabeledUTF8 == "" {
		c.MislabeledUTF8 = charset.PolicyDeclared.String()
	}

	if c.SubjectNameLength == 0 {
		c.SubjectNameLength = defSubjectNameLength
	}
}

// Validate returns an error if a required setting is missing or has an
// invalid value.
func (c *Config) Validate() error {
	var errs []error

	if c.ImapAddr == "" {
		errs = append(errs, errors.New("ImapAddr is not set"))
	}

	if c.ImapUser == "" {
		errs = append(errs, errors.New("ImapUser is not set"))
	}

	if c.Mailbox == "" {
		errs = append(errs, errors.New("Mailbox is not set"))
	}

	if _, err := c.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("MislabeledUTF8: %w", err))
	}

	if !charset.Supported(c.Charset) {
		errs = append(errs, fmt.Errorf("Charset: unsupported charset %q", c.Charset))
	}

	if c.SubjectNameLength < 0 {
		errs = append(errs, fmt.Errorf("SubjectNameLength must be >=0, is %d", c.SubjectNameLength))
	}

	return errors.Join(errs...)
}

// Policy returns the parsed MislabeledUTF8 setting.
func (c *Config) Policy() (charset.Policy, error) {
	return charset.ParsePolicy(c.MislabeledUTF8)
}

// LoadCredentialsFromDirectory reads credentials from files in dir, as
// provided by systemd's LoadCredential.
// The file name is the name of the config field, e.g. "ImapPassword".
// Missing files are skipped, trailing newlines are removed.
func (c *Config) LoadCredentialsFromDirectory(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("credentials directory: %w", err)
	}

	for name, field := range c.credentialFields() {
		buf, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("reading credential %s: %w", name, err)
		}

		if len(buf) == 0 {
			return fmt.Errorf("reading credential %s: file is empty", name)
		}

		*field = strings.TrimRight(string(buf), "\r\n")
	}

	return nil
}
