package extract

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"github.com/fho/imap-attachments/internal/attachment"
	"github.com/fho/imap-attachments/internal/imapclt"
	"github.com/fho/imap-attachments/internal/mimeword"
)

type IMAPClient interface {
	attachment.Source
	Structures(mailbox string) iter.Seq2[*imapclt.Message, error]
}

type Config struct {
	Mailbox string
	// OutputDir is the directory in that a subdirectory per message is
	// created, named like the message UID. It must exist.
	OutputDir string
	// DryRun only lists the attachments, nothing is written to
	// OutputDir.
	DryRun bool

	Decoder       *mimeword.Decoder
	SubjectLength int

	Logger     *slog.Logger
	IMAPClient IMAPClient
}

func (c *Config) validate() error {
	if c.Mailbox == "" {
		return errors.New("Mailbox can not be empty")
	}

	if c.IMAPClient == nil {
		return errors.New("IMAPClient can not be nil")
	}

	if c.SubjectLength < 0 {
		return errors.New("SubjectLength must be >=0")
	}

	if c.DryRun {
		return nil
	}

	fd, err := os.Stat(c.OutputDir)
	if err != nil {
		return fmt.Errorf("invalid OutputDir (%s): %w", c.OutputDir, err)
	}

	if !fd.IsDir() {
		return fmt.Errorf("specified OutputDir (%s) is not a directory", c.OutputDir)
	}

	return nil
}
