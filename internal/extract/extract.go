// Package extract saves the attachments of all messages in an IMAP mailbox
// to a local directory.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fho/imap-attachments/internal/attachment"
	"github.com/fho/imap-attachments/internal/imapclt"
	"github.com/fho/imap-attachments/internal/log"
)

const dirPerm = 0o750

// Entry is an attachment that was found in the mailbox.
type Entry struct {
	UID     uint32
	Subject string
	PartID  string
	// Filename is the name of the file in the message directory.
	Filename string
	MIMEType string
	// Size is the transfer encoded size reported by the server, -1 if it
	// is unknown.
	Size int64
	// Path is the location of the saved file, it is empty if the
	// attachment was not saved.
	Path string
}

type Result struct {
	Messages int
	Entries  []*Entry
	Saved    int
	Failed   int
}

type Client struct {
	clt       IMAPClient
	logger    *slog.Logger
	mailbox   string
	outputDir string
	dryRun    bool
	attOpts   []attachment.Option
}

func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := log.EnsureLoggerInstance(cfg.Logger)

	opts := []attachment.Option{attachment.WithLogger(logger)}
	if cfg.Decoder != nil {
		opts = append(opts, attachment.WithDecoder(cfg.Decoder))
	}
	if cfg.SubjectLength > 0 {
		opts = append(opts, attachment.WithSubjectLength(cfg.SubjectLength))
	}

	return &Client{
		clt:       cfg.IMAPClient,
		logger:    logger,
		mailbox:   cfg.Mailbox,
		outputDir: cfg.OutputDir,
		dryRun:    cfg.DryRun,
		attOpts:   opts,
	}, nil
}

// Run processes all messages in the mailbox once.
// Attachments that can not be saved are skipped, their errors are returned
// together after all messages were processed.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	var result Result
	var errs []error

	logger := c.logger.With("mailbox.source", c.mailbox)
	logger.Info("checking mailbox for attachments", "dry_run", c.dryRun)

	for msg, err := range c.clt.Structures(c.mailbox) {
		if err != nil {
			errs = append(errs, fmt.Errorf("fetching message structures from imap mailbox failed: %w", err))
			return &result, errors.Join(errs...)
		}

		if err := ctx.Err(); err != nil {
			return &result, errors.Join(append(errs, context.Cause(ctx))...)
		}

		result.Messages++

		if err := c.processMessage(msg, &result); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info("mailbox processed",
		"event", "extract.finished",
		"messages", result.Messages,
		"attachments", len(result.Entries),
		"saved", result.Saved,
		"failed", result.Failed,
	)

	return &result, errors.Join(errs...)
}

func (c *Client) processMessage(msg *imapclt.Message, result *Result) error {
	var errs []error

	logger := c.logger.With("mail.subject", msg.Subject, "mail.uid", msg.UID)

	atts, err := attachment.FromMessage(c.clt, msg.UID, msg.Structure, c.attOpts...)
	if err != nil {
		result.Failed++
		return fmt.Errorf("message %d: %w", msg.UID, err)
	}

	if len(atts) == 0 {
		logger.Debug("message has no attachments")
		return nil
	}

	dir := filepath.Join(c.outputDir, strconv.FormatUint(uint64(msg.UID), 10))
	if !c.dryRun {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			result.Failed += len(atts)
			return fmt.Errorf("creating directory for message %d failed: %w", msg.UID, err)
		}
	}

	used := make(map[string]struct{}, len(atts))

	for _, a := range atts {
		name := uniqueFilename(a, used)
		size, ok := a.Size()
		if !ok {
			size = -1
		}

		entry := Entry{
			UID:      msg.UID,
			Subject:  msg.Subject,
			PartID:   a.PartID(),
			Filename: name,
			MIMEType: a.MIMEType(),
			Size:     size,
		}
		result.Entries = append(result.Entries, &entry)

		if c.dryRun {
			logger.Info("found attachment",
				"event", "attachment.found",
				"part", entry.PartID,
				"filename", entry.Filename,
				"mime_type", entry.MIMEType,
				"size", entry.Size,
			)
			continue
		}

		path := filepath.Join(dir, name)
		if err := a.SaveAs(path); err != nil {
			result.Failed++
			logger.Warn("saving attachment failed",
				"event", "attachment.save_failed",
				"part", entry.PartID,
				"path", path,
				"error", err,
			)
			errs = append(errs, fmt.Errorf(
				"saving attachment %s of message %d (%s) failed: %w",
				entry.PartID, msg.UID, msg.Subject, err,
			))
			continue
		}

		entry.Path = path
		result.Saved++
	}

	return errors.Join(errs...)
}

// uniqueFilename returns the name of the file an attachment is saved to.
// Attachments without a filename are named after their part ID, names that
// are already in use are prefixed with the part ID.
func uniqueFilename(a *attachment.Attachment, used map[string]struct{}) string {
	name, err := a.BaseFilename()
	if err != nil {
		name = "part-" + a.PartID()
	}

	if _, exists := used[name]; exists {
		name = a.PartID() + "-" + name
	}

	used[name] = struct{}{}

	return name
}
