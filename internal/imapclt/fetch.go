package imapclt

import (
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fho/imap-attachments/internal/attachment"
	"github.com/fho/imap-attachments/internal/bodystructure"
)

var _ attachment.Source = (*Client)(nil)

// bodySection returns the section BODY.PEEK[part.specifier].
func bodySection(part string, specifier imap.PartSpecifier) (*imap.FetchItemBodySection, error) {
	section := imap.FetchItemBodySection{
		Specifier: specifier,
		Peek:      true,
	}

	if part != "" {
		p, err := bodystructure.ParsePartID(part)
		if err != nil {
			return nil, err
		}
		section.Part = p
	}

	return &section, nil
}

func (c *Client) fetchSection(uid uint32, part string, specifier imap.PartSpecifier) ([]byte, error) {
	section, err := bodySection(part, specifier)
	if err != nil {
		return nil, err
	}

	msgs, err := c.clt.Fetch(asUIDSet([]uint32{uid}), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching message %d failed: %w", uid, err)
	}

	if len(msgs) == 0 {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}

	data := msgs[0].FindBodySection(section)
	if data == nil {
		return nil, &MalformedMessageError{UID: uid, Part: part, Reason: "body section is missing"}
	}

	c.logger.Debug("fetched body section",
		"mail.uid", uid,
		"part", part,
		"specifier", specifier,
		"size", len(data),
	)

	return data, nil
}

// FetchPart returns the transfer encoded content of part.
func (c *Client) FetchPart(uid uint32, part string) ([]byte, error) {
	return c.fetchSection(uid, part, imap.PartSpecifierNone)
}

// FetchPartHeader returns the header of the message embedded at part.
func (c *Client) FetchPartHeader(uid uint32, part string) ([]byte, error) {
	return c.fetchSection(uid, part, imap.PartSpecifierHeader)
}

// FetchPartText returns the body of the message embedded at part.
func (c *Client) FetchPartText(uid uint32, part string) ([]byte, error) {
	return c.fetchSection(uid, part, imap.PartSpecifierText)
}

// FetchBody returns the body of the message without its header.
func (c *Client) FetchBody(uid uint32) ([]byte, error) {
	return c.fetchSection(uid, "", imap.PartSpecifierText)
}

// OpenPart returns a reader for the transfer encoded content of part.
// The reader streams the data from the connection, no other commands can be
// sent until it was closed.
func (c *Client) OpenPart(uid uint32, part string) (io.ReadCloser, error) {
	section, err := bodySection(part, imap.PartSpecifierNone)
	if err != nil {
		return nil, err
	}

	fetchCmd := c.clt.Fetch(asUIDSet([]uint32{uid}), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, fmt.Errorf("fetching message %d failed: %w", uid, err)
		}
		return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		data, ok := item.(imapclient.FetchItemDataBodySection)
		if !ok || data.Literal == nil {
			continue
		}

		return &partReader{r: data.Literal, cmd: fetchCmd}, nil
	}

	return nil, errors.Join(
		&MalformedMessageError{UID: uid, Part: part, Reason: "body section is missing"},
		fetchCmd.Close(),
	)
}

// partReader reads a literal of a fetch command, closing it releases the
// command.
type partReader struct {
	r   io.Reader
	cmd *imapclient.FetchCommand
}

func (r *partReader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

func (r *partReader) Close() error {
	return r.cmd.Close()
}
