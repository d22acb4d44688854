package imapclt

import (
	"errors"
	"fmt"
	"iter"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fho/imap-attachments/internal/bodystructure"
)

// Message is the structure of a message in a mailbox.
type Message struct {
	UID uint32
	// Subject is the subject from the message envelope, as sent by the
	// server.
	Subject   string
	Structure *bodystructure.Part
}

// Structures selects mailbox and returns an iterator over the body
// structures of all messages in it.
// The parameters of parts with a filename are the undecoded values from
// their MIME header.
// When an error happens a nil message and an error is passed via the yield
// function.
func (c *Client) Structures(mailbox string) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		logger := c.logger.With(lkMailbox, mailbox)

		mbox, err := c.Select(mailbox)
		if err != nil {
			yield(nil, err)
			return
		}

		if mbox.NumMessages == 0 {
			logger.Debug("mailbox is empty", "event", "imap.mailbox_empty")
			return
		}

		msgs, err := c.fetchStructures()
		if err != nil {
			yield(nil, err)
			return
		}

		// the mime headers can only be fetched after the structure fetch
		// command finished
		for _, msg := range msgs {
			msg, err := c.withRawParams(msg)
			if !yield(msg, err) {
				return
			}
		}
	}
}

// fetchStructures returns the structures of all messages in the selected
// mailbox.
func (c *Client) fetchStructures() ([]*Message, error) {
	//nolint:prealloc // number of mails is unknown before iterating
	var msgs []*Message

	n := imap.SeqSet{}
	n.AddRange(1, 0)

	fetchCmd := c.clt.Fetch(n, &imap.FetchOptions{
		Envelope:      true,
		UID:           true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	})

	for {
		msg, err := c.fetchNextStructure(fetchCmd)
		if err != nil {
			return nil, errors.Join(err, fetchCmd.Close())
		}

		if msg == nil {
			break
		}

		msgs = append(msgs, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching message structures failed: %w", err)
	}

	return msgs, nil
}

// fetchNextStructure calls Next() and returns the message as [Message].
// When there is no next message nil,nil is returned.
func (c *Client) fetchNextStructure(fetchCmd *imapclient.FetchCommand) (*Message, error) {
	msgData := fetchCmd.Next()
	if msgData == nil {
		return nil, nil
	}

	msg, err := msgData.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message failed: %w", err)
	}

	m, err := toMessage(msg)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched message structure",
		"mail.uid", m.UID,
		"mail.subject", m.Subject,
		"mime_type", m.Structure.MIMEType(),
	)

	return m, nil
}

func toMessage(msg *imapclient.FetchMessageBuffer) (*Message, error) {
	if msg.UID == 0 {
		return nil, fmt.Errorf("message uid is 0")
	}

	if msg.BodyStructure == nil {
		return nil, &MalformedMessageError{UID: uint32(msg.UID), Reason: "body structure is missing"}
	}

	structure := bodystructure.FromIMAP(msg.BodyStructure)
	if structure == nil {
		return nil, &MalformedMessageError{UID: uint32(msg.UID), Reason: "unsupported body structure"}
	}

	var subject string
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}

	return &Message{
		UID:       uint32(msg.UID),
		Subject:   subject,
		Structure: structure,
	}, nil
}

// Structure returns the body structure of the message with the given uid in
// the selected mailbox, parameters are resolved like in [Client.Structures].
func (c *Client) Structure(uid uint32) (*Message, error) {
	msgs, err := c.clt.Fetch(asUIDSet([]uint32{uid}), &imap.FetchOptions{
		Envelope:      true,
		UID:           true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching body structure of message %d failed: %w", uid, err)
	}

	if len(msgs) == 0 {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}

	msg, err := toMessage(msgs[0])
	if err != nil {
		return nil, err
	}

	return c.withRawParams(msg)
}
