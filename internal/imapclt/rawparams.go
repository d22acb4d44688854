package imapclt

import (
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/fho/imap-attachments/internal/bodystructure"
)

// mimeHeaderSection returns the section that contains the header fields of
// the part partID of a message with the body structure root.
func mimeHeaderSection(root *bodystructure.Part, partID string) (*imap.FetchItemBodySection, error) {
	// the header of a single part message is the message header
	if root.Kind() != bodystructure.KindMultipart && partID == "1" {
		return &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}, nil
	}

	return bodySection(partID, imap.PartSpecifierMIME)
}

// withRawParams replaces the parameters of the attachment parts that have
// a filename with the parameters from their MIME header.
// The parameters of the BODYSTRUCTURE response are decoded by imapclient,
// the header values are passed on undecoded.
func (c *Client) withRawParams(m *Message) (*Message, error) {
	var (
		ids      []string
		sections []*imap.FetchItemBodySection
	)

	for _, l := range m.Structure.Attachments() {
		if !l.Part.HasFilename() {
			continue
		}

		section, err := mimeHeaderSection(m.Structure, l.PartID)
		if err != nil {
			return nil, err
		}

		ids = append(ids, l.PartID)
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		return m, nil
	}

	msgs, err := c.clt.Fetch(asUIDSet([]uint32{m.UID}), &imap.FetchOptions{
		UID:         true,
		BodySection: sections,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching mime headers of message %d failed: %w", m.UID, err)
	}

	if len(msgs) == 0 {
		return nil, fmt.Errorf("uid %d: %w", m.UID, ErrMessageNotFound)
	}

	replacements := make(map[string][]bodystructure.Param, len(ids))

	for i, section := range sections {
		logger := c.logger.With("mail.uid", m.UID, "part", ids[i])

		data := msgs[0].FindBodySection(section)
		if data == nil {
			logger.Debug("mime header missing in response, keeping body structure parameters")
			continue
		}

		params, err := bodystructure.ParamsFromHeader(data)
		if err != nil {
			logger.Debug("parsing mime header failed, keeping body structure parameters", "error", err)
			continue
		}

		if !bodystructure.HasFilenameParam(params) {
			logger.Debug("mime header has no filename, keeping body structure parameters")
			continue
		}

		replacements[ids[i]] = params
	}

	return &Message{
		UID:       m.UID,
		Subject:   m.Subject,
		Structure: m.Structure.WithParams(replacements),
	}, nil
}
