// Package attachment resolves and retrieves the attachments of messages
// stored on an IMAP server.
package attachment

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/fho/imap-attachments/internal/bodystructure"
	"github.com/fho/imap-attachments/internal/charset"
	"github.com/fho/imap-attachments/internal/log"
	"github.com/fho/imap-attachments/internal/metrics"
	"github.com/fho/imap-attachments/internal/mimeword"
)

const (
	// DefaultSubjectLength is the maximum number of characters of the
	// subject that is used as filename of embedded messages.
	DefaultSubjectLength = 50
	defaultMessageName   = "message.eml"
	defaultPartID        = "1"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Source retrieves raw message data from the mail server. part is an IMAP
// part identifier like "2.1".
type Source interface {
	// FetchPart returns the transfer encoded content of a part.
	FetchPart(uid uint32, part string) ([]byte, error)
	// FetchPartHeader returns the header of the message embedded at part.
	FetchPartHeader(uid uint32, part string) ([]byte, error)
	// FetchPartText returns the body of the message embedded at part.
	FetchPartText(uid uint32, part string) ([]byte, error)
	// FetchBody returns the body of the message without its header.
	FetchBody(uid uint32) ([]byte, error)
	// OpenPart returns a reader for the transfer encoded content of a part.
	OpenPart(uid uint32, part string) (io.ReadCloser, error)
}

type options struct {
	decoder       *mimeword.Decoder
	subjectLength int
	logger        *slog.Logger
}

// Option configures how an [Attachment] is created.
type Option func(*options)

// WithDecoder sets the decoder for header values. It defines the charset of
// filenames. Defaults to a UTF-8 decoder.
func WithDecoder(d *mimeword.Decoder) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// WithSubjectLength sets the maximum length of subjects that are used as
// filenames of embedded messages.
func WithSubjectLength(n int) Option {
	return func(o *options) {
		o.subjectLength = n
	}
}

// WithLogger sets the logger, by default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Attachment is a single attachment of a message.
// It is safe for concurrent use.
type Attachment struct {
	src    Source
	uid    uint32
	part   *bodystructure.Part
	partID string
	logger *slog.Logger

	filename    string
	hasFilename bool
	mimeType    string

	mu      sync.Mutex
	data    []byte
	fetched bool
}

// New returns the attachment stored in part of the message with the given
// uid. partID is the IMAP part identifier of part, it is empty if the
// attachment is the whole message body.
func New(src Source, uid uint32, part *bodystructure.Part, partID string, opts ...Option) (*Attachment, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: source is nil", ErrInvalidArgument)
	}
	if part == nil {
		return nil, fmt.Errorf("%w: part is nil", ErrInvalidArgument)
	}

	o := options{subjectLength: DefaultSubjectLength}
	for _, opt := range opts {
		opt(&o)
	}

	if o.decoder == nil {
		o.decoder = mimeword.NewDecoder(&mimeword.Config{Logger: o.logger})
	}

	a := Attachment{
		src:      src,
		uid:      uid,
		part:     part,
		partID:   partID,
		mimeType: part.MIMEType(),
		logger: log.SloggerWithGroup(o.logger, "attachment").With(
			"mail.uid", uid,
			"part", partID,
		),
	}

	a.filename, a.hasFilename = a.resolveFilename(o.decoder, o.subjectLength)

	return &a, nil
}

func (a *Attachment) resolveFilename(dec *mimeword.Decoder, subjectLen int) (string, bool) {
	params := a.part.ParamMap()

	for _, key := range []string{"filename", "name"} {
		if v, ok := dec.ExtendedParam(params, key); ok && v != "" {
			return v, true
		}
	}

	for _, key := range []string{"filename", "name"} {
		if v, ok := dec.Param(params, key); ok && v != "" {
			return v, true
		}
	}

	if a.partID != "" && a.part.IsEmbeddedMessage() {
		return a.embeddedMessageName(dec, subjectLen), true
	}

	return "", false
}

// embeddedMessageName returns "<subject>.eml" for an embedded message.
// If the subject can not be retrieved or the filenames are not UTF-8,
// [defaultMessageName] is returned.
func (a *Attachment) embeddedMessageName(dec *mimeword.Decoder, subjectLen int) string {
	if !charset.IsUTF8(dec.Charset()) {
		return defaultMessageName
	}

	hdr, err := a.src.FetchPartHeader(a.uid, a.partID)
	if err != nil {
		a.logger.Debug("fetching header of embedded message failed, using default name",
			"error", err)
		return defaultMessageName
	}

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(hdr)))
	if err != nil && h.Len() == 0 {
		a.logger.Debug("parsing header of embedded message failed, using default name",
			"error", err)
		return defaultMessageName
	}

	subject := dec.Subject(h.Get("Subject"), subjectLen)
	subject = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		default:
			return r
		}
	}, subject)

	if subject == "" {
		return defaultMessageName
	}

	return subject + ".eml"
}

// Filename returns the decoded filename of the attachment and false if it
// does not have one.
func (a *Attachment) Filename() (string, bool) {
	return a.filename, a.hasFilename
}

// MIMEType returns the lower-case "type/subtype" of the attachment.
func (a *Attachment) MIMEType() string {
	return a.mimeType
}

// Size returns the transfer encoded size of the attachment in bytes and
// false if it is unknown.
func (a *Attachment) Size() (int64, bool) {
	return a.part.Size()
}

// Structure returns the body structure of the attachment part.
func (a *Attachment) Structure() *bodystructure.Part {
	return a.part
}

// PartID returns the IMAP part identifier of the attachment, e.g. "2.1".
func (a *Attachment) PartID() string {
	return a.partID
}

// Data returns the decoded content of the attachment.
// For embedded messages the raw message, header and body, is returned.
// The content is retrieved from the server on the first successful call
// only.
func (a *Attachment) Data() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fetched {
		return a.data, nil
	}

	data, err := a.fetch()
	if err != nil {
		metrics.AttachmentFetches.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.AttachmentFetches.WithLabelValues("success").Inc()

	a.data = data
	a.fetched = true

	return a.data, nil
}

func (a *Attachment) fetch() ([]byte, error) {
	if a.partID == "" {
		body, err := a.src.FetchBody(a.uid)
		if err != nil {
			return nil, fmt.Errorf("fetching message body failed: %w", err)
		}

		return decodeAll(body, a.part.Encoding())
	}

	if a.part.IsEmbeddedMessage() {
		hdr, err := a.src.FetchPartHeader(a.uid, a.partID)
		if err != nil {
			return nil, fmt.Errorf("fetching header of embedded message failed: %w", err)
		}

		body, err := a.src.FetchPartText(a.uid, a.partID)
		if err != nil {
			return nil, fmt.Errorf("fetching body of embedded message failed: %w", err)
		}

		res := make([]byte, 0, len(hdr)+len(body))
		res = append(res, hdr...)
		return append(res, body...), nil
	}

	body, err := a.src.FetchPart(a.uid, a.partID)
	if err != nil {
		return nil, fmt.Errorf("fetching part failed: %w", err)
	}

	return decodeAll(body, a.part.Encoding())
}

func decodeAll(data []byte, enc bodystructure.Encoding) ([]byte, error) {
	r, err := decodingReader(bytes.NewReader(data), enc)
	if err != nil {
		return nil, err
	}

	res, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decoding %s content failed: %w", enc, err)
	}

	return res, nil
}

// decodingReader returns a reader that decodes the transfer encoding enc of
// the data read from r. Other encodings than base64 and quoted-printable
// are passed through.
func decodingReader(r io.Reader, enc bodystructure.Encoding) (io.Reader, error) {
	var hdr message.Header

	switch enc {
	case bodystructure.EncodingBase64, bodystructure.EncodingQuotedPrintable:
		hdr.Set("Content-Transfer-Encoding", string(enc))
	default:
		return r, nil
	}

	e, err := message.New(hdr, r)
	if err != nil {
		return nil, fmt.Errorf("creating %s decoder failed: %w", enc, err)
	}

	return e.Body, nil
}
