// Package bodystructure describes the MIME structure of a message as
// reported by the IMAP BODYSTRUCTURE fetch item.
package bodystructure

import (
	"slices"
	"strings"
)

// Kind discriminates the variants of a [Part].
type Kind int

const (
	KindLeaf Kind = iota
	KindMultipart
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindMultipart:
		return "multipart"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

type MediaType string

const (
	TypeText        MediaType = "text"
	TypeMultipart   MediaType = "multipart"
	TypeMessage     MediaType = "message"
	TypeApplication MediaType = "application"
	TypeAudio       MediaType = "audio"
	TypeImage       MediaType = "image"
	TypeVideo       MediaType = "video"
	TypeModel       MediaType = "model"
	TypeOther       MediaType = "other"
)

// ParseMediaType returns the MediaType for the primary type s, unknown
// types are [TypeOther].
func ParseMediaType(s string) MediaType {
	switch t := MediaType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeText, TypeMultipart, TypeMessage, TypeApplication,
		TypeAudio, TypeImage, TypeVideo, TypeModel:
		return t
	default:
		return TypeOther
	}
}

// Encoding is a Content-Transfer-Encoding.
type Encoding string

const (
	Encoding7Bit            Encoding = "7bit"
	Encoding8Bit            Encoding = "8bit"
	EncodingBinary          Encoding = "binary"
	EncodingBase64          Encoding = "base64"
	EncodingQuotedPrintable Encoding = "quoted-printable"
	EncodingOther           Encoding = "other"
)

// ParseEncoding returns the Encoding for s, an empty s is [Encoding7Bit].
func ParseEncoding(s string) Encoding {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return Encoding7Bit
	case Encoding7Bit, Encoding8Bit, EncodingBinary, EncodingBase64, EncodingQuotedPrintable:
		return e
	default:
		return EncodingOther
	}
}

// Param is a Content-Type or Content-Disposition parameter.
type Param struct {
	Key   string
	Value string
}

// Fields are the attributes of a part that are shared by all variants.
type Fields struct {
	Type     string
	Subtype  string
	Encoding string
	// Size is the size of the encoded body in bytes, -1 if unknown.
	Size              int64
	Params            []Param
	Disposition       string
	DispositionParams []Param
}

// Part is a node of the body structure tree.
// A Part is immutable, accessors return copies.
type Part struct {
	kind        Kind
	typ         string
	subtype     string
	encoding    Encoding
	size        int64
	params      []Param
	disposition string
	children    []*Part
	message     *Part
}

func newPart(kind Kind, f *Fields) *Part {
	p := Part{
		kind:        kind,
		typ:         strings.ToLower(strings.TrimSpace(f.Type)),
		subtype:     strings.ToLower(strings.TrimSpace(f.Subtype)),
		encoding:    ParseEncoding(f.Encoding),
		size:        f.Size,
		disposition: strings.ToLower(strings.TrimSpace(f.Disposition)),
	}

	if p.size < 0 {
		p.size = -1
	}

	p.params = make([]Param, 0, len(f.DispositionParams)+len(f.Params))
	for _, prm := range f.DispositionParams {
		p.params = append(p.params, Param{Key: strings.ToLower(prm.Key), Value: prm.Value})
	}
	for _, prm := range f.Params {
		p.params = append(p.params, Param{Key: strings.ToLower(prm.Key), Value: prm.Value})
	}

	return &p
}

// NewLeaf returns a part that is neither multipart nor an embedded message.
func NewLeaf(f Fields) *Part {
	return newPart(KindLeaf, &f)
}

// NewMultipart returns a multipart/<f.Subtype> part with the given
// children. f.Type is ignored.
func NewMultipart(f Fields, children ...*Part) *Part {
	f.Type = string(TypeMultipart)
	p := newPart(KindMultipart, &f)
	p.children = slices.Clone(children)

	return p
}

// NewMessage returns an embedded message part, embedded is the structure of
// the message's body and can be nil. An empty f.Subtype defaults to rfc822.
func NewMessage(f Fields, embedded *Part) *Part {
	f.Type = string(TypeMessage)
	if f.Subtype == "" {
		f.Subtype = "rfc822"
	}

	p := newPart(KindMessage, &f)
	p.message = embedded

	return p
}

func (p *Part) Kind() Kind {
	return p.kind
}

// Type returns the primary media type.
func (p *Part) Type() MediaType {
	return ParseMediaType(p.typ)
}

// Subtype returns the lower-case media subtype.
func (p *Part) Subtype() string {
	return p.subtype
}

// MIMEType returns the lower-case "type/subtype" of the part. Unknown
// primary types are returned as reported by the server.
func (p *Part) MIMEType() string {
	typ := p.typ
	if typ == "" {
		typ = string(TypeText)
	}

	if p.subtype == "" {
		return typ
	}

	return typ + "/" + p.subtype
}

func (p *Part) Encoding() Encoding {
	return p.encoding
}

// Size returns the size of the encoded part in bytes and false if it is
// unknown.
func (p *Part) Size() (int64, bool) {
	return p.size, p.size >= 0
}

// Disposition returns the lower-case Content-Disposition value, e.g.
// "attachment" or "inline", or an empty string.
func (p *Part) Disposition() string {
	return p.disposition
}

// Params returns the parameters of the part, Content-Disposition parameters
// come first. Keys are lower-case.
func (p *Part) Params() []Param {
	return slices.Clone(p.params)
}

// Param returns the value of the first parameter with the given key, key is
// matched case-insensitive.
func (p *Part) Param(key string) (string, bool) {
	for _, prm := range p.params {
		if strings.EqualFold(prm.Key, key) {
			return prm.Value, true
		}
	}

	return "", false
}

// ParamMap returns the parameters as map, if a key exists multiple times the
// first value is used.
func (p *Part) ParamMap() map[string]string {
	res := make(map[string]string, len(p.params))
	for _, prm := range p.params {
		if _, exists := res[prm.Key]; !exists {
			res[prm.Key] = prm.Value
		}
	}

	return res
}

// Children returns the sub-parts of a multipart part.
func (p *Part) Children() []*Part {
	return slices.Clone(p.children)
}

// Message returns the structure of the embedded message body, it is nil
// for parts that are not [KindMessage] or when the server did not report it.
func (p *Part) Message() *Part {
	return p.message
}

// IsEmbeddedMessage returns true if the part is a message/rfc822 or
// message/global part.
func (p *Part) IsEmbeddedMessage() bool {
	return p.kind == KindMessage && (p.subtype == "rfc822" || p.subtype == "global")
}

// HasFilename returns true if the part has a filename or name parameter,
// in plain or RFC 2231 form.
func (p *Part) HasFilename() bool {
	return HasFilenameParam(p.params)
}

// HasFilenameParam returns true if params contains a filename or name
// parameter, in plain or RFC 2231 form. Keys must be lower-case.
func HasFilenameParam(params []Param) bool {
	for _, prm := range params {
		if isNameKey(prm.Key, "filename") || isNameKey(prm.Key, "name") {
			return true
		}
	}

	return false
}

// isNameKey returns true if key is name or one of its RFC 2231 forms
// (name*, name*0, name*0*, ...).
func isNameKey(key, name string) bool {
	if key == name {
		return true
	}

	rest, ok := strings.CutPrefix(key, name+"*")
	if !ok {
		return false
	}

	rest = strings.TrimSuffix(rest, "*")
	for _, c := range rest {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}
