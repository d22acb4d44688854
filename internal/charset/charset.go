// Package charset converts text between character sets with a best-effort
// fallback chain for unknown and mislabeled charsets.
package charset

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	gmcharset "github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/fho/imap-attachments/internal/log"
	"github.com/fho/imap-attachments/internal/metrics"
	"github.com/fho/imap-attachments/internal/utf8fix"
)

// UTF8 is the default target charset.
const UTF8 = "UTF-8"

func init() {
	// mail clients use these labels for charsets that go-message only knows
	// under other names, or maps to a narrower table
	gmcharset.RegisterEncoding("windows-1252", charmap.Windows1252)
	gmcharset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	gmcharset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
	gmcharset.RegisterEncoding("cp1251", charmap.Windows1251)
	gmcharset.RegisterEncoding("cp866", charmap.CodePage866)
	gmcharset.RegisterEncoding("koi8-u", charmap.KOI8U)
	gmcharset.RegisterEncoding("x-mac-cyrillic", charmap.MacintoshCyrillic)
	gmcharset.RegisterEncoding("ks_c_5601-1987", korean.EUCKR)
	gmcharset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
}

var utf8Family = map[string]struct{}{
	"utf-8":             {},
	"utf8":              {},
	"unicode-1-1-utf-8": {},
	"us-ascii":          {},
	"ascii":             {},
	"ansi_x3.4-1968":    {},
}

// Normalize returns the lower-case form of a charset label without
// surrounding whitespace, quotes and an RFC 2231 language suffix
// ("utf-8*en").
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, `"'`)
	name, _, _ = strings.Cut(name, "*")
	return strings.ToLower(name)
}

// IsUTF8 reports whether name is a label of UTF-8 or one of its subsets.
func IsUTF8(name string) bool {
	_, ok := utf8Family[Normalize(name)]
	return ok
}

// Strategy converts a byte slice declared to be in charset from to UTF-8.
// Convert returns false when the strategy does not apply or failed.
type Strategy struct {
	Name    string
	Convert func(b []byte, from string) ([]byte, bool)
}

// Config configures a [Converter].
type Config struct {
	// Policy decides when a payload that declares a non UTF-8 charset is
	// treated as UTF-8.
	Policy Policy
	Logger *slog.Logger
}

// Converter converts text to a target charset by trying an ordered list of
// strategies. It never fails, the last resort is to treat the input as the
// target charset and replace invalid byte sequences.
// A Converter is safe for concurrent use.
type Converter struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewConverter returns a converter that tries, in order, UTF-8 repair for
// UTF-8 labeled input, the go-message charset table and the IANA charset
// index. cfg can be nil.
func NewConverter(cfg *Config) *Converter {
	if cfg == nil {
		cfg = &Config{}
	}

	return &Converter{
		logger: log.SloggerWithGroup(cfg.Logger, "charset"),
		strategies: []Strategy{
			{Name: "utf8", Convert: utf8Strategy(cfg.Policy)},
			{Name: "table", Convert: tableToUTF8},
			{Name: "iana", Convert: ianaToUTF8},
		},
	}
}

// WithStrategy returns a copy of the converter that tries s before all
// other strategies.
func (c *Converter) WithStrategy(s Strategy) *Converter {
	return &Converter{
		logger:     c.logger,
		strategies: append([]Strategy{s}, c.strategies...),
	}
}

// Convert converts b from charset from to charset to.
// An empty from is treated as UTF-8.
// Input that can not be converted is interpreted as being in the target
// charset, invalid UTF-8 sequences are replaced by "?".
func (c *Converter) Convert(b []byte, from, to string) string {
	if to == "" {
		to = UTF8
	}

	from = Normalize(from)

	for _, s := range c.strategies {
		res, ok := s.Convert(b, from)
		if !ok {
			continue
		}

		metrics.CharsetConversions.WithLabelValues(s.Name).Inc()
		return c.encode(res, to)
	}

	c.logger.Debug("no charset conversion applicable, interpreting as target charset",
		"charset.source", from,
		"charset.target", to,
		"event", "charset.fallback",
	)
	metrics.CharsetConversions.WithLabelValues("fallback").Inc()

	if IsUTF8(to) {
		return string(utf8fix.Fix(b))
	}

	return string(b)
}

// ToUTF8 is Convert with UTF-8 as target charset.
func (c *Converter) ToUTF8(b []byte, from string) string {
	return c.Convert(b, from, UTF8)
}

func (c *Converter) encode(utf8Text []byte, to string) string {
	if IsUTF8(to) {
		return string(utf8Text)
	}

	enc := lookup(Normalize(to))
	if enc == nil {
		c.logger.Debug("unknown target charset, returning utf-8",
			"charset.target", to,
			"event", "charset.unknown_target",
		)
		return string(utf8Text)
	}

	return encodeString(enc, string(utf8Text))
}

// encodeString encodes s with enc, runes that do not exist in the target
// charset are replaced by "?".
func encodeString(enc encoding.Encoding, s string) string {
	res, err := enc.NewEncoder().String(s)
	if err == nil {
		return res
	}

	var sb strings.Builder
	e := enc.NewEncoder()
	for _, r := range s {
		v, err := e.String(string(r))
		if err != nil {
			sb.WriteByte(utf8fix.Replacement)
			continue
		}
		sb.WriteString(v)
	}

	return sb.String()
}

func utf8Strategy(p Policy) func([]byte, string) ([]byte, bool) {
	return func(b []byte, from string) ([]byte, bool) {
		if from == "" || IsUTF8(from) {
			return utf8fix.Fix(b), true
		}

		if p == PolicyDetect && isUTF8Payload(b) {
			return b, true
		}

		return nil, false
	}
}

// isUTF8Payload reports whether b is valid UTF-8 and contains at least one
// multi-byte sequence.
func isUTF8Payload(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}

	for _, c := range b {
		if c >= utf8.RuneSelf {
			return true
		}
	}

	return false
}

func tableToUTF8(b []byte, from string) ([]byte, bool) {
	r, err := gmcharset.Reader(from, bytes.NewReader(b))
	if err != nil {
		return nil, false
	}

	res, err := io.ReadAll(r)
	if err != nil {
		return nil, false
	}

	return res, true
}

func ianaToUTF8(b []byte, from string) ([]byte, bool) {
	enc := lookup(from)
	if enc == nil {
		return nil, false
	}

	res, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return nil, false
	}

	return res, true
}

// Supported returns true if strings can be converted to the charset name.
func Supported(name string) bool {
	return IsUTF8(name) || lookup(Normalize(name)) != nil
}

// lookup returns the encoding for a normalized charset label or nil.
func lookup(name string) encoding.Encoding {
	for _, idx := range []*ianaindex.Index{ianaindex.MIME, ianaindex.IANA} {
		if enc, _ := idx.Encoding(name); enc != nil {
			return enc
		}
	}

	if enc, err := htmlindex.Get(name); err == nil {
		return enc
	}

	return nil
}

// Policy is the heuristic that decides when a payload is interpreted as
// UTF-8 although it declares another charset.
type Policy int

const (
	// PolicyDeclared trusts the declared charset, only payloads without a
	// charset or with a UTF-8 label are repaired as UTF-8.
	PolicyDeclared Policy = iota
	// PolicyDetect additionally treats every payload that is valid UTF-8
	// and contains non-ASCII characters as UTF-8.
	PolicyDetect
)

func (p Policy) String() string {
	switch p {
	case PolicyDeclared:
		return "declared"
	case PolicyDetect:
		return "detect"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the string representation of a [Policy].
// An empty string is [PolicyDeclared].
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "declared":
		return PolicyDeclared, nil
	case "detect":
		return PolicyDetect, nil
	default:
		return 0, fmt.Errorf("unsupported mislabeled utf-8 policy: %q", s)
	}
}
