// Package mimeword decodes RFC 2047 encoded-words in header values and
// RFC 2231 extended MIME parameters.
package mimeword

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/fho/imap-attachments/internal/charset"
	"github.com/fho/imap-attachments/internal/utf8fix"
)

// Config configures a [Decoder].
type Config struct {
	// Charset is the charset of the decoded strings, defaults to UTF-8.
	Charset string
	// Converter is used to convert encoded-words to Charset. When it is
	// nil a converter with the default policy is used.
	Converter *charset.Converter
	// Logger is passed to the default converter.
	Logger *slog.Logger
}

// Decoder decodes header values into strings in a fixed target charset.
// Decoding never fails, malformed input is kept as literal text and
// undecodable bytes are replaced by "?".
// A Decoder is safe for concurrent use.
type Decoder struct {
	charset string
	conv    *charset.Converter
}

// NewDecoder returns a new Decoder, cfg can be nil.
func NewDecoder(cfg *Config) *Decoder {
	if cfg == nil {
		cfg = &Config{}
	}

	d := Decoder{
		charset: cfg.Charset,
		conv:    cfg.Converter,
	}

	if d.charset == "" {
		d.charset = charset.UTF8
	}

	if d.conv == nil {
		d.conv = charset.NewConverter(&charset.Config{Logger: cfg.Logger})
	}

	return &d
}

// Charset returns the target charset of the decoder.
func (d *Decoder) Charset() string {
	return d.charset
}

// token is either a literal segment of a header value or a decoded
// encoded-word.
type token struct {
	literal string

	encoded bool
	charset string
	enc     byte
	data    []byte
}

// Decode decodes all encoded-words in s and returns the result in the
// decoder's charset.
//
// Whitespace between two encoded-words is removed. Adjacent encoded-words
// with the same charset and encoding are joined before their bytes are
// converted, characters that are split across encoded-words are decoded
// correctly.
// Literal text is not charset converted, if the target charset is UTF-8
// invalid byte sequences in it are replaced.
func (d *Decoder) Decode(s string) string {
	if s == "" {
		return ""
	}

	if !strings.Contains(s, "=?") {
		return d.literal(s)
	}

	toks := tokenize(s)

	var sb strings.Builder
	var pending *token

	flush := func() {
		if pending == nil {
			return
		}

		sb.WriteString(d.conv.Convert(pending.data, pending.charset, d.charset))
		pending = nil
	}

	for i, tok := range toks {
		if !tok.encoded {
			if isSpace(tok.literal) && i+1 < len(toks) && toks[i+1].encoded {
				// whitespace between encoded-words, or folding
				// whitespace in front of the first one
				if i == 0 || toks[i-1].encoded {
					continue
				}
			}

			flush()
			sb.WriteString(d.literal(tok.literal))
			continue
		}

		if pending != nil && pending.charset == tok.charset && pending.enc == tok.enc {
			pending.data = append(pending.data, tok.data...)
			continue
		}

		flush()
		pending = &tok
	}

	flush()

	return sb.String()
}

// Subject decodes s, collapses runs of whitespace into a single space and
// truncates the result to maxLen characters. If maxLen is <=0 the result is
// not truncated.
func (d *Decoder) Subject(s string, maxLen int) string {
	s = strings.Join(strings.Fields(d.Decode(s)), " ")

	if maxLen <= 0 {
		return s
	}

	if !charset.IsUTF8(d.charset) {
		if len(s) > maxLen {
			return s[:maxLen]
		}
		return s
	}

	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}

	i := 0
	for n := 0; n < maxLen; n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}

	return strings.TrimRight(s[:i], " ")
}

func (d *Decoder) literal(s string) string {
	if charset.IsUTF8(d.charset) {
		return utf8fix.FixString(s)
	}

	return s
}

// tokenize splits s into literal segments and encoded-words. Encoded-words
// that are malformed or can not be transfer decoded become part of the
// surrounding literal text.
func tokenize(s string) []token {
	var result []token
	var lit strings.Builder

	for len(s) > 0 {
		start := strings.Index(s, "=?")
		if start == -1 {
			lit.WriteString(s)
			break
		}

		lit.WriteString(s[:start])
		s = s[start:]

		tok, n, ok := parseWord(s)
		if !ok {
			lit.WriteString("=?")
			s = s[2:]
			continue
		}

		if lit.Len() > 0 {
			result = append(result, token{literal: lit.String()})
			lit.Reset()
		}

		result = append(result, tok)
		s = s[n:]
	}

	if lit.Len() > 0 {
		result = append(result, token{literal: lit.String()})
	}

	return result
}

// parseWord parses the encoded-word at the start of s.
// It returns the token and the length of the encoded-word in s.
func parseWord(s string) (token, int, bool) {
	// =?charset?E?payload?=
	rest := s[2:]

	csEnd := strings.IndexByte(rest, '?')
	if csEnd <= 0 || strings.ContainsAny(rest[:csEnd], " \t\r\n") {
		return token{}, 0, false
	}
	cs := rest[:csEnd]
	rest = rest[csEnd+1:]

	if len(rest) < 2 || rest[1] != '?' {
		return token{}, 0, false
	}

	enc := upper(rest[0])
	if enc != 'B' && enc != 'Q' {
		return token{}, 0, false
	}
	rest = rest[2:]

	payloadEnd := strings.Index(rest, "?=")
	if payloadEnd == -1 {
		return token{}, 0, false
	}

	payload := rest[:payloadEnd]
	if strings.ContainsAny(payload, " \t\r\n") {
		return token{}, 0, false
	}

	var data []byte
	var ok bool
	if enc == 'B' {
		data, ok = decodeB(payload)
	} else {
		data = decodeQ(payload)
		ok = true
	}

	if !ok {
		return token{}, 0, false
	}

	n := 2 + csEnd + 1 + 2 + payloadEnd + 2

	return token{
		encoded: true,
		charset: charset.Normalize(cs),
		enc:     enc,
		data:    data,
	}, n, true
}

func decodeB(s string) ([]byte, bool) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, true
	}

	b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err == nil {
		return b, true
	}

	return nil, false
}

// decodeQ decodes the "Q" encoding. Invalid escape sequences are kept
// unchanged.
func decodeQ(s string) []byte {
	buf := make([]byte, 0, len(s))

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '_':
			buf = append(buf, ' ')

		case '=':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
				i += 2
				continue
			}
			buf = append(buf, c)

		default:
			buf = append(buf, c)
		}
	}

	return buf
}

func isSpace(s string) bool {
	return strings.TrimLeft(s, " \t\r\n") == ""
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
