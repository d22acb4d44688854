package bodystructure

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// ParamsFromHeader returns the Content-Disposition and Content-Type
// parameters of the MIME header of a part, disposition parameters first.
// Values are returned as they appear in the header, encoded-words and
// RFC 2231 encodings are not decoded and continuations are not joined.
func ParamsFromHeader(raw []byte) ([]Param, error) {
	switch {
	case bytes.HasSuffix(raw, []byte("\n\n")), bytes.HasSuffix(raw, []byte("\r\n\r\n")):
	case bytes.HasSuffix(raw, []byte("\n")):
		raw = append(bytes.Clone(raw), "\r\n"...)
	default:
		raw = append(bytes.Clone(raw), "\r\n\r\n"...)
	}

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("parsing mime header failed: %w", err)
	}

	_, disp := SplitHeaderValue(h.Get("Content-Disposition"))
	_, ct := SplitHeaderValue(h.Get("Content-Type"))

	return append(disp, ct...), nil
}

// SplitHeaderValue splits a Content-Type or Content-Disposition header
// value into the lower-case value and its parameters. Quoted parameter
// values are unquoted, nothing else is decoded. Parameters without a key or
// "=" are skipped.
func SplitHeaderValue(v string) (string, []Param) {
	value, rest, _ := cutUnquoted(v, ';')
	value = strings.ToLower(strings.TrimSpace(value))

	var params []Param
	for rest != "" {
		var field string
		field, rest, _ = cutUnquoted(rest, ';')

		key, val, ok := strings.Cut(field, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			continue
		}

		params = append(params, Param{Key: key, Value: unquote(strings.TrimSpace(val))})
	}

	return value, params
}

// cutUnquoted slices s around the first sep that is not part of a quoted
// string.
func cutUnquoted(s string, sep byte) (before, after string, found bool) {
	inQuotes := false

	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && inQuotes:
			i++
		case c == '"':
			inQuotes = !inQuotes
		case c == sep && !inQuotes:
			return s[:i], s[i+1:], true
		}
	}

	return s, "", false
}

// unquote removes the quotes of an RFC 2045 quoted-string and resolves
// backslash escapes. Values that are not quoted are returned unchanged.
func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' {
		return s
	}

	s = strings.TrimSuffix(s[1:], `"`)

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}

	return sb.String()
}

// WithParams returns a copy of p in which the parameters of the parts
// identified by the keys of params are replaced. The identifiers are the
// ones passed to the [WalkFunc] by [Part.Walk]. The body of an embedded
// message shares the identifier with its message part, only the message
// part is replaced.
func (p *Part) WithParams(params map[string][]Param) *Part {
	if len(params) == 0 {
		return p
	}

	if p.kind == KindMultipart {
		return p.withParams("", params, true)
	}

	return p.withParams("1", params, true)
}

func (p *Part) withParams(id string, params map[string][]Param, replace bool) *Part {
	c := *p

	if prms, ok := params[id]; ok && replace {
		c.params = make([]Param, 0, len(prms))
		for _, prm := range prms {
			c.params = append(c.params, Param{Key: strings.ToLower(prm.Key), Value: prm.Value})
		}
	}

	switch p.kind {
	case KindMultipart:
		c.children = make([]*Part, 0, len(p.children))
		for i, child := range p.children {
			c.children = append(c.children, child.withParams(childID(id, i+1), params, true))
		}

	case KindMessage:
		if p.message == nil {
			break
		}

		if p.message.kind == KindMultipart {
			c.message = p.message.withParams(id, params, false)
			break
		}
		c.message = p.message.withParams(childID(id, 1), params, true)
	}

	return &c
}
