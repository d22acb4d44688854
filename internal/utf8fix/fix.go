// Package utf8fix repairs malformed UTF-8 byte sequences.
package utf8fix

import "unicode/utf8"

// Replacement is written for every byte that is not part of a well-formed
// UTF-8 sequence.
const Replacement = '?'

// Fix returns a copy of b in which every byte that does not belong to a
// well-formed UTF-8 sequence is replaced by [Replacement].
// Well-formed multi-byte sequences are copied unchanged, a truncated or
// otherwise invalid sequence costs exactly one replacement per byte that
// could not be consumed.
// Overlong forms (c0 80) and encoded surrogates (ed a0 80) are not
// well-formed although their bytes are in the lead and continuation byte
// ranges, each of their bytes is replaced.
// The result is always valid UTF-8. A nil slice is returned unchanged.
func Fix(b []byte) []byte {
	if b == nil {
		return nil
	}

	buf := make([]byte, 0, len(b))

	for i := 0; i < len(b); {
		c := b[i]
		if c < utf8.RuneSelf {
			buf = append(buf, c)
			i++
			continue
		}

		// DecodeRune rejects stray continuation bytes, truncated
		// sequences, overlong forms and surrogates with size 1.
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, Replacement)
			i++
			continue
		}

		buf = append(buf, b[i:i+size]...)
		i += size
	}

	return buf
}

// FixString is [Fix] for strings.
func FixString(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	return string(Fix([]byte(s)))
}

// Valid reports whether b is valid UTF-8, [Fix] returns valid input
// unchanged.
func Valid(b []byte) bool {
	return utf8.Valid(b)
}
