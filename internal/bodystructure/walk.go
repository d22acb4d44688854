package bodystructure

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPartID = errors.New("invalid part identifier")

// WalkFunc is called for every part visited by [Part.Walk], partID is the
// IMAP part identifier of the part, e.g. "2.1". The root of a multipart
// message has the empty identifier.
// When it returns false the children of the part are not visited.
type WalkFunc func(partID string, p *Part) bool

// Walk visits p and all of its descendants in depth-first pre-order.
// p is treated as the body structure of a whole message: a root that is not
// multipart is part "1".
func (p *Part) Walk(fn WalkFunc) {
	if p.kind == KindMultipart {
		p.walk("", fn)
		return
	}

	p.walk("1", fn)
}

func (p *Part) walk(id string, fn WalkFunc) {
	if !fn(id, p) {
		return
	}

	switch p.kind {
	case KindMultipart:
		for i, c := range p.children {
			c.walk(childID(id, i+1), fn)
		}

	case KindMessage:
		if p.message == nil {
			return
		}

		// the children of a multipart body are numbered like the parts of
		// the embedded message, a single part body is part 1 of it
		if p.message.kind == KindMultipart {
			p.message.walk(id, fn)
			return
		}
		p.message.walk(childID(id, 1), fn)
	}
}

func childID(parent string, n int) string {
	if parent == "" {
		return strconv.Itoa(n)
	}

	return parent + "." + strconv.Itoa(n)
}

// Located is a part together with its IMAP part identifier.
type Located struct {
	PartID string
	Part   *Part
}

// Attachments returns the parts of the message that are attachments:
// leaf parts with a filename or an attachment disposition and embedded
// messages. Embedded messages are not descended into.
func (p *Part) Attachments() []Located {
	var res []Located

	p.Walk(func(id string, part *Part) bool {
		switch part.kind {
		case KindMultipart:
			return true

		case KindMessage:
			if part.IsEmbeddedMessage() {
				res = append(res, Located{PartID: id, Part: part})
				return false
			}
			if part.disposition == "attachment" || part.HasFilename() {
				res = append(res, Located{PartID: id, Part: part})
			}
			return false

		default:
			if part.disposition == "attachment" || part.HasFilename() {
				res = append(res, Located{PartID: id, Part: part})
			}
			return false
		}
	})

	return res
}

// ParsePartID parses a dot separated IMAP part identifier like "1.2.3".
func ParsePartID(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPartID)
	}

	elems := strings.Split(s, ".")
	res := make([]int, 0, len(elems))

	for _, e := range elems {
		n, err := strconv.Atoi(e)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPartID, s)
		}
		res = append(res, n)
	}

	return res, nil
}
