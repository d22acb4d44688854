package attachment

import (
	"fmt"

	"github.com/fho/imap-attachments/internal/bodystructure"
)

// FromMessage returns the attachments of the message with the given uid,
// root is the body structure of the message.
func FromMessage(src Source, uid uint32, root *bodystructure.Part, opts ...Option) ([]*Attachment, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: body structure is nil", ErrInvalidArgument)
	}

	located := root.Attachments()
	result := make([]*Attachment, 0, len(located))

	for _, l := range located {
		a, err := New(src, uid, l.Part, l.PartID, opts...)
		if err != nil {
			return nil, fmt.Errorf("part %s: %w", l.PartID, err)
		}

		result = append(result, a)
	}

	return result, nil
}
