package imapclt

import (
	"errors"
	"fmt"
)

var ErrMessageNotFound = errors.New("message not found")

// MalformedMessageError is returned when the server responds with
// incomplete or unusable message data.
type MalformedMessageError struct {
	UID uint32
	// Part is the part identifier of the requested section, it is empty
	// if the error relates to the whole message.
	Part   string
	Reason string
}

func (e *MalformedMessageError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("message %d: %s", e.UID, e.Reason)
	}

	return fmt.Sprintf("message %d, part %s: %s", e.UID, e.Part, e.Reason)
}
