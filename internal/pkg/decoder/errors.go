package decoder

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing required field")
)

// DecodeError describes why a single stream message could not be decoded.
// The stream itself is unaffected.
type DecodeError struct {
	Type        string
	ApplianceID string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.ApplianceID == "" {
		return fmt.Sprintf("decode %q event: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("decode %q event for %s: %v", e.Type, e.ApplianceID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
