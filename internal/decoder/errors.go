package decoder

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrMalformed    = errors.New("malformed json")
	ErrMissingType  = errors.New("missing event type")
	ErrUnknownType  = errors.New("unknown event type")
	ErrInvalidEvent = errors.New("invalid event")
)

// DecodeError is returned for any payload that cannot be turned into an
// event. It keeps the raw payload so that consumers can log or park it.
type DecodeError struct {
	Payload []byte
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(payload []byte, kind error, format string, args ...interface{}) *DecodeError {
	reason := kind.Error()
	if format != "" {
		reason = fmt.Sprintf("%s: %s", reason, fmt.Sprintf(format, args...))
	}
	return &DecodeError{Payload: payload, Reason: reason, Err: kind}
}
