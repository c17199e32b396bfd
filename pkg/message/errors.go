package message

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming is the parent of every header and payload header decode error.
	ErrFraming = errors.New("message: framing error")

	// ErrCounterExhausted is returned once a session counter would wrap.
	ErrCounterExhausted = errors.New("message: counter exhausted")
)

// FramingError describes why a datagram could not be framed. Callers drop
// the datagram; it is never fatal to the session.
type FramingError struct {
	Field  string
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("message: framing error in %s: %s", e.Field, e.Reason)
}

func (e *FramingError) Unwrap() error {
	return ErrFraming
}

func framingErr(field, reason string) error {
	return &FramingError{Field: field, Reason: reason}
}
