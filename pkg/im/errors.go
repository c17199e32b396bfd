package im

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMessage is returned for messages that decode as TLV but
	// not as the expected Interaction Model structure.
	ErrInvalidMessage = errors.New("im: invalid message")

	// ErrUnexpectedResponse is returned when the peer answers with an
	// opcode other than InvokeResponse or StatusResponse.
	ErrUnexpectedResponse = errors.New("im: unexpected response")

	// ErrCommandFailed is matched by every StatusError.
	ErrCommandFailed = errors.New("im: command failed")
)

// StatusError reports a command answered with a non-success status.
type StatusError struct {
	Path          CommandPath
	Status        Status
	ClusterStatus *uint8
}

func (e *StatusError) Error() string {
	if e.ClusterStatus != nil {
		return fmt.Sprintf("im: %s: status %s, cluster status %d", e.Path, e.Status, *e.ClusterStatus)
	}
	return fmt.Sprintf("im: %s: status %s", e.Path, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrCommandFailed }
