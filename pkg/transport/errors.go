package transport

import "errors"

var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotOpen is returned by Send and Read before Open.
	ErrNotOpen = errors.New("transport: not open")

	// ErrNoPeer is returned by Send when the peer address is not yet known.
	ErrNoPeer = errors.New("transport: no peer address")

	// ErrMessageTooLarge is returned when a message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("transport: message too large")
)
