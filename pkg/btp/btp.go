// Package btp implements the Bluetooth Transport Protocol: a handshake,
// segmentation and reassembly of messages over an MTU-limited link, and
// a sliding receive window driven by acknowledgements.
//
// A Conn carries whole messages and satisfies transport.Transport, so a
// session can run over BLE the same way it runs over UDP. Standalone
// acknowledgements consume a sequence number but are never themselves
// acknowledged on a timer; only data segments count against the window.
package btp

import (
	"errors"
	"fmt"
	"time"

	"github.com/backkem/matterctl/pkg/transport"
)

// Defaults applied by Dial and Accept.
const (
	DefaultSegmentSize = 244
	DefaultWindow      = 6
	DefaultAckInterval = 2500 * time.Millisecond
	DefaultAckTimeout  = 15 * time.Second
	DefaultQueueSize   = 8
)

var (
	// ErrIncompatibleVersion is returned when the peers share no version.
	ErrIncompatibleVersion = errors.New("btp: incompatible version")

	// ErrSequence is returned when a segment arrives out of order or a
	// message overruns its announced length. The connection is reset.
	ErrSequence = errors.New("btp: sequence error")

	// ErrAckTimeout is returned when sent segments stay unacknowledged
	// for longer than the ack timeout. The connection is reset.
	ErrAckTimeout = errors.New("btp: acknowledgement timeout")

	// ErrMalformed is returned for packets that cannot be parsed.
	ErrMalformed = errors.New("btp: malformed packet")

	// ErrMessageTooLarge is returned for messages over 65535 bytes.
	ErrMessageTooLarge = errors.New("btp: message too large")
)

// closedError reports a closed connection. It matches transport.ErrClosed
// and, when set, the reason the connection went down.
func closedError(reason error) error {
	if reason == nil {
		return transport.ErrClosed
	}
	return fmt.Errorf("%w: %w", transport.ErrClosed, reason)
}

// State is the connection lifecycle.
type State int

const (
	StateHandshaking State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
