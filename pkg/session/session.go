package session

import (
	"context"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/transport"
)

// Session is the capability set the exchange layer needs.
type Session interface {
	Type() Type
	LocalSessionID() uint16
	PeerSessionID() uint16
	LocalNodeID() uint64
	PeerNodeID() uint64

	// Reliable reports whether outbound frames request acknowledgement.
	Reliable() bool

	// Encode assigns the next counter and session fields to f and returns
	// the wire bytes.
	Encode(f *message.Frame) ([]byte, error)

	// Decode authenticates and parses a frame whose header was decoded
	// from the same datagram.
	Decode(h message.Header, payload []byte) (*message.Frame, error)

	// SendFrame encodes and sends f under the session lock.
	SendFrame(ctx context.Context, f *message.Frame) error

	Send(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// base holds what every variant shares: the owned transport, the
// outbound counter and the send lock.
type base struct {
	tr       transport.Transport
	counter  *message.Counter
	reliable bool
	log      logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

func newBase(tr transport.Transport, reliable bool, factory logging.LoggerFactory) base {
	b := base{tr: tr, counter: message.NewCounter(), reliable: reliable}
	if factory != nil {
		b.log = factory.NewLogger("session")
	}
	return b
}

func (b *base) Reliable() bool { return b.reliable }

func (b *base) Send(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.tr.Send(ctx, data)
}

func (b *base) Read(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return b.tr.Read(ctx)
}

// sendEncoded runs encode and the transport write as one critical section.
func (b *base) sendEncoded(ctx context.Context, encode func() ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	data, err := encode()
	if err != nil {
		return err
	}
	return b.tr.Send(ctx, data)
}

func (b *base) encodeLocked(encode func() ([]byte, error)) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return encode()
}

// markClosed reports whether this call performed the transition.
func (b *base) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}
