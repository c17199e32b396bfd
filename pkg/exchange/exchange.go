// Package exchange implements the per-conversation layer on top of a
// session: duplicate suppression by message counter, acknowledgement
// piggybacking and request/response helpers.
//
// Application messages are never retransmitted here. Acknowledgements
// only signal receipt; lossy links get their retries from the transport.
package exchange

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/session"
	"github.com/backkem/matterctl/pkg/transport"
)

// DefaultQueueSize is the inbound frame queue capacity.
const DefaultQueueSize = 4

// Config is used to configure an Exchange.
type Config struct {
	// ExchangeID identifies the conversation. Zero lets an initiator pick
	// a random id; a responder adopts the id of the first inbound frame.
	ExchangeID uint16

	// Initiator sets the I flag on every outbound frame.
	Initiator bool

	QueueSize     int
	LoggerFactory logging.LoggerFactory
}

// Exchange is one logical conversation over a session. It holds a
// non-owning reference to the session; closing the exchange leaves the
// session usable for the next one. Only one exchange may read from a
// session at a time.
type Exchange struct {
	sess      session.Session
	initiator bool
	log       logging.LeveledLogger

	queue  chan *message.Frame
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu           sync.Mutex
	id           uint16
	lastReceived uint32
	hasReceived  bool
	lastAcked    uint32
	hasAcked     bool
}

// New creates an exchange on sess and starts its receive loop.
func New(sess session.Session, config Config) *Exchange {
	size := config.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	id := config.ExchangeID
	if id == 0 && config.Initiator {
		id = randomExchangeID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exchange{
		sess:      sess,
		initiator: config.Initiator,
		queue:     make(chan *message.Frame, size),
		cancel:    cancel,
		done:      make(chan struct{}),
		id:        id,
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("exchange")
	}
	go e.receiveLoop(ctx)
	return e
}

// ID returns the exchange id. A responder reports 0 until the first
// frame arrives.
func (e *Exchange) ID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Session returns the session the exchange runs on.
func (e *Exchange) Session() session.Session { return e.sess }

// LastReceived returns the counter of the newest accepted frame.
func (e *Exchange) LastReceived() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReceived, e.hasReceived
}

// LastAcked returns the counter most recently acknowledged to the peer.
func (e *Exchange) LastAcked() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAcked, e.hasAcked
}

// pendingAck returns the counter awaiting acknowledgement. Callers hold mu.
func (e *Exchange) pendingAck() (uint32, bool) {
	if !e.hasReceived || (e.hasAcked && e.lastAcked == e.lastReceived) {
		return 0, false
	}
	return e.lastReceived, true
}

// markAcked records counter unless a newer one was acknowledged meanwhile.
func (e *Exchange) markAcked(counter uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasAcked && counter <= e.lastAcked {
		return
	}
	e.lastAcked, e.hasAcked = counter, true
}

func (e *Exchange) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Send transmits body under protocolID/opcode, piggybacking an
// acknowledgement of the last received frame if one is owed.
func (e *Exchange) Send(ctx context.Context, protocolID message.ProtocolID, opcode uint8, body []byte) error {
	if e.closed() {
		return ErrExchangeClosed
	}

	e.mu.Lock()
	f := &message.Frame{
		Payload: message.PayloadHeader{
			Opcode:     opcode,
			ExchangeID: e.id,
			ProtocolID: protocolID,
		},
		Body: body,
	}
	ack, owed := e.pendingAck()
	e.mu.Unlock()

	if e.initiator {
		f.Payload.Flags |= message.ExchangeFlagInitiator
	}
	if e.sess.Reliable() {
		f.Payload.Flags |= message.ExchangeFlagReliability
	}
	if owed {
		f.Payload.Flags |= message.ExchangeFlagAck
		f.Payload.AckCounter = ack
	}

	if err := e.sess.SendFrame(ctx, f); err != nil {
		return err
	}
	if owed {
		e.markAcked(ack)
	}
	if e.log != nil {
		e.log.Tracef("exchange %d: sent %s opcode 0x%02x counter %d", f.Payload.ExchangeID, protocolID, opcode, f.Header.Counter)
	}
	return nil
}

// Receive returns the next frame of this exchange. Frames queued before
// Close are still delivered.
func (e *Exchange) Receive(ctx context.Context) (*message.Frame, error) {
	select {
	case f := <-e.queue:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		select {
		case f := <-e.queue:
			return f, nil
		default:
			return nil, ErrExchangeClosed
		}
	}
}

// SendAndReceive sends body and waits for the next frame.
func (e *Exchange) SendAndReceive(ctx context.Context, body []byte, protocolID message.ProtocolID, opcode uint8) (*message.Frame, error) {
	if err := e.Send(ctx, protocolID, opcode, body); err != nil {
		return nil, err
	}
	return e.Receive(ctx)
}

// Ack sends a standalone acknowledgement for the last received frame if
// it has not been acknowledged yet.
func (e *Exchange) Ack(ctx context.Context) error {
	if e.closed() {
		return ErrExchangeClosed
	}
	e.mu.Lock()
	counter, owed := e.pendingAck()
	e.mu.Unlock()
	if !owed {
		return nil
	}
	return e.sendStandaloneAck(ctx, counter)
}

func (e *Exchange) sendStandaloneAck(ctx context.Context, counter uint32) error {
	e.mu.Lock()
	id := e.id
	e.mu.Unlock()

	f := &message.Frame{
		Payload: message.PayloadHeader{
			Flags:      message.ExchangeFlagAck,
			Opcode:     message.OpcodeStandaloneAck,
			ExchangeID: id,
			ProtocolID: message.ProtocolSecureChannel,
			AckCounter: counter,
		},
	}
	if e.initiator {
		f.Payload.Flags |= message.ExchangeFlagInitiator
	}
	if err := e.sess.SendFrame(ctx, f); err != nil {
		return err
	}
	e.markAcked(counter)
	return nil
}

// Close stops the receive loop and waits for it to exit. The session is
// left open.
func (e *Exchange) Close() error {
	e.once.Do(func() {
		e.cancel()
		<-e.done
	})
	return nil
}

func (e *Exchange) receiveLoop(ctx context.Context) {
	defer close(e.done)
	for {
		data, err := e.sess.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrNotOpen) || errors.Is(err, session.ErrClosed) {
				if e.log != nil {
					e.log.Debugf("exchange: session gone: %v", err)
				}
				return
			}
			if e.log != nil {
				e.log.Warnf("exchange: read failed: %v", err)
			}
			continue
		}

		f, err := e.accept(ctx, data)
		switch {
		case errors.Is(err, ErrDuplicateMessage):
			if e.log != nil {
				e.log.Tracef("exchange: %v", err)
			}
			continue
		case err != nil:
			if e.log != nil {
				e.log.Debugf("exchange: dropping frame: %v", err)
			}
			continue
		case f == nil:
			continue
		}

		select {
		case e.queue <- f:
		case <-ctx.Done():
			return
		}
	}
}

// accept runs one datagram through the duplicate check, the session and
// the exchange id filter. A nil frame with a nil error means the datagram
// was consumed here.
func (e *Exchange) accept(ctx context.Context, data []byte) (*message.Frame, error) {
	h, rest, err := message.DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if h.SessionID != e.sess.LocalSessionID() {
		return nil, session.ErrSessionMismatch
	}

	e.mu.Lock()
	dup := e.hasReceived && h.Counter <= e.lastReceived
	e.mu.Unlock()
	if dup {
		return nil, ErrDuplicateMessage
	}

	f, err := e.sess.Decode(h, rest)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	switch {
	case f.Payload.ExchangeID == e.id:
	case !e.initiator && f.Payload.Flags.Has(message.ExchangeFlagInitiator):
		// A responder follows the peer into each new conversation.
		e.id = f.Payload.ExchangeID
	default:
		e.mu.Unlock()
		return nil, ErrExchangeMismatch
	}
	e.lastReceived, e.hasReceived = h.Counter, true
	standalone := f.Payload.IsStandaloneAck()
	if standalone && !f.Payload.Flags.Has(message.ExchangeFlagReliability) {
		e.lastAcked, e.hasAcked = h.Counter, true
	}
	e.mu.Unlock()

	if !standalone {
		return f, nil
	}
	if f.Payload.Flags.Has(message.ExchangeFlagReliability) {
		if err := e.sendStandaloneAck(ctx, h.Counter); err != nil && e.log != nil {
			e.log.Warnf("exchange: acknowledging %d: %v", h.Counter, err)
		}
	}
	return nil, nil
}

func randomExchangeID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	if id := binary.LittleEndian.Uint16(b[:]); id != 0 {
		return id
	}
	return 1
}
