package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/transport"
)

// UnsecuredConfig configures an Unsecured session.
type UnsecuredConfig struct {
	Transport transport.Transport
	Role      Role

	// EphemeralNodeID is carried as the source node id of every frame.
	// Zero picks a random operational id.
	EphemeralNodeID uint64

	Reliable      bool
	LoggerFactory logging.LoggerFactory
}

// Unsecured carries session establishment messages in the clear.
type Unsecured struct {
	base
	role      Role
	localNode uint64
	peerNode  uint64
}

// NewUnsecured wraps an opened transport.
func NewUnsecured(config UnsecuredConfig) *Unsecured {
	node := config.EphemeralNodeID
	if node == 0 {
		node = randomNodeID()
	}
	return &Unsecured{
		base:      newBase(config.Transport, config.Reliable, config.LoggerFactory),
		role:      config.Role,
		localNode: node,
	}
}

func (u *Unsecured) Type() Type             { return TypeUnsecured }
func (u *Unsecured) LocalSessionID() uint16 { return 0 }
func (u *Unsecured) PeerSessionID() uint16  { return 0 }
func (u *Unsecured) LocalNodeID() uint64    { return u.localNode }

// PeerNodeID returns the last source node id seen from the peer.
func (u *Unsecured) PeerNodeID() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.peerNode
}

func (u *Unsecured) encode(f *message.Frame) ([]byte, error) {
	counter, err := u.counter.Next()
	if err != nil {
		return nil, err
	}
	f.Header = message.Header{
		Counter:      counter,
		HasSource:    true,
		SourceNodeID: u.localNode,
	}
	if u.peerNode != 0 {
		f.Header.Destination = message.DestinationNode
		f.Header.DestinationNode = u.peerNode
	}
	return f.Encode(), nil
}

// Encode serialises f in the clear.
func (u *Unsecured) Encode(f *message.Frame) ([]byte, error) {
	return u.encodeLocked(func() ([]byte, error) { return u.encode(f) })
}

// SendFrame encodes and sends f.
func (u *Unsecured) SendFrame(ctx context.Context, f *message.Frame) error {
	return u.sendEncoded(ctx, func() ([]byte, error) { return u.encode(f) })
}

// Decode parses a plaintext frame and learns the peer's ephemeral id.
func (u *Unsecured) Decode(h message.Header, payload []byte) (*message.Frame, error) {
	if h.SessionID != 0 || h.SecurityFlags.SessionType() != message.SessionTypeUnicast {
		return nil, ErrSessionMismatch
	}
	f, err := message.DecodePlaintext(h, payload)
	if err != nil {
		return nil, err
	}
	if h.HasSource {
		u.mu.Lock()
		u.peerNode = h.SourceNodeID
		u.mu.Unlock()
	}
	return f, nil
}

// Close closes the owned transport.
func (u *Unsecured) Close() error {
	if !u.markClosed() {
		return nil
	}
	return u.tr.Close()
}

// Detach ends the session without closing the transport and returns it,
// so the secure session established over it can take ownership.
func (u *Unsecured) Detach() transport.Transport {
	u.markClosed()
	return u.tr
}

// randomNodeID picks an id in the operational range [1, 0xFFFFFFEFFFFFFFFF].
func randomNodeID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.LittleEndian.Uint64(b[:])%0xFFFFFFEFFFFFFFFF + 1
}
