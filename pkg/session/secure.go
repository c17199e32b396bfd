package session

import (
	"bytes"
	"context"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/transport"
)

// SecureConfig is used to create a secure session after a handshake.
type SecureConfig struct {
	Transport transport.Transport

	Type           Type
	Role           Role
	LocalSessionID uint16
	PeerSessionID  uint16
	Keys           crypto.SessionKeys

	// Node ids feed the AEAD nonce. PASE sessions always use 0.
	LocalNodeID uint64
	PeerNodeID  uint64

	Reliable      bool
	LoggerFactory logging.LoggerFactory
}

// Secure is a PASE or CASE session. Payloads are protected with
// AES-128-CCM; the message header is the associated data.
type Secure struct {
	base
	typ          Type
	role         Role
	localID      uint16
	peerID       uint16
	localNode    uint64
	peerNode     uint64
	encKey       []byte
	decKey       []byte
	attChallenge []byte
}

// NewSecure validates config and copies the keys.
func NewSecure(config SecureConfig) (*Secure, error) {
	if config.Type != TypePASE && config.Type != TypeCASE {
		return nil, ErrInvalidSessionType
	}
	if config.LocalSessionID == 0 {
		return nil, ErrInvalidSessionID
	}
	if len(config.Keys.I2R) != crypto.SymmetricKeySize || len(config.Keys.R2I) != crypto.SymmetricKeySize {
		return nil, ErrInvalidKey
	}

	enc, dec := config.Keys.I2R, config.Keys.R2I
	if config.Role == RoleResponder {
		enc, dec = dec, enc
	}
	s := &Secure{
		base:         newBase(config.Transport, config.Reliable, config.LoggerFactory),
		typ:          config.Type,
		role:         config.Role,
		localID:      config.LocalSessionID,
		peerID:       config.PeerSessionID,
		encKey:       append([]byte{}, enc...),
		decKey:       append([]byte{}, dec...),
		attChallenge: append([]byte{}, config.Keys.AttestationChallenge...),
	}
	if config.Type == TypeCASE {
		s.localNode, s.peerNode = config.LocalNodeID, config.PeerNodeID
	}
	if s.log != nil {
		s.log.Debugf("%s session %d<->%d established as %s", s.typ, s.localID, s.peerID, s.role)
	}
	return s, nil
}

func (s *Secure) Type() Type             { return s.typ }
func (s *Secure) Role() Role             { return s.role }
func (s *Secure) LocalSessionID() uint16 { return s.localID }
func (s *Secure) PeerSessionID() uint16  { return s.peerID }
func (s *Secure) LocalNodeID() uint64    { return s.localNode }
func (s *Secure) PeerNodeID() uint64     { return s.peerNode }

// AttestationChallenge returns the challenge derived alongside the keys.
func (s *Secure) AttestationChallenge() []byte {
	return append([]byte{}, s.attChallenge...)
}

func (s *Secure) encode(f *message.Frame) ([]byte, error) {
	counter, err := s.counter.Next()
	if err != nil {
		return nil, err
	}
	f.Header = message.Header{
		SessionID:     s.peerID,
		SecurityFlags: message.SecurityFlags(message.SessionTypeUnicast),
		Counter:       counter,
	}
	aad := f.Header.Encode()
	nonce := crypto.BuildNonce(uint8(f.Header.SecurityFlags), counter, s.localNode)
	sealed, err := crypto.Seal(s.encKey, nonce, f.Plaintext(), aad)
	if err != nil {
		return nil, err
	}
	return append(aad, sealed...), nil
}

// Encode assigns the next counter and encrypts f.
func (s *Secure) Encode(f *message.Frame) ([]byte, error) {
	return s.encodeLocked(func() ([]byte, error) { return s.encode(f) })
}

// SendFrame encrypts and sends f under the session lock.
func (s *Secure) SendFrame(ctx context.Context, f *message.Frame) error {
	return s.sendEncoded(ctx, func() ([]byte, error) { return s.encode(f) })
}

// Decode authenticates payload against the raw bytes of h. Any bit flipped
// in either yields ErrDecryptionFailed.
func (s *Secure) Decode(h message.Header, payload []byte) (*message.Frame, error) {
	if h.SessionID != s.localID || h.SecurityFlags.SessionType() != message.SessionTypeUnicast {
		return nil, ErrSessionMismatch
	}
	s.mu.Lock()
	key := bytes.Clone(s.decKey)
	closed := s.closed
	s.mu.Unlock()
	defer crypto.Zeroize(key)
	if closed {
		return nil, ErrClosed
	}

	nonce := crypto.BuildNonce(uint8(h.SecurityFlags), h.Counter, s.peerNode)
	plain, err := crypto.Open(key, nonce, payload, h.Raw())
	if err != nil {
		if s.log != nil {
			s.log.Debugf("session %d: dropping frame %d: %v", s.localID, h.Counter, err)
		}
		return nil, ErrDecryptionFailed
	}
	return message.DecodePlaintext(h, plain)
}

// Close zeroises the keys and closes the owned transport.
func (s *Secure) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.mu.Lock()
	crypto.Zeroize(s.encKey)
	crypto.Zeroize(s.decKey)
	crypto.Zeroize(s.attChallenge)
	s.mu.Unlock()
	return s.tr.Close()
}

var (
	_ Session = (*Secure)(nil)
	_ Session = (*Unsecured)(nil)
)
