// Package pase implements Passcode-Authenticated Session Establishment.
//
// PASE brings up the first secure session between a commissioner
// (initiator) and a device (responder) that share a setup passcode. Both
// sides run SPAKE2+ over an unsecured exchange:
//
//	Initiator                               Responder
//	PBKDFParamRequest        ------>
//	                         <------        PBKDFParamResponse
//	Pake1 (pA)               ------>
//	                         <------        Pake2 (pB, cB)
//	Pake3 (cA)               ------>
//	                         <------        StatusReport
//
// A passcode mismatch surfaces as spake2p.ErrVerifierMismatch on the side
// that detects it and as a *securechannel.StatusReportError on the other.
package pase

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/session"
	"github.com/backkem/matterctl/pkg/transport"
)

const (
	// ContextPrefix starts the SPAKE2+ context hash.
	ContextPrefix = "CHIP PAKE V1 Commissioning"

	// RandomSize is the size of the PBKDF exchange randoms.
	RandomSize = 32

	// DefaultPasscodeID is the only passcode id in use.
	DefaultPasscodeID = 0

	// MaxPasscode is the largest 27-bit setup passcode.
	MaxPasscode = 99999999
)

var sessionKeysInfo = []byte("SessionKeys")

var (
	ErrInvalidPasscode   = errors.New("pase: invalid passcode")
	ErrInvalidPasscodeID = errors.New("pase: invalid passcode ID")
	ErrInvalidMessage    = errors.New("pase: invalid message")
	ErrRandomMismatch    = errors.New("pase: initiator random mismatch")
	ErrUnexpectedMessage = errors.New("pase: unexpected message")
	ErrMissingParams     = errors.New("pase: no PBKDF parameters")
)

var trivialPasscodes = map[uint32]bool{
	0: true, 11111111: true, 22222222: true, 33333333: true, 44444444: true,
	55555555: true, 66666666: true, 77777777: true, 88888888: true, 99999999: true,
	12345678: true, 87654321: true,
}

// ValidatePasscode rejects out of range and trivially guessable passcodes.
func ValidatePasscode(passcode uint32) error {
	if passcode > MaxPasscode || trivialPasscodes[passcode] {
		return ErrInvalidPasscode
	}
	return nil
}

// Result is the outcome of a successful handshake.
type Result struct {
	Keys           crypto.SessionKeys
	LocalSessionID uint16
	PeerSessionID  uint16
}

// NewSession builds the PASE secure session over tr and wipes the keys
// held by r.
func (r *Result) NewSession(tr transport.Transport, role session.Role, reliable bool, factory logging.LoggerFactory) (*session.Secure, error) {
	defer r.Keys.Zeroize()
	return session.NewSecure(session.SecureConfig{
		Transport:      tr,
		Type:           session.TypePASE,
		Role:           role,
		LocalSessionID: r.LocalSessionID,
		PeerSessionID:  r.PeerSessionID,
		Keys:           r.Keys,
		Reliable:       reliable,
		LoggerFactory:  factory,
	})
}

func deriveResult(ke []byte, local, peer uint16) (*Result, error) {
	keys, err := crypto.DeriveSessionKeys(ke, nil, sessionKeysInfo)
	if err != nil {
		return nil, err
	}
	return &Result{Keys: keys, LocalSessionID: local, PeerSessionID: peer}, nil
}

func commissioningContext(req, resp []byte) []byte {
	return crypto.SHA256([]byte(ContextPrefix), req, resp)
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// randomSessionID returns a non-zero session id.
func randomSessionID(r io.Reader) (uint16, error) {
	for {
		b, err := randomBytes(r, 2)
		if err != nil {
			return 0, err
		}
		if id := binary.LittleEndian.Uint16(b); id != 0 {
			return id, nil
		}
	}
}
