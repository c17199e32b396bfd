// Package spake2p implements SPAKE2+ over P-256 with SHA-256, HKDF and
// HMAC, the augmented PAKE used to open a commissioning session.
//
// The prover knows the passcode and derives (w0, w1). The verifier only
// holds the registration record (w0, L = w1*G).
//
//	Prover                          Verifier
//	X = Share()      ---- X --->
//	                 <-- Y, cB --   Y = Share(); cB = Finish(X)
//	cA = Finish(Y)
//	Verify(cB)       --- cA --->    Verify(cA)
//	Ke = SharedSecret()             Ke = SharedSecret()
package spake2p

import (
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"filippo.io/nistec"

	"github.com/backkem/matterctl/pkg/crypto"
)

const (
	ScalarSize = 32
	PointSize  = 65

	// wsSize is each half of the PBKDF2 output before reduction mod n.
	wsSize = 40
)

var (
	ErrInvalidScalar    = errors.New("spake2p: scalar must be 32 bytes")
	ErrInvalidPoint     = errors.New("spake2p: invalid point")
	ErrInvalidState     = errors.New("spake2p: operation out of order")
	ErrVerifierMismatch = errors.New("spake2p: confirmation mismatch")
	ErrInvalidParams    = errors.New("spake2p: invalid PBKDF parameters")
)

// Uncompressed encodings of the fixed M and N points.
var (
	pointM = []byte{
		0x04, 0x88, 0x6e, 0x2f, 0x97, 0xac, 0xe4, 0x6e, 0x55, 0xba, 0x9d, 0xd7, 0x24, 0x25, 0x79, 0xf2, 0x99,
		0x3b, 0x64, 0xe1, 0x6e, 0xf3, 0xdc, 0xab, 0x95, 0xaf, 0xd4, 0x97, 0x33, 0x3d, 0x8f, 0xa1, 0x2f, 0x5f,
		0xf3, 0x55, 0x16, 0x3e, 0x43, 0xce, 0x22, 0x4e, 0x0b, 0x0e, 0x65, 0xff, 0x02, 0xac, 0x8e, 0x5c, 0x7b,
		0xe0, 0x94, 0x19, 0xc7, 0x85, 0xe0, 0xca, 0x54, 0x7d, 0x55, 0xa1, 0x2e, 0x2d, 0x20,
	}
	pointN = []byte{
		0x04, 0xd8, 0xbb, 0xd6, 0xc6, 0x39, 0xc6, 0x29, 0x37, 0xb0, 0x4d, 0x99, 0x7f, 0x38, 0xc3, 0x77, 0x07,
		0x19, 0xc6, 0x29, 0xd7, 0x01, 0x4d, 0x49, 0xa2, 0x4b, 0x4f, 0x98, 0xba, 0xa1, 0x29, 0x2b, 0x49, 0x07,
		0xd6, 0x0a, 0xa6, 0xbf, 0xad, 0xe4, 0x50, 0x08, 0xa6, 0x36, 0x33, 0x7f, 0x51, 0x68, 0xc6, 0x4d, 0x9b,
		0xd3, 0x60, 0x34, 0x80, 0x8c, 0xd5, 0x64, 0x49, 0x0b, 0x1e, 0x65, 0x6e, 0xdb, 0xe7,
	}
)

var (
	order            = elliptic.P256().Params().N
	infoConfirmation = []byte("ConfirmationKeys")
)

// ComputeW0W1 derives the prover secrets from a passcode.
func ComputeW0W1(passcode uint32, salt []byte, iterations int) (w0, w1 []byte, err error) {
	if iterations < crypto.PBKDF2IterationsMin || iterations > crypto.PBKDF2IterationsMax ||
		len(salt) < 16 || len(salt) > 32 {
		return nil, nil, ErrInvalidParams
	}
	var pw [4]byte
	binary.LittleEndian.PutUint32(pw[:], passcode)
	ws := crypto.PBKDF2SHA256(pw[:], salt, iterations, 2*wsSize)
	defer crypto.Zeroize(ws)
	return reduce(ws[:wsSize]), reduce(ws[wsSize:]), nil
}

// ComputeL returns L = w1*G, the verifier's half of the registration record.
func ComputeL(w1 []byte) ([]byte, error) {
	if len(w1) != ScalarSize {
		return nil, ErrInvalidScalar
	}
	p, err := nistec.NewP256Point().ScalarBaseMult(w1)
	if err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

type role int

const (
	prover role = iota
	verifier
)

// SPAKE2P is one side of a single exchange. It is not safe for concurrent
// use and must not be reused.
type SPAKE2P struct {
	role    role
	context []byte
	w0, w1  []byte
	l       *nistec.P256Point

	random    []byte
	share     []byte
	peerShare []byte

	ke, kcA, kcB []byte
	confirmed    bool

	// Rand overrides crypto/rand for the ephemeral scalar.
	Rand io.Reader
}

// NewProver returns the commissioner side.
func NewProver(context, w0, w1 []byte) (*SPAKE2P, error) {
	if len(w0) != ScalarSize || len(w1) != ScalarSize {
		return nil, ErrInvalidScalar
	}
	return &SPAKE2P{role: prover, context: clone(context), w0: clone(w0), w1: clone(w1)}, nil
}

// NewVerifier returns the device side.
func NewVerifier(context, w0, L []byte) (*SPAKE2P, error) {
	if len(w0) != ScalarSize {
		return nil, ErrInvalidScalar
	}
	l, err := decodePoint(L)
	if err != nil {
		return nil, err
	}
	return &SPAKE2P{role: verifier, context: clone(context), w0: clone(w0), l: l}, nil
}

// Share picks the ephemeral scalar and returns X (prover) or Y (verifier).
func (s *SPAKE2P) Share() ([]byte, error) {
	if s.share != nil {
		return nil, ErrInvalidState
	}
	r := s.Rand
	if r == nil {
		r = rand.Reader
	}
	k, err := randomScalar(r)
	if err != nil {
		return nil, err
	}

	blind := pointM
	if s.role == verifier {
		blind = pointN
	}
	p, err := mulAdd(k, s.w0, blind)
	if err != nil {
		crypto.Zeroize(k)
		return nil, err
	}
	s.random = k
	s.share = p.Bytes()
	return clone(s.share), nil
}

// Finish consumes the peer's share, derives the key schedule and returns
// this side's confirmation value: cA for the prover, cB for the verifier.
func (s *SPAKE2P) Finish(peerShare []byte) ([]byte, error) {
	if s.share == nil || s.peerShare != nil {
		return nil, ErrInvalidState
	}
	peer, err := decodePoint(peerShare)
	if err != nil {
		return nil, err
	}

	// T = peer - w0*blind, computed as peer + (n-w0)*blind.
	blind := pointN
	if s.role == verifier {
		blind = pointM
	}
	t, err := mulAdd(nil, negate(s.w0), blind)
	if err != nil {
		return nil, err
	}
	t.Add(t, peer)

	z, err := nistec.NewP256Point().ScalarMult(t, s.random)
	if err != nil {
		return nil, err
	}
	var v *nistec.P256Point
	if s.role == prover {
		v, err = nistec.NewP256Point().ScalarMult(t, s.w1)
	} else {
		v, err = nistec.NewP256Point().ScalarMult(s.l, s.random)
	}
	if err != nil {
		return nil, err
	}

	s.peerShare = clone(peerShare)
	x, y := s.share, s.peerShare
	if s.role == verifier {
		x, y = y, x
	}
	if err := s.deriveKeys(x, y, z.Bytes(), v.Bytes()); err != nil {
		return nil, err
	}
	if s.role == prover {
		return crypto.HMACSHA256(s.kcA, y), nil
	}
	return crypto.HMACSHA256(s.kcB, x), nil
}

// Verify checks the peer's confirmation value. A mismatch means the
// passcodes differ; all key material is wiped.
func (s *SPAKE2P) Verify(peerConfirm []byte) error {
	if s.ke == nil {
		return ErrInvalidState
	}
	var want []byte
	if s.role == prover {
		want = crypto.HMACSHA256(s.kcB, s.share)
	} else {
		want = crypto.HMACSHA256(s.kcA, s.share)
	}
	if !crypto.Equal(want, peerConfirm) {
		s.Clear()
		return ErrVerifierMismatch
	}
	s.confirmed = true
	return nil
}

// SharedSecret returns Ke once the peer's confirmation has been verified.
func (s *SPAKE2P) SharedSecret() ([]byte, error) {
	if !s.confirmed {
		return nil, ErrInvalidState
	}
	return clone(s.ke), nil
}

// Clear wipes secrets held by s.
func (s *SPAKE2P) Clear() {
	for _, b := range [][]byte{s.w0, s.w1, s.random, s.ke, s.kcA, s.kcB} {
		crypto.Zeroize(b)
	}
	s.ke, s.kcA, s.kcB = nil, nil, nil
	s.confirmed = false
}

func (s *SPAKE2P) deriveKeys(x, y, z, v []byte) error {
	var tt []byte
	for _, part := range [][]byte{s.context, nil, nil, pointM, pointN, x, y, z, v, s.w0} {
		tt = binary.LittleEndian.AppendUint64(tt, uint64(len(part)))
		tt = append(tt, part...)
	}
	kae := crypto.SHA256(tt)
	ka := kae[:16]
	s.ke = clone(kae[16:])

	kc, err := crypto.HKDFSHA256(ka, nil, infoConfirmation, 32)
	if err != nil {
		return err
	}
	s.kcA, s.kcB = kc[:16], kc[16:]
	crypto.Zeroize(kae)
	return nil
}

// mulAdd returns k*G + w*P. A nil k skips the generator term.
func mulAdd(k, w, encodedP []byte) (*nistec.P256Point, error) {
	p, err := nistec.NewP256Point().SetBytes(encodedP)
	if err != nil {
		return nil, err
	}
	wp, err := nistec.NewP256Point().ScalarMult(p, w)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return wp, nil
	}
	kg, err := nistec.NewP256Point().ScalarBaseMult(k)
	if err != nil {
		return nil, err
	}
	return kg.Add(kg, wp), nil
}

func decodePoint(b []byte) (*nistec.P256Point, error) {
	if len(b) != PointSize || b[0] != 0x04 {
		return nil, ErrInvalidPoint
	}
	p, err := nistec.NewP256Point().SetBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return p, nil
}

// reduce maps b into [0, n) as a 32-byte big-endian scalar.
func reduce(b []byte) []byte {
	k := new(big.Int).SetBytes(b)
	k.Mod(k, order)
	return k.FillBytes(make([]byte, ScalarSize))
}

func negate(w []byte) []byte {
	k := new(big.Int).SetBytes(w)
	k.Sub(order, k)
	k.Mod(k, order)
	return k.FillBytes(make([]byte, ScalarSize))
}

// randomScalar draws a uniform scalar in [1, n).
func randomScalar(r io.Reader) ([]byte, error) {
	buf := make([]byte, wsSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("spake2p: random: %w", err)
	}
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(order, big.NewInt(1)))
	k.Add(k, big.NewInt(1))
	crypto.Zeroize(buf)
	return k.FillBytes(make([]byte, ScalarSize)), nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
