package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 iteration bounds accepted in commissioning parameters.
const (
	PBKDF2IterationsMin = 1000
	PBKDF2IterationsMax = 100000
)

// HKDFSHA256 derives length bytes with HKDF-SHA256. A nil salt is a zero salt.
func HKDFSHA256(secret, salt, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// PBKDF2SHA256 derives keyLen bytes from password with PBKDF2-HMAC-SHA256.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// SessionKeys are the symmetric keys of an established unicast session.
type SessionKeys struct {
	I2R                  []byte
	R2I                  []byte
	AttestationChallenge []byte
}

// DeriveSessionKeys expands secret into the initiator-to-responder key,
// the responder-to-initiator key and the attestation challenge.
func DeriveSessionKeys(secret, salt, info []byte) (SessionKeys, error) {
	km, err := HKDFSHA256(secret, salt, info, 3*SymmetricKeySize)
	if err != nil {
		return SessionKeys{}, err
	}
	return SessionKeys{
		I2R:                  km[:SymmetricKeySize],
		R2I:                  km[SymmetricKeySize : 2*SymmetricKeySize],
		AttestationChallenge: km[2*SymmetricKeySize:],
	}, nil
}

// Zeroize clears all key material held by k.
func (k *SessionKeys) Zeroize() {
	Zeroize(k.I2R)
	Zeroize(k.R2I)
	Zeroize(k.AttestationChallenge)
}
