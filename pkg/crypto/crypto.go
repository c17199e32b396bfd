// Package crypto provides the primitives used by message security and
// session establishment: SHA-256, HMAC, HKDF, PBKDF2, AES-128-CCM and
// P-256 keys.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

const (
	// HashSize is the SHA-256 digest length.
	HashSize = sha256.Size

	// SymmetricKeySize is the AES-128 key length.
	SymmetricKeySize = 16

	// NonceSize is the AEAD nonce length.
	NonceSize = 13

	// MICSize is the AEAD tag length.
	MICSize = 16
)

// SHA256 returns the digest of the concatenation of parts.
func SHA256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HMACSHA256 returns HMAC-SHA256(key, message).
func HMACSHA256(key, message []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(message)
	return m.Sum(nil)
}

// Equal compares MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// Zeroize overwrites key material in place.
func Zeroize(b []byte) {
	clear(b)
}
