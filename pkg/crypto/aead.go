package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
)

var (
	ErrInvalidKeySize = errors.New("crypto: key must be 16 bytes")
	ErrInvalidNonce   = errors.New("crypto: nonce must be 13 bytes")
	ErrAuthFailed     = errors.New("crypto: message authentication failed")
)

// NewAEAD returns AES-128-CCM with a 13-byte nonce and 16-byte tag.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	c, err := ccm.NewCCM(block, MICSize, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: ccm: %w", err)
	}
	return c, nil
}

// Seal encrypts plaintext and appends the tag, returning a fresh slice.
func Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	a, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return a.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext||tag. Any failure is reported
// as ErrAuthFailed so callers cannot distinguish why.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	a, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < MICSize || len(nonce) != NonceSize {
		return nil, ErrAuthFailed
	}
	pt, err := a.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}
