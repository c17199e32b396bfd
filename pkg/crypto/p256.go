package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

const (
	// PublicKeySize is an uncompressed P-256 point.
	PublicKeySize = 65

	// SignatureSize is a raw r||s ECDSA signature.
	SignatureSize = 64
)

var ErrInvalidSignature = errors.New("crypto: invalid signature")

// KeyPair is a P-256 signing key.
type KeyPair struct {
	priv *ecdsa.PrivateKey
}

// GenerateKeyPair creates a fresh P-256 key.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// ParseKeyPair loads a key from its PKCS#8 or SEC1 DER encoding.
func ParseKeyPair(der []byte) (*KeyPair, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		priv, ok := k.(*ecdsa.PrivateKey)
		if !ok || priv.Curve != elliptic.P256() {
			return nil, errors.New("crypto: not a P-256 key")
		}
		return &KeyPair{priv: priv}, nil
	}
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// MarshalPKCS8 returns the DER encoding of the private key.
func (k *KeyPair) MarshalPKCS8() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(k.priv)
}

// Signer exposes the key to crypto/x509.
func (k *KeyPair) Signer() *ecdsa.PrivateKey {
	return k.priv
}

// PublicKey returns the uncompressed public point.
func (k *KeyPair) PublicKey() []byte {
	pub, err := k.priv.PublicKey.ECDH()
	if err != nil {
		return nil
	}
	return pub.Bytes()
}

// Sign hashes message with SHA-256 and returns a raw r||s signature.
func (k *KeyPair) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, k.priv, digest[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Verify checks a raw r||s signature against an uncompressed public key.
func Verify(publicKey, message, signature []byte) error {
	if len(signature) != SignatureSize {
		return ErrInvalidSignature
	}
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// ParsePublicKey decodes an uncompressed P-256 point.
func ParsePublicKey(b []byte) (*ecdsa.PublicKey, error) {
	if _, err := ecdh.P256().NewPublicKey(b); err != nil {
		return nil, fmt.Errorf("crypto: invalid public key: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(b[1:33]),
		Y:     new(big.Int).SetBytes(b[33:65]),
	}, nil
}

// MarshalSignatureDER converts a raw r||s signature to ASN.1 form.
func MarshalSignatureDER(raw []byte) ([]byte, error) {
	if len(raw) != SignatureSize {
		return nil, ErrInvalidSignature
	}
	return asn1.Marshal(ecdsaSignature{R: new(big.Int).SetBytes(raw[:32]), S: new(big.Int).SetBytes(raw[32:])})
}

// ParseSignatureDER converts an ASN.1 ECDSA signature to raw r||s.
func ParseSignatureDER(der []byte) ([]byte, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil || len(rest) != 0 || sig.R == nil || sig.S == nil ||
		sig.R.BitLen() > 256 || sig.S.BitLen() > 256 || sig.R.Sign() < 0 || sig.S.Sign() < 0 {
		return nil, ErrInvalidSignature
	}
	raw := make([]byte, SignatureSize)
	sig.R.FillBytes(raw[:32])
	sig.S.FillBytes(raw[32:])
	return raw, nil
}

type ecdsaSignature struct {
	R, S *big.Int
}
