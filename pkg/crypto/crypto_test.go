package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestAEADVectors(t *testing.T) {
	// Published AES-CCM-128 vectors with a 13-byte nonce and 16-byte tag.
	tests := []struct {
		name, key, nonce, aad, plaintext, ciphertext, tag string
	}{
		{
			name:  "empty plaintext",
			key:   "404142434445464748494a4b4c4d4e4f",
			nonce: "101112131415161718191a1b1c",
			tag:   "32d6f8243a26d0bd98d01b0f448e7773",
		},
		{
			name:       "13 byte plaintext",
			key:        "0953fa93e7caac9638f58820220a398e",
			nonce:      "00800000011201000012345678",
			plaintext:  "fffd034b50057e400000010000",
			ciphertext: "b5e5bfdacbaf6cb7fb6bff871f",
			tag:        "b0d6dd827d35bf372fa6425dcd17d356",
		},
		{
			name:       "9 byte plaintext",
			key:        "0953fa93e7caac9638f58820220a398e",
			nonce:      "00800148202345000012345678",
			plaintext:  "120104320308ba072f",
			ciphertext: "79d7dbc0c9b4d43eeb",
			tag:        "281508e50d58dbbd27c39597800f4733",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, nonce := mustHex(t, tt.key), mustHex(t, tt.nonce)
			aad, pt := mustHex(t, tt.aad), mustHex(t, tt.plaintext)
			want := append(mustHex(t, tt.ciphertext), mustHex(t, tt.tag)...)

			got, err := Seal(key, nonce, pt, aad)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("Seal = %x, want %x", got, want)
			}
			back, err := Open(key, nonce, got, aad)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(back, pt) {
				t.Errorf("Open = %x, want %x", back, pt)
			}
		})
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key := bytes.Repeat([]byte{7}, SymmetricKeySize)
	nonce := BuildNonce(0, 1, 0)
	aad := []byte("header")
	sealed, err := Seal(key, nonce, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	flipped := append([]byte{}, sealed...)
	flipped[0] ^= 1
	tests := []struct {
		name       string
		key, nonce []byte
		ct, aad    []byte
	}{
		{"ciphertext bit", key, nonce, flipped, aad},
		{"wrong aad", key, nonce, sealed, []byte("other")},
		{"wrong nonce", key, BuildNonce(0, 2, 0), sealed, aad},
		{"wrong key", bytes.Repeat([]byte{8}, SymmetricKeySize), nonce, sealed, aad},
		{"shorter than tag", key, nonce, sealed[:MICSize-1], aad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.key, tt.nonce, tt.ct, tt.aad); !errors.Is(err, ErrAuthFailed) {
				t.Fatalf("err = %v, want ErrAuthFailed", err)
			}
		})
	}
}

func TestNewAEADKeySize(t *testing.T) {
	if _, err := NewAEAD(make([]byte, 32)); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("err = %v, want ErrInvalidKeySize", err)
	}
}

func TestBuildNonce(t *testing.T) {
	got := BuildNonce(0x01, 0x04030201, 0x0C0B0A0908070605)
	want := mustHex(t, "010102030405060708090a0b0c")
	if !bytes.Equal(got, want) {
		t.Fatalf("BuildNonce = %x, want %x", got, want)
	}
}

func TestHKDF(t *testing.T) {
	// RFC 5869 test case 1.
	okm, err := HKDFSHA256(
		bytes.Repeat([]byte{0x0b}, 22),
		mustHex(t, "000102030405060708090a0b0c"),
		mustHex(t, "f0f1f2f3f4f5f6f7f8f9"),
		42,
	)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	want := mustHex(t, "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865")
	if !bytes.Equal(okm, want) {
		t.Fatalf("HKDF = %x, want %x", okm, want)
	}
}

func TestPBKDF2(t *testing.T) {
	got := PBKDF2SHA256([]byte("password"), []byte("salt"), 1, 32)
	want := mustHex(t, "120fb6cffcf8b32c43e7225256c4f837a86548c92ccc35480805987cb70be17b")
	if !bytes.Equal(got, want) {
		t.Fatalf("PBKDF2 = %x, want %x", got, want)
	}
}

func TestDeriveSessionKeys(t *testing.T) {
	secret := bytes.Repeat([]byte{1}, 16)
	keys, err := DeriveSessionKeys(secret, nil, []byte("SessionKeys"))
	if err != nil {
		t.Fatalf("DeriveSessionKeys: %v", err)
	}
	km, _ := HKDFSHA256(secret, nil, []byte("SessionKeys"), 48)
	if !bytes.Equal(keys.I2R, km[:16]) || !bytes.Equal(keys.R2I, km[16:32]) || !bytes.Equal(keys.AttestationChallenge, km[32:]) {
		t.Fatalf("keys do not split the HKDF output in order")
	}
	keys.Zeroize()
	if !bytes.Equal(keys.I2R, make([]byte, 16)) {
		t.Errorf("Zeroize left key material behind")
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("csr")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(kp.PublicKey(), msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(kp.PublicKey(), []byte("other"), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify(other) = %v, want ErrInvalidSignature", err)
	}

	der, err := MarshalSignatureDER(sig)
	if err != nil {
		t.Fatalf("MarshalSignatureDER: %v", err)
	}
	raw, err := ParseSignatureDER(der)
	if err != nil {
		t.Fatalf("ParseSignatureDER: %v", err)
	}
	if !bytes.Equal(raw, sig) {
		t.Errorf("DER round trip changed signature")
	}

	pkcs8, err := kp.MarshalPKCS8()
	if err != nil {
		t.Fatalf("MarshalPKCS8: %v", err)
	}
	back, err := ParseKeyPair(pkcs8)
	if err != nil {
		t.Fatalf("ParseKeyPair: %v", err)
	}
	if !bytes.Equal(back.PublicKey(), kp.PublicKey()) {
		t.Errorf("reloaded key has a different public key")
	}
}
