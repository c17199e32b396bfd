package pase

import (
	"github.com/backkem/matterctl/pkg/crypto/spake2p"
)

// Verifier is the registration record a device stores instead of the
// passcode: w0 and L = w1*G.
type Verifier struct {
	W0 []byte
	L  []byte
}

// GenerateVerifier stretches passcode with the given PBKDF parameters.
func GenerateVerifier(passcode uint32, salt []byte, iterations int) (*Verifier, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	w0, w1, err := spake2p.ComputeW0W1(passcode, salt, iterations)
	if err != nil {
		return nil, err
	}
	l, err := spake2p.ComputeL(w1)
	if err != nil {
		return nil, err
	}
	return &Verifier{W0: w0, L: l}, nil
}
