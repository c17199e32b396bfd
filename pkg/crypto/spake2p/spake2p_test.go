package spake2p

import (
	"bytes"
	"errors"
	"testing"
)

var testSalt = []byte("SPAKE2P Key Salt")

func run(t *testing.T, proverCode, verifierCode uint32) (p, v *SPAKE2P, errP, errV error) {
	t.Helper()
	ctx := []byte("context")

	w0, w1, err := ComputeW0W1(proverCode, testSalt, 1000)
	if err != nil {
		t.Fatalf("ComputeW0W1: %v", err)
	}
	vw0, vw1, err := ComputeW0W1(verifierCode, testSalt, 1000)
	if err != nil {
		t.Fatalf("ComputeW0W1: %v", err)
	}
	L, err := ComputeL(vw1)
	if err != nil {
		t.Fatalf("ComputeL: %v", err)
	}

	if p, err = NewProver(ctx, w0, w1); err != nil {
		t.Fatalf("NewProver: %v", err)
	}
	if v, err = NewVerifier(ctx, vw0, L); err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	X, err := p.Share()
	if err != nil {
		t.Fatalf("prover Share: %v", err)
	}
	Y, err := v.Share()
	if err != nil {
		t.Fatalf("verifier Share: %v", err)
	}
	cB, err := v.Finish(X)
	if err != nil {
		t.Fatalf("verifier Finish: %v", err)
	}
	cA, err := p.Finish(Y)
	if err != nil {
		t.Fatalf("prover Finish: %v", err)
	}
	errP = p.Verify(cB)
	errV = v.Verify(cA)
	return p, v, errP, errV
}

func TestHandshakeAgrees(t *testing.T) {
	p, v, errP, errV := run(t, 20202021, 20202021)
	if errP != nil || errV != nil {
		t.Fatalf("Verify: prover %v, verifier %v", errP, errV)
	}
	kp, err := p.SharedSecret()
	if err != nil {
		t.Fatalf("prover SharedSecret: %v", err)
	}
	kv, err := v.SharedSecret()
	if err != nil {
		t.Fatalf("verifier SharedSecret: %v", err)
	}
	if len(kp) != 16 || !bytes.Equal(kp, kv) {
		t.Fatalf("shared secrets differ: %x vs %x", kp, kv)
	}
}

func TestWrongPasscode(t *testing.T) {
	p, _, errP, _ := run(t, 20202021, 20202022)
	if !errors.Is(errP, ErrVerifierMismatch) {
		t.Fatalf("prover Verify = %v, want ErrVerifierMismatch", errP)
	}
	if _, err := p.SharedSecret(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SharedSecret after mismatch = %v, want ErrInvalidState", err)
	}
}

func TestComputeW0W1(t *testing.T) {
	tests := []struct {
		name       string
		salt       []byte
		iterations int
		wantErr    bool
	}{
		{"ok", testSalt, 1000, false},
		{"too few iterations", testSalt, 999, true},
		{"too many iterations", testSalt, 100001, true},
		{"short salt", make([]byte, 15), 1000, true},
		{"long salt", make([]byte, 33), 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w0, w1, err := ComputeW0W1(20202021, tt.salt, tt.iterations)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParams) {
					t.Fatalf("err = %v, want ErrInvalidParams", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeW0W1: %v", err)
			}
			if len(w0) != ScalarSize || len(w1) != ScalarSize || bytes.Equal(w0, w1) {
				t.Fatalf("unexpected w0/w1: %x %x", w0, w1)
			}
		})
	}
}

func TestFinishRejectsBadShare(t *testing.T) {
	w0, w1, _ := ComputeW0W1(1, testSalt, 1000)
	p, _ := NewProver(nil, w0, w1)
	if _, err := p.Share(); err != nil {
		t.Fatalf("Share: %v", err)
	}
	notOnCurve := append([]byte{0x04}, bytes.Repeat([]byte{0x01}, 64)...)
	for _, share := range [][]byte{nil, {0x00}, notOnCurve, pointM[:33]} {
		if _, err := p.Finish(share); !errors.Is(err, ErrInvalidPoint) {
			t.Errorf("Finish(%x) = %v, want ErrInvalidPoint", share, err)
		}
	}
}

func TestOutOfOrder(t *testing.T) {
	w0, w1, _ := ComputeW0W1(1, testSalt, 1000)
	p, _ := NewProver(nil, w0, w1)
	if _, err := p.Finish(pointN); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Finish before Share = %v, want ErrInvalidState", err)
	}
	if err := p.Verify(nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Verify before Finish = %v, want ErrInvalidState", err)
	}
	if _, err := p.Share(); err != nil {
		t.Fatalf("Share: %v", err)
	}
	if _, err := p.Share(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Share = %v, want ErrInvalidState", err)
	}
}

func TestDeterministicShare(t *testing.T) {
	w0, w1, _ := ComputeW0W1(1, testSalt, 1000)
	seed := bytes.Repeat([]byte{0x42}, 64)

	a, _ := NewProver(nil, w0, w1)
	a.Rand = bytes.NewReader(seed)
	b, _ := NewProver(nil, w0, w1)
	b.Rand = bytes.NewReader(seed)

	x1, err := a.Share()
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	x2, _ := b.Share()
	if !bytes.Equal(x1, x2) || len(x1) != PointSize {
		t.Fatalf("shares differ for the same random source")
	}
}
