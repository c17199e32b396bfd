package pase

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/matterctl/pkg/crypto/spake2p"
	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/securechannel"
	"github.com/backkem/matterctl/pkg/session"
	"github.com/backkem/matterctl/pkg/transport"
)

const (
	testPasscode   = 20202021
	testIterations = 1000
)

var testSalt = []byte("SPAKE2P Key Salt")

type handshake struct {
	pipe               *transport.Pipe
	initSess, respSess *session.Unsecured
	initEx, respEx     *exchange.Exchange
	initiator          *Initiator
	responder          *Responder
}

func newHandshake(t *testing.T, devicePasscode uint32) *handshake {
	t.Helper()
	p := transport.NewPipe()
	t.Cleanup(func() { p.Close() })
	for i := 0; i < 2; i++ {
		if err := p.Endpoint(i).Open(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	v, err := GenerateVerifier(devicePasscode, testSalt, testIterations)
	if err != nil {
		t.Fatalf("GenerateVerifier: %v", err)
	}
	resp, err := NewResponder(ResponderConfig{Verifier: v, Salt: testSalt, Iterations: testIterations})
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	h := &handshake{
		pipe:      p,
		initSess:  session.NewUnsecured(session.UnsecuredConfig{Transport: p.Endpoint(0)}),
		respSess:  session.NewUnsecured(session.UnsecuredConfig{Transport: p.Endpoint(1), Role: session.RoleResponder}),
		initiator: NewInitiator(InitiatorConfig{}),
		responder: resp,
	}
	h.initEx = exchange.New(h.initSess, exchange.Config{Initiator: true})
	h.respEx = exchange.New(h.respSess, exchange.Config{})
	t.Cleanup(func() {
		h.initEx.Close()
		h.respEx.Close()
	})
	return h
}

type outcome struct {
	res *Result
	err error
}

func (h *handshake) run(ctx context.Context, passcode uint32) (outcome, outcome) {
	respCh := make(chan outcome, 1)
	go func() {
		res, err := h.responder.Respond(ctx, h.respEx)
		respCh <- outcome{res, err}
	}()
	res, err := h.initiator.Establish(ctx, h.initEx, passcode)
	return outcome{res, err}, <-respCh
}

func TestHandshake(t *testing.T) {
	h := newHandshake(t, testPasscode)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ini, resp := h.run(ctx, testPasscode)
	if ini.err != nil || resp.err != nil {
		t.Fatalf("initiator: %v, responder: %v", ini.err, resp.err)
	}
	if !bytes.Equal(ini.res.Keys.I2R, resp.res.Keys.I2R) ||
		!bytes.Equal(ini.res.Keys.R2I, resp.res.Keys.R2I) ||
		!bytes.Equal(ini.res.Keys.AttestationChallenge, resp.res.Keys.AttestationChallenge) {
		t.Fatal("sides derived different keys")
	}
	if bytes.Equal(ini.res.Keys.I2R, ini.res.Keys.R2I) {
		t.Fatal("I2R and R2I keys are equal")
	}
	if ini.res.LocalSessionID != resp.res.PeerSessionID || ini.res.PeerSessionID != resp.res.LocalSessionID {
		t.Fatalf("session ids %+v / %+v", ini.res, resp.res)
	}

	// Hand both transports over to the secure session.
	h.initEx.Close()
	h.respEx.Close()
	initSecure, err := ini.res.NewSession(h.initSess.Detach(), session.RoleInitiator, true, nil)
	if err != nil {
		t.Fatalf("initiator NewSession: %v", err)
	}
	respSecure, err := resp.res.NewSession(h.respSess.Detach(), session.RoleResponder, true, nil)
	if err != nil {
		t.Fatalf("responder NewSession: %v", err)
	}
	if !bytes.Equal(ini.res.Keys.I2R, make([]byte, 16)) {
		t.Fatal("NewSession left the result keys in place")
	}

	client := exchange.New(initSecure, exchange.Config{Initiator: true})
	defer client.Close()
	server := exchange.New(respSecure, exchange.Config{})
	defer server.Close()

	if err := client.Send(ctx, message.ProtocolInteractionModel, 0x08, []byte("secured")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(f.Body) != "secured" || f.Header.SessionID != respSecure.LocalSessionID() {
		t.Fatalf("frame %+v", f)
	}
}

func TestHandshakeWrongPasscode(t *testing.T) {
	h := newHandshake(t, testPasscode)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ini, resp := h.run(ctx, 20202022)
	if !errors.Is(ini.err, spake2p.ErrVerifierMismatch) {
		t.Fatalf("initiator err = %v, want ErrVerifierMismatch", ini.err)
	}
	if ini.res != nil || resp.res != nil {
		t.Fatal("a result was returned for a failed handshake")
	}
	var se *securechannel.StatusReportError
	if !errors.As(resp.err, &se) {
		t.Fatalf("responder err = %v, want StatusReportError", resp.err)
	}
	if securechannel.ProtocolCode(se.Report.ProtocolCode) != securechannel.ProtocolCodeInvalidParam {
		t.Fatalf("status %v", se.Report)
	}
}

func TestValidatePasscode(t *testing.T) {
	tests := []struct {
		passcode uint32
		ok       bool
	}{
		{20202021, true},
		{1, true},
		{0, false},
		{11111111, false},
		{12345678, false},
		{87654321, false},
		{100000000, false},
	}
	for _, tt := range tests {
		err := ValidatePasscode(tt.passcode)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePasscode(%d) = %v", tt.passcode, err)
		}
	}
}

func TestNewResponderValidation(t *testing.T) {
	v, err := GenerateVerifier(testPasscode, testSalt, testIterations)
	if err != nil {
		t.Fatalf("GenerateVerifier: %v", err)
	}
	if _, err := NewResponder(ResponderConfig{Verifier: v, Salt: []byte("short"), Iterations: testIterations}); !errors.Is(err, spake2p.ErrInvalidParams) {
		t.Errorf("short salt: %v", err)
	}
	if _, err := NewResponder(ResponderConfig{Verifier: v, Salt: testSalt, Iterations: 10}); !errors.Is(err, spake2p.ErrInvalidParams) {
		t.Errorf("low iterations: %v", err)
	}
	if _, err := NewResponder(ResponderConfig{Salt: testSalt, Iterations: testIterations}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("nil verifier: %v", err)
	}
}
