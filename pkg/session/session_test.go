package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/transport"
)

func testKeys() crypto.SessionKeys {
	return crypto.SessionKeys{
		I2R:                  bytes.Repeat([]byte{0x11}, 16),
		R2I:                  bytes.Repeat([]byte{0x22}, 16),
		AttestationChallenge: bytes.Repeat([]byte{0x33}, 16),
	}
}

func securePair(t *testing.T) (*Secure, *Secure) {
	t.Helper()
	p := transport.NewPipe()
	t.Cleanup(func() { p.Close() })
	a, b := p.Endpoint(0), p.Endpoint(1)
	a.Open(context.Background())
	b.Open(context.Background())

	ini, err := NewSecure(SecureConfig{
		Transport: a, Type: TypePASE, Role: RoleInitiator,
		LocalSessionID: 10, PeerSessionID: 20, Keys: testKeys(), Reliable: true,
	})
	if err != nil {
		t.Fatalf("NewSecure initiator: %v", err)
	}
	resp, err := NewSecure(SecureConfig{
		Transport: b, Type: TypePASE, Role: RoleResponder,
		LocalSessionID: 20, PeerSessionID: 10, Keys: testKeys(), Reliable: true,
	})
	if err != nil {
		t.Fatalf("NewSecure responder: %v", err)
	}
	return ini, resp
}

func frame(body string) *message.Frame {
	return &message.Frame{
		Payload: message.PayloadHeader{
			Flags:      message.ExchangeFlagInitiator,
			Opcode:     0x08,
			ExchangeID: 7,
			ProtocolID: message.ProtocolInteractionModel,
		},
		Body: []byte(body),
	}
}

func decode(t *testing.T, s Session, data []byte) (*message.Frame, error) {
	t.Helper()
	h, rest, err := message.DecodeHeader(data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	return s.Decode(h, rest)
}

func TestSecureRoundTrip(t *testing.T) {
	ini, resp := securePair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := ini.SendFrame(ctx, frame("hello")); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	data, err := resp.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	f, err := decode(t, resp, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(f.Body) != "hello" || f.Header.SessionID != 20 || f.Payload.ExchangeID != 7 {
		t.Fatalf("unexpected frame %+v", f)
	}

	// Reply flows the other way with the R2I key.
	reply, err := resp.Encode(frame("world"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if f, err := decode(t, ini, reply); err != nil || string(f.Body) != "world" {
		t.Fatalf("initiator Decode = %v, %v", f, err)
	}
	// The initiator cannot read its own outbound direction.
	own, _ := ini.Encode(frame("self"))
	h, rest, _ := message.DecodeHeader(own)
	h.SessionID = ini.LocalSessionID()
	if _, err := ini.Decode(h, rest); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("decoding own traffic = %v, want ErrDecryptionFailed", err)
	}
}

func TestSecureBitFlips(t *testing.T) {
	ini, resp := securePair(t)
	data, err := ini.Encode(frame("authenticated payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip every bit after the session id: security flags, counter,
	// ciphertext and tag.
	for i := 3; i < len(data); i++ {
		for bit := 0; bit < 8; bit++ {
			mut := append([]byte{}, data...)
			mut[i] ^= 1 << bit
			h, rest, err := message.DecodeHeader(mut)
			if err != nil {
				continue
			}
			if f, err := resp.Decode(h, rest); err == nil {
				t.Fatalf("byte %d bit %d: flipped frame decoded: %+v", i, bit, f)
			}
		}
	}
	if _, err := decode(t, resp, data); err != nil {
		t.Fatalf("original frame no longer decodes: %v", err)
	}
}

func TestSecureCountersIncrease(t *testing.T) {
	ini, _ := securePair(t)
	var prev uint32
	for i := 0; i < 10; i++ {
		data, err := ini.Encode(frame("x"))
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		h, _, _ := message.DecodeHeader(data)
		if i > 0 && h.Counter != prev+1 {
			t.Fatalf("counter %d after %d", h.Counter, prev)
		}
		prev = h.Counter
	}
}

func TestSecureRejectsOtherSession(t *testing.T) {
	ini, resp := securePair(t)
	data, _ := ini.Encode(frame("x"))
	h, rest, _ := message.DecodeHeader(data)
	h.SessionID = 99
	if _, err := resp.Decode(h, rest); !errors.Is(err, ErrSessionMismatch) {
		t.Fatalf("Decode = %v, want ErrSessionMismatch", err)
	}
}

func TestNewSecureValidation(t *testing.T) {
	tests := []struct {
		name   string
		config SecureConfig
		want   error
	}{
		{"unsecured type", SecureConfig{Type: TypeUnsecured, LocalSessionID: 1, Keys: testKeys()}, ErrInvalidSessionType},
		{"zero session id", SecureConfig{Type: TypePASE, Keys: testKeys()}, ErrInvalidSessionID},
		{"short key", SecureConfig{Type: TypeCASE, LocalSessionID: 1, Keys: crypto.SessionKeys{I2R: []byte{1}, R2I: []byte{2}}}, ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSecure(tt.config); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSecureCloseZeroizes(t *testing.T) {
	ini, _ := securePair(t)
	if err := ini.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bytes.Equal(ini.encKey, make([]byte, 16)) || !bytes.Equal(ini.decKey, make([]byte, 16)) {
		t.Fatal("keys survived Close")
	}
	if err := ini.SendFrame(context.Background(), frame("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendFrame after Close = %v, want ErrClosed", err)
	}
}

func TestSecureDecodeDuringClose(t *testing.T) {
	ini, resp := securePair(t)
	data, err := ini.Encode(frame("racing close"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h, rest, err := message.DecodeHeader(data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := resp.Decode(h, rest)
			errs <- err
		}()
	}
	resp.Close()
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("Decode = %v, want success or ErrClosed", err)
		}
	}
}

func TestUnsecuredLearnsPeer(t *testing.T) {
	p := transport.NewPipe()
	defer p.Close()
	a := NewUnsecured(UnsecuredConfig{Transport: p.Endpoint(0), EphemeralNodeID: 0xAAAA})
	b := NewUnsecured(UnsecuredConfig{Transport: p.Endpoint(1), Role: RoleResponder, EphemeralNodeID: 0xBBBB})

	data, err := a.Encode(frame("pbkdf"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := decode(t, b, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(f.Body) != "pbkdf" || b.PeerNodeID() != 0xAAAA {
		t.Fatalf("frame %+v, peer %x", f, b.PeerNodeID())
	}

	reply, _ := b.Encode(frame("resp"))
	h, _, _ := message.DecodeHeader(reply)
	if h.Destination != message.DestinationNode || h.DestinationNode != 0xAAAA || h.SourceNodeID != 0xBBBB {
		t.Fatalf("reply header %+v", h)
	}

	if tr := a.Detach(); tr != p.Endpoint(0) {
		t.Fatalf("Detach returned a different transport")
	}
	if _, err := a.Encode(frame("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Encode after Detach = %v, want ErrClosed", err)
	}
}
