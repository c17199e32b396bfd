package devicesim

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/matterctl/pkg/discovery"
	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/transport"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"trivial passcode", Config{Passcode: 11111111}},
		{"passcode too large", Config{Passcode: 100000000}},
		{"discriminator too large", Config{Passcode: 20202021, Discriminator: 0x1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config); err == nil {
				t.Error("New succeeded")
			}
		})
	}
}

func TestTXT(t *testing.T) {
	d, err := New(Config{Passcode: 20202021, Discriminator: 3840, ProductID: 0x8001})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	txt := d.TXT()
	if txt.Discriminator != 3840 || txt.ProductID != 0x8001 || txt.DeviceName != DefaultDeviceName {
		t.Errorf("TXT = %+v", txt)
	}
	if txt.CommissioningMode != discovery.CommissioningModeBasic {
		t.Errorf("commissioning mode %d", txt.CommissioningMode)
	}
	if len(d.AttestationPublicKey()) != 65 {
		t.Errorf("attestation key is %d bytes", len(d.AttestationPublicKey()))
	}
	if s := d.Snapshot(); s.Commissioned || s.FailSafeArmed {
		t.Errorf("fresh device snapshot %+v", s)
	}
}

func TestMuxRoutesBySession(t *testing.T) {
	p := transport.NewPipe()
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, b := p.Endpoint(0), p.Endpoint(1)
	if err := a.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Open(ctx); err != nil {
		t.Fatal(err)
	}

	m := newMux(b, 0x1234, nil)
	runCtx, stop := context.WithCancel(ctx)
	go m.run(runCtx)

	frame := func(session uint16, payload byte) []byte {
		h := message.Header{SessionID: session, Counter: uint32(payload)}
		return append(h.Encode(), payload)
	}
	for _, f := range [][]byte{frame(0x0099, 1), frame(0, 2), frame(0x1234, 3)} {
		if err := a.Send(ctx, f); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	got, err := m.plain.Read(ctx)
	if err != nil || !bytes.Equal(got, frame(0, 2)) {
		t.Fatalf("plain lane read %x, %v", got, err)
	}
	got, err = m.secure.Read(ctx)
	if err != nil || !bytes.Equal(got, frame(0x1234, 3)) {
		t.Fatalf("secure lane read %x, %v", got, err)
	}

	// Closing a lane leaves the shared transport usable.
	m.plain.Close()
	if _, err := m.plain.Read(ctx); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("closed lane read: %v", err)
	}
	if err := m.secure.Send(ctx, frame(0x1234, 4)); err != nil {
		t.Errorf("secure lane send: %v", err)
	}

	stop()
	<-m.done
	if _, err := m.secure.Read(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("secure lane after mux exit: %v", err)
	}
}
