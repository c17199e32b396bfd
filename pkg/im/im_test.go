package im

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/session"
	"github.com/backkem/matterctl/pkg/tlv"
	"github.com/backkem/matterctl/pkg/transport"
)

var armFailSafe = CommandPath{Endpoint: 0, Cluster: 0x30, Command: 0}

func armFailSafeFields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), 60),
		tlv.Uint(tlv.ContextTag(1), 1),
	)
}

func TestInvokeRequestEncoding(t *testing.T) {
	req := &InvokeRequest{Commands: []CommandData{{Path: armFailSafe, Fields: armFailSafeFields()}}}
	got, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{
		0x15,
		0x28, 0x00,
		0x28, 0x01,
		0x36, 0x02,
		0x15,
		0x37, 0x00, 0x24, 0x00, 0x00, 0x24, 0x01, 0x30, 0x24, 0x02, 0x00, 0x18,
		0x35, 0x01, 0x24, 0x00, 0x3C, 0x24, 0x01, 0x01, 0x18,
		0x18,
		0x18,
		0x24, 0xFF, 0x0C,
		0x18,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode =\n% x\nwant\n% x", got, want)
	}

	dec, err := DecodeInvokeRequest(got)
	if err != nil {
		t.Fatalf("DecodeInvokeRequest: %v", err)
	}
	if len(dec.Commands) != 1 || dec.Commands[0].Path != armFailSafe {
		t.Fatalf("decoded %+v", dec)
	}
	if !tlv.Equal(dec.Commands[0].Fields, armFailSafeFields()) {
		t.Errorf("fields %s", dec.Commands[0].Fields)
	}
}

func TestInvokeResponseDecode(t *testing.T) {
	cs := uint8(2)
	resp := &InvokeResponse{Responses: []InvokeResponseIB{
		{Command: &CommandData{
			Path:   CommandPath{Cluster: 0x30, Command: 1},
			Fields: tlv.Struct(tlv.Anonymous(), tlv.Uint(tlv.ContextTag(0), 0), tlv.String(tlv.ContextTag(1), "")),
		}},
		{Status: &CommandStatus{Path: armFailSafe, Status: StatusIB{Status: StatusFailure, ClusterStatus: &cs}}},
	}}
	b, err := resp.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeInvokeResponse(b)
	if err != nil {
		t.Fatalf("DecodeInvokeResponse: %v", err)
	}
	if len(got.Responses) != 2 {
		t.Fatalf("%d responses", len(got.Responses))
	}
	if c := got.Responses[0].Command; c == nil || c.Path.Command != 1 {
		t.Errorf("first response %+v", got.Responses[0])
	}
	st := got.Responses[1].Status
	if st == nil || st.Status.Status != StatusFailure || st.Status.ClusterStatus == nil || *st.Status.ClusterStatus != 2 {
		t.Errorf("second response %+v", got.Responses[1])
	}
}

func TestDecodeRejects(t *testing.T) {
	noPath, _ := tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Array(tlv.ContextTag(2), tlv.Struct(tlv.Anonymous(), tlv.Struct(tlv.ContextTag(1)))),
	))
	noList, _ := tlv.Encode(tlv.Struct(tlv.Anonymous(), tlv.Bool(tlv.ContextTag(0), false)))
	bigEndpoint, _ := tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Array(tlv.ContextTag(2), tlv.Struct(tlv.Anonymous(),
			tlv.List(tlv.ContextTag(0), tlv.Uint(tlv.ContextTag(0), 0x10000), tlv.Uint(tlv.ContextTag(1), 0), tlv.Uint(tlv.ContextTag(2), 0)),
		)),
	))
	array, _ := tlv.Encode(tlv.Array(tlv.Anonymous()))

	tests := []struct {
		name string
		data []byte
	}{
		{"missing path", noPath},
		{"missing request list", noList},
		{"endpoint out of range", bigEndpoint},
		{"not a structure", array},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeInvokeRequest(tt.data); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("DecodeInvokeRequest = %v, want ErrInvalidMessage", err)
			}
		})
	}
	if _, err := DecodeInvokeRequest([]byte{0x15, 0x28}); !errors.Is(err, tlv.ErrTruncatedInput) {
		t.Errorf("truncated input: %v", err)
	}
}

func TestStatusResponse(t *testing.T) {
	b, err := (&StatusResponse{Status: StatusBusy}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x15, 0x24, 0x00, 0x9c, 0x24, 0xFF, 0x0C, 0x18}
	if !bytes.Equal(b, want) {
		t.Fatalf("Encode = % x, want % x", b, want)
	}
	got, err := DecodeStatusResponse(b)
	if err != nil || got.Status != StatusBusy {
		t.Fatalf("DecodeStatusResponse = %+v, %v", got, err)
	}
}

// serve starts a Server on the responder side of a pipe and returns a
// Client for the initiator side.
func serve(t *testing.T, srv *Server) *Client {
	t.Helper()
	p := transport.NewPipe()
	t.Cleanup(func() { p.Close() })
	for i := 0; i < 2; i++ {
		if err := p.Endpoint(i).Open(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	client := session.NewUnsecured(session.UnsecuredConfig{Transport: p.Endpoint(0)})
	device := session.NewUnsecured(session.UnsecuredConfig{Transport: p.Endpoint(1), Role: session.RoleResponder})

	ctx, cancel := context.WithCancel(context.Background())
	ex := exchange.New(device, exchange.Config{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ex)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		ex.Close()
	})
	return NewClient(ClientConfig{Session: client, Timeout: 5 * time.Second})
}

func TestClientServer(t *testing.T) {
	srv := NewServer(ServerConfig{})
	var gotFields tlv.Value
	srv.Handle(armFailSafe, func(_ context.Context, _ CommandPath, fields tlv.Value) (*CommandResult, error) {
		gotFields = fields
		return &CommandResult{
			Command: 1,
			Fields: tlv.Struct(tlv.Anonymous(),
				tlv.Uint(tlv.ContextTag(0), 0),
				tlv.String(tlv.ContextTag(1), ""),
			),
		}, nil
	})
	complete := CommandPath{Cluster: 0x30, Command: 4}
	srv.Handle(complete, func(context.Context, CommandPath, tlv.Value) (*CommandResult, error) {
		cs := uint8(3)
		return nil, &StatusError{Status: StatusFailure, ClusterStatus: &cs}
	})
	silent := CommandPath{Cluster: 0x3e, Command: 0xb}
	srv.Handle(silent, func(context.Context, CommandPath, tlv.Value) (*CommandResult, error) {
		return nil, nil
	})

	c := serve(t, srv)
	ctx := context.Background()

	resp, err := c.Invoke(ctx, armFailSafe, armFailSafeFields())
	if err != nil {
		t.Fatalf("Invoke ArmFailSafe: %v", err)
	}
	if !tlv.Equal(gotFields, armFailSafeFields()) {
		t.Errorf("handler saw fields %s", gotFields)
	}
	if code, ok := resp.Field(0); !ok {
		t.Errorf("response %s", resp)
	} else if n, _ := code.AsUint(); n != 0 {
		t.Errorf("error code %d", n)
	}

	if resp, err := c.Invoke(ctx, silent, tlv.Value{}); err != nil || resp.Kind() != tlv.KindInvalid {
		t.Errorf("Invoke with status-only answer = %s, %v", resp, err)
	}

	_, err = c.Invoke(ctx, complete, tlv.Value{})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != StatusFailure || se.ClusterStatus == nil || *se.ClusterStatus != 3 {
		t.Errorf("Invoke failing command = %v", err)
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Errorf("%v does not match ErrCommandFailed", err)
	}

	_, err = c.Invoke(ctx, CommandPath{Cluster: 0x99}, tlv.Value{})
	if !errors.As(err, &se) || se.Status != StatusUnsupportedCommand {
		t.Errorf("Invoke unknown command = %v", err)
	}
}

func TestServerRejectsOtherOpcodes(t *testing.T) {
	srv := NewServer(ServerConfig{})
	op, body := srv.HandleMessage(context.Background(), OpcodeTimedRequest, nil)
	if op != OpcodeStatusResponse {
		t.Fatalf("opcode %s", op)
	}
	sr, err := DecodeStatusResponse(body)
	if err != nil || sr.Status != StatusInvalidAction {
		t.Fatalf("status %+v, %v", sr, err)
	}
}
