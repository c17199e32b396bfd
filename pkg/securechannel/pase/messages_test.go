package pase

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/matterctl/pkg/tlv"
)

func TestPBKDFParamRequestEncoding(t *testing.T) {
	random := bytes.Repeat([]byte{0xAA}, RandomSize)
	req := &PBKDFParamRequest{InitiatorRandom: random, InitiatorSessionID: 0x1234}
	got, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{0x15, 0x30, 0x01, 0x20}
	want = append(want, random...)
	want = append(want,
		0x25, 0x02, 0x34, 0x12, // session id, uint16
		0x24, 0x03, 0x00, // passcode id
		0x28, 0x04, // hasPBKDFParameters = false
		0x18,
	)
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode =\n% x\nwant\n% x", got, want)
	}

	decoded, err := DecodePBKDFParamRequest(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.InitiatorSessionID != 0x1234 || decoded.HasPBKDFParameters || decoded.MRP != nil {
		t.Fatalf("decoded %+v", decoded)
	}
}

func TestPBKDFParamResponseParams(t *testing.T) {
	resp := &PBKDFParamResponse{
		InitiatorRandom:    bytes.Repeat([]byte{1}, RandomSize),
		ResponderRandom:    bytes.Repeat([]byte{2}, RandomSize),
		ResponderSessionID: 7,
		Params:             &PBKDFParameters{Iterations: 1000, Salt: []byte("0123456789abcdef")},
		MRP:                &MRPParameters{IdleInterval: 500, ActiveThreshold: 4000},
	}
	data, err := resp.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodePBKDFParamResponse(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Params == nil || got.Params.Iterations != 1000 || string(got.Params.Salt) != "0123456789abcdef" {
		t.Fatalf("params %+v", got.Params)
	}
	if got.MRP == nil || *got.MRP != (MRPParameters{IdleInterval: 500, ActiveThreshold: 4000}) {
		t.Fatalf("mrp %+v", got.MRP)
	}
}

func TestDecodeRejects(t *testing.T) {
	short, _ := tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(1), []byte{1, 2, 3}),
		tlv.Uint(tlv.ContextTag(2), 1),
		tlv.Uint(tlv.ContextTag(3), 0),
		tlv.Bool(tlv.ContextTag(4), false),
	))
	noSession, _ := tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(1), make([]byte, RandomSize)),
	))
	array, _ := tlv.Encode(tlv.Array(tlv.Anonymous()))
	wrongType, _ := tlv.Encode(tlv.Struct(tlv.Anonymous(), tlv.Uint(tlv.ContextTag(1), 5)))

	tests := []struct {
		name   string
		decode func() error
		want   error
	}{
		{"short random", func() error { _, err := DecodePBKDFParamRequest(short); return err }, ErrInvalidMessage},
		{"missing session id", func() error { _, err := DecodePBKDFParamRequest(noSession); return err }, ErrInvalidMessage},
		{"not a structure", func() error { _, err := DecodePake1(array); return err }, ErrInvalidMessage},
		{"share not bytes", func() error { _, err := DecodePake3(wrongType); return err }, tlv.ErrMalformedTLV},
		{"truncated", func() error { _, err := DecodePake2([]byte{0x15, 0x30, 0x01}); return err }, tlv.ErrTruncatedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.decode(); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
