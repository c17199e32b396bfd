package operationalcredentials

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/matterctl/pkg/clusters"
	"github.com/backkem/matterctl/pkg/tlv"
)

func TestNOCSRElements(t *testing.T) {
	nonce := bytes.Repeat([]byte{0xAA}, CSRNonceSize)
	b, err := (&NOCSRElements{CSR: []byte{0x30, 0x01, 0x00}, CSRNonce: nonce}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	e, err := DecodeNOCSRElements(b)
	if err != nil {
		t.Fatalf("DecodeNOCSRElements: %v", err)
	}
	if !bytes.Equal(e.CSRNonce, nonce) || !bytes.Equal(e.CSR, []byte{0x30, 0x01, 0x00}) {
		t.Errorf("decoded %+v", e)
	}
}

func TestCSRRequestNonceSize(t *testing.T) {
	short := (&CSRRequest{Nonce: make([]byte, 16)}).Fields()
	if _, err := DecodeCSRRequest(short); !errors.Is(err, clusters.ErrInvalidFields) {
		t.Errorf("16 byte nonce: %v", err)
	}
	r, err := DecodeCSRRequest((&CSRRequest{Nonce: make([]byte, CSRNonceSize), IsForUpdateNOC: true}).Fields())
	if err != nil || !r.IsForUpdateNOC {
		t.Errorf("DecodeCSRRequest = %+v, %v", r, err)
	}
}

func TestAddNOCRequest(t *testing.T) {
	req := &AddNOCRequest{
		NOC:              []byte{1},
		IPK:              bytes.Repeat([]byte{2}, 16),
		CaseAdminSubject: 0x1122334455,
		AdminVendorID:    0xFFF1,
	}
	v := req.Fields()
	if _, ok := v.Field(1); ok {
		t.Error("absent ICAC encoded")
	}
	got, err := DecodeAddNOCRequest(v)
	if err != nil {
		t.Fatalf("DecodeAddNOCRequest: %v", err)
	}
	if got.ICAC != nil || got.CaseAdminSubject != req.CaseAdminSubject || got.AdminVendorID != req.AdminVendorID {
		t.Errorf("decoded %+v", got)
	}
	if _, err := DecodeAddNOCRequest(tlv.Struct(tlv.Anonymous(), tlv.Bytes(tlv.ContextTag(0), []byte{1}))); !errors.Is(err, clusters.ErrMissingField) {
		t.Errorf("missing IPK: %v", err)
	}
}

func TestNOCResponseErr(t *testing.T) {
	ok, err := DecodeNOCResponse((&NOCResponse{FabricIndex: 1}).Fields())
	if err != nil || ok.Err() != nil || ok.FabricIndex != 1 {
		t.Fatalf("success response = %+v, %v", ok, err)
	}
	bad, err := DecodeNOCResponse((&NOCResponse{StatusCode: NOCStatusInvalidNOC, DebugText: "bad chain"}).Fields())
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(bad.Err(), ErrNOC) {
		t.Errorf("Err = %v", bad.Err())
	}
}
