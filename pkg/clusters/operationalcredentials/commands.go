// Package operationalcredentials holds the Operational Credentials
// cluster commands used to install a node's identity: requesting a CSR,
// installing the trusted root and adding the node operational
// certificate.
package operationalcredentials

import (
	"errors"
	"fmt"
	"math"

	"github.com/backkem/matterctl/pkg/clusters"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/tlv"
)

// ClusterID is the Operational Credentials cluster.
const ClusterID im.ClusterID = 0x003E

// Command ids.
const (
	CommandCSRRequest                im.CommandID = 0x04
	CommandCSRResponse               im.CommandID = 0x05
	CommandAddNOC                    im.CommandID = 0x06
	CommandUpdateNOC                 im.CommandID = 0x07
	CommandNOCResponse               im.CommandID = 0x08
	CommandAddTrustedRootCertificate im.CommandID = 0x0B
)

// Command paths on the root endpoint.
var (
	CSRRequestPath                = im.CommandPath{Cluster: ClusterID, Command: CommandCSRRequest}
	AddNOCPath                    = im.CommandPath{Cluster: ClusterID, Command: CommandAddNOC}
	AddTrustedRootCertificatePath = im.CommandPath{Cluster: ClusterID, Command: CommandAddTrustedRootCertificate}
)

// CSRNonceSize is the length of the CSRRequest nonce.
const CSRNonceSize = 32

// ErrNOC is matched by the error of a NOCResponse whose status is not
// NOCStatusOK.
var ErrNOC = errors.New("operationalcredentials: device rejected the certificate")

// NOCStatus is the StatusCode of a NOCResponse.
type NOCStatus uint8

const (
	NOCStatusOK                  NOCStatus = 0
	NOCStatusInvalidPublicKey    NOCStatus = 1
	NOCStatusInvalidNodeOpID     NOCStatus = 2
	NOCStatusInvalidNOC          NOCStatus = 3
	NOCStatusMissingCSR          NOCStatus = 4
	NOCStatusTableFull           NOCStatus = 5
	NOCStatusInvalidAdminSubject NOCStatus = 6
	NOCStatusFabricConflict      NOCStatus = 9
	NOCStatusLabelConflict       NOCStatus = 10
	NOCStatusInvalidFabricIndex  NOCStatus = 11
)

var nocStatusNames = map[NOCStatus]string{
	NOCStatusOK:                  "OK",
	NOCStatusInvalidPublicKey:    "InvalidPublicKey",
	NOCStatusInvalidNodeOpID:     "InvalidNodeOpId",
	NOCStatusInvalidNOC:          "InvalidNOC",
	NOCStatusMissingCSR:          "MissingCsr",
	NOCStatusTableFull:           "TableFull",
	NOCStatusInvalidAdminSubject: "InvalidAdminSubject",
	NOCStatusFabricConflict:      "FabricConflict",
	NOCStatusLabelConflict:       "LabelConflict",
	NOCStatusInvalidFabricIndex:  "InvalidFabricIndex",
}

func (s NOCStatus) String() string {
	if name, ok := nocStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NOCStatus(%d)", uint8(s))
}

// CSRRequest asks the device for a fresh operational key and a CSR for
// it.
type CSRRequest struct {
	Nonce          []byte
	IsForUpdateNOC bool
}

func (r *CSRRequest) Fields() tlv.Value {
	fields := []tlv.Value{tlv.Bytes(tlv.ContextTag(0), r.Nonce)}
	if r.IsForUpdateNOC {
		fields = append(fields, tlv.Bool(tlv.ContextTag(1), true))
	}
	return tlv.Struct(tlv.Anonymous(), fields...)
}

// DecodeCSRRequest parses the request fields and checks the nonce size.
func DecodeCSRRequest(v tlv.Value) (*CSRRequest, error) {
	f := clusters.NewFields(v)
	r := &CSRRequest{Nonce: f.Bytes(0), IsForUpdateNOC: f.Bool(1)}
	if err := f.Err(); err != nil {
		return nil, err
	}
	if len(r.Nonce) != CSRNonceSize {
		return nil, fmt.Errorf("%w: %d byte nonce", clusters.ErrInvalidFields, len(r.Nonce))
	}
	return r, nil
}

// CSRResponse carries the encoded NOCSRElements and the device's
// attestation signature over them.
type CSRResponse struct {
	NOCSRElements        []byte
	AttestationSignature []byte
}

func (r *CSRResponse) Fields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(0), r.NOCSRElements),
		tlv.Bytes(tlv.ContextTag(1), r.AttestationSignature),
	)
}

// DecodeCSRResponse parses the response fields.
func DecodeCSRResponse(v tlv.Value) (*CSRResponse, error) {
	f := clusters.NewFields(v)
	r := &CSRResponse{NOCSRElements: f.Bytes(0), AttestationSignature: f.Bytes(1)}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// NOCSRElements is the signed content of a CSRResponse.
type NOCSRElements struct {
	CSR      []byte
	CSRNonce []byte
}

// Encode returns the TLV structure carried in CSRResponse.NOCSRElements.
func (e *NOCSRElements) Encode() ([]byte, error) {
	return tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(1), e.CSR),
		tlv.Bytes(tlv.ContextTag(2), e.CSRNonce),
	))
}

// DecodeNOCSRElements parses the NOCSRElements octet string. Vendor
// reserved members are ignored.
func DecodeNOCSRElements(data []byte) (*NOCSRElements, error) {
	v, err := tlv.Decode(data)
	if err != nil {
		return nil, err
	}
	f := clusters.NewFields(v)
	e := &NOCSRElements{CSR: f.Bytes(1), CSRNonce: f.Bytes(2)}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

// AddTrustedRootCertificateRequest installs a root certificate in the
// protocol TLV encoding.
type AddTrustedRootCertificateRequest struct {
	RootCACertificate []byte
}

func (r *AddTrustedRootCertificateRequest) Fields() tlv.Value {
	return tlv.Struct(tlv.Anonymous(), tlv.Bytes(tlv.ContextTag(0), r.RootCACertificate))
}

// DecodeAddTrustedRootCertificateRequest parses the request fields.
func DecodeAddTrustedRootCertificateRequest(v tlv.Value) (*AddTrustedRootCertificateRequest, error) {
	f := clusters.NewFields(v)
	r := &AddTrustedRootCertificateRequest{RootCACertificate: f.Bytes(0)}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// AddNOCRequest installs the node operational certificate and joins the
// device to the fabric.
type AddNOCRequest struct {
	NOC              []byte
	ICAC             []byte
	IPK              []byte
	CaseAdminSubject uint64
	AdminVendorID    uint16
}

func (r *AddNOCRequest) Fields() tlv.Value {
	fields := []tlv.Value{tlv.Bytes(tlv.ContextTag(0), r.NOC)}
	if r.ICAC != nil {
		fields = append(fields, tlv.Bytes(tlv.ContextTag(1), r.ICAC))
	}
	fields = append(fields,
		tlv.Bytes(tlv.ContextTag(2), r.IPK),
		tlv.Uint(tlv.ContextTag(3), r.CaseAdminSubject),
		tlv.Uint(tlv.ContextTag(4), uint64(r.AdminVendorID)),
	)
	return tlv.Struct(tlv.Anonymous(), fields...)
}

// DecodeAddNOCRequest parses the request fields.
func DecodeAddNOCRequest(v tlv.Value) (*AddNOCRequest, error) {
	f := clusters.NewFields(v)
	r := &AddNOCRequest{
		NOC:              f.Bytes(0),
		IPK:              f.Bytes(2),
		CaseAdminSubject: f.Uint(3, math.MaxUint64),
		AdminVendorID:    uint16(f.Uint(4, math.MaxUint16)),
	}
	r.ICAC, _ = f.OptionalBytes(1)
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// NOCResponse answers AddNOC and UpdateNOC.
type NOCResponse struct {
	StatusCode NOCStatus

	// FabricIndex is set on success.
	FabricIndex uint8
	DebugText   string
}

func (r *NOCResponse) Fields() tlv.Value {
	fields := []tlv.Value{tlv.Uint(tlv.ContextTag(0), uint64(r.StatusCode))}
	if r.StatusCode == NOCStatusOK {
		fields = append(fields, tlv.Uint(tlv.ContextTag(1), uint64(r.FabricIndex)))
	}
	if r.DebugText != "" {
		fields = append(fields, tlv.String(tlv.ContextTag(2), r.DebugText))
	}
	return tlv.Struct(tlv.Anonymous(), fields...)
}

// Err returns nil for NOCStatusOK.
func (r *NOCResponse) Err() error {
	if r.StatusCode == NOCStatusOK {
		return nil
	}
	if r.DebugText != "" {
		return fmt.Errorf("%w: %s (%s)", ErrNOC, r.StatusCode, r.DebugText)
	}
	return fmt.Errorf("%w: %s", ErrNOC, r.StatusCode)
}

// DecodeNOCResponse parses the response fields.
func DecodeNOCResponse(v tlv.Value) (*NOCResponse, error) {
	f := clusters.NewFields(v)
	r := &NOCResponse{StatusCode: NOCStatus(f.Uint(0, math.MaxUint8)), DebugText: f.String(2)}
	if idx, ok := f.OptionalUint(1, math.MaxUint8); ok {
		r.FabricIndex = uint8(idx)
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return r, nil
}
