// Package credentials issues operational certificates and converts them
// between X.509 DER and the compact TLV form sent to devices.
package credentials

import (
	"fmt"
	"time"

	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/tlv"
)

// Certificate field tags.
const (
	tagSerialNumber uint8 = 1
	tagSigAlgo      uint8 = 2
	tagIssuer       uint8 = 3
	tagNotBefore    uint8 = 4
	tagNotAfter     uint8 = 5
	tagSubject      uint8 = 6
	tagPubKeyAlgo   uint8 = 7
	tagCurveID      uint8 = 8
	tagPublicKey    uint8 = 9
	tagExtensions   uint8 = 10
	tagSignature    uint8 = 11
)

// Extension tags.
const (
	tagBasicConstraints uint8 = 1
	tagKeyUsage         uint8 = 2
	tagExtKeyUsage      uint8 = 3
	tagSubjectKeyID     uint8 = 4
	tagAuthorityKeyID   uint8 = 5
	tagFutureExtension  uint8 = 6

	tagIsCA    uint8 = 1
	tagPathLen uint8 = 2
)

const (
	sigAlgoECDSAWithSHA256 = 1
	pubKeyAlgoEC           = 1
	curvePrime256v1        = 1

	// MaxTLVSize bounds an encoded certificate.
	MaxTLVSize = 400
	keyIDSize  = 20
)

// KeyUsage flags, bit-compatible with crypto/x509.KeyUsage.
type KeyUsage uint16

const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageNonRepudiation
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageKeyCertSign
	KeyUsageCRLSign
	KeyUsageEncipherOnly
	KeyUsageDecipherOnly
)

// KeyPurpose is an extended key usage.
type KeyPurpose uint8

const (
	PurposeServerAuth KeyPurpose = iota + 1
	PurposeClientAuth
	PurposeCodeSigning
	PurposeEmailProtection
	PurposeTimeStamping
	PurposeOCSPSigning
)

// Extensions holds the certificate extensions the TLV form can carry.
type Extensions struct {
	IsCA bool
	// PathLen is negative when absent.
	PathLen        int
	KeyUsage       KeyUsage
	ExtKeyUsage    []KeyPurpose
	SubjectKeyID   []byte
	AuthorityKeyID []byte
	// Future holds the DER of extensions without a dedicated tag.
	Future [][]byte
}

// CertType is the role a certificate plays in a fabric.
type CertType uint8

const (
	CertTypeUnknown CertType = iota
	CertTypeRoot
	CertTypeIntermediate
	CertTypeNode
)

func (t CertType) String() string {
	switch t {
	case CertTypeRoot:
		return "RCAC"
	case CertTypeIntermediate:
		return "ICAC"
	case CertTypeNode:
		return "NOC"
	default:
		return "unknown"
	}
}

// Certificate is the decoded TLV form of an operational certificate.
type Certificate struct {
	SerialNumber []byte
	Issuer       DN
	Subject      DN
	NotBefore    time.Time
	// NotAfter is zero for a certificate that never expires.
	NotAfter   time.Time
	PublicKey  []byte
	Extensions Extensions
	Signature  []byte
}

// Type infers the certificate role from its subject.
func (c *Certificate) Type() CertType {
	for _, a := range c.Subject {
		switch a.Type {
		case AttrRCACID:
			return CertTypeRoot
		case AttrICACID:
			return CertTypeIntermediate
		case AttrNodeID:
			return CertTypeNode
		}
	}
	return CertTypeUnknown
}

// NodeID returns the subject's operational node id.
func (c *Certificate) NodeID() (uint64, bool) { return c.Subject.Find(AttrNodeID) }

// FabricID returns the subject's fabric id.
func (c *Certificate) FabricID() (uint64, bool) { return c.Subject.Find(AttrFabricID) }

// VerifySignedBy checks the signature over tbs, the DER TBSCertificate
// this certificate was converted from, against parent's key.
func (c *Certificate) VerifySignedBy(parent *Certificate, tbs []byte) error {
	return crypto.Verify(parent.PublicKey, tbs, c.Signature)
}

// The validity epoch starts at 2000-01-01 UTC.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// noExpiry is the X.509 "no well-defined expiration" date.
var noExpiry = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func toEpoch(t time.Time) (uint64, error) {
	if t.IsZero() || t.Equal(noExpiry) {
		return 0, nil
	}
	if t.Before(epoch) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTime, t)
	}
	s := uint64(t.Sub(epoch) / time.Second)
	if s > 0xFFFFFFFF {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTime, t)
	}
	return s, nil
}

func fromEpoch(s uint64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return epoch.Add(time.Duration(s) * time.Second)
}

// Encode returns the TLV form of c.
func (c *Certificate) Encode() ([]byte, error) {
	notBefore, err := toEpoch(c.NotBefore)
	if err != nil {
		return nil, err
	}
	notAfter, err := toEpoch(c.NotAfter)
	if err != nil {
		return nil, err
	}
	b, err := tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(tagSerialNumber), c.SerialNumber),
		tlv.Uint(tlv.ContextTag(tagSigAlgo), sigAlgoECDSAWithSHA256),
		c.Issuer.value(tlv.ContextTag(tagIssuer)),
		tlv.Uint(tlv.ContextTag(tagNotBefore), notBefore),
		tlv.Uint(tlv.ContextTag(tagNotAfter), notAfter),
		c.Subject.value(tlv.ContextTag(tagSubject)),
		tlv.Uint(tlv.ContextTag(tagPubKeyAlgo), pubKeyAlgoEC),
		tlv.Uint(tlv.ContextTag(tagCurveID), curvePrime256v1),
		tlv.Bytes(tlv.ContextTag(tagPublicKey), c.PublicKey),
		c.Extensions.value(tlv.ContextTag(tagExtensions)),
		tlv.Bytes(tlv.ContextTag(tagSignature), c.Signature),
	))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxTLVSize {
		return nil, fmt.Errorf("%w: %d bytes encoded", ErrInvalidCertificate, len(b))
	}
	return b, nil
}

func (e *Extensions) value(tag tlv.Tag) tlv.Value {
	bc := []tlv.Value{tlv.Bool(tlv.ContextTag(tagIsCA), e.IsCA)}
	if e.PathLen >= 0 {
		bc = append(bc, tlv.Uint(tlv.ContextTag(tagPathLen), uint64(e.PathLen)))
	}
	elems := []tlv.Value{tlv.Struct(tlv.ContextTag(tagBasicConstraints), bc...)}
	if e.KeyUsage != 0 {
		elems = append(elems, tlv.Uint(tlv.ContextTag(tagKeyUsage), uint64(e.KeyUsage)))
	}
	if len(e.ExtKeyUsage) > 0 {
		purposes := make([]tlv.Value, len(e.ExtKeyUsage))
		for i, p := range e.ExtKeyUsage {
			purposes[i] = tlv.Uint(tlv.Anonymous(), uint64(p))
		}
		elems = append(elems, tlv.Array(tlv.ContextTag(tagExtKeyUsage), purposes...))
	}
	if e.SubjectKeyID != nil {
		elems = append(elems, tlv.Bytes(tlv.ContextTag(tagSubjectKeyID), e.SubjectKeyID))
	}
	if e.AuthorityKeyID != nil {
		elems = append(elems, tlv.Bytes(tlv.ContextTag(tagAuthorityKeyID), e.AuthorityKeyID))
	}
	for _, f := range e.Future {
		elems = append(elems, tlv.Bytes(tlv.ContextTag(tagFutureExtension), f))
	}
	return tlv.List(tag, elems...)
}

// ParseTLVCertificate decodes the TLV form of a certificate.
func ParseTLVCertificate(data []byte) (*Certificate, error) {
	if len(data) > MaxTLVSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCertificate, len(data))
	}
	v, err := tlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if v.Kind() != tlv.KindStruct {
		return nil, fmt.Errorf("%w: want struct, got %s", ErrInvalidCertificate, v.Kind())
	}
	p := fieldParser{v: v}
	c := &Certificate{
		SerialNumber: p.bytes(tagSerialNumber),
		NotBefore:    fromEpoch(p.uint(tagNotBefore)),
		NotAfter:     fromEpoch(p.uint(tagNotAfter)),
		PublicKey:    p.bytes(tagPublicKey),
		Signature:    p.bytes(tagSignature),
	}
	sigAlgo, keyAlgo, curve := p.uint(tagSigAlgo), p.uint(tagPubKeyAlgo), p.uint(tagCurveID)
	if p.err != nil {
		return nil, p.err
	}
	if sigAlgo != sigAlgoECDSAWithSHA256 || keyAlgo != pubKeyAlgoEC || curve != curvePrime256v1 {
		return nil, ErrUnsupportedAlgo
	}
	if n := len(c.SerialNumber); n == 0 || n > 20 {
		return nil, fmt.Errorf("%w: serial number of %d bytes", ErrInvalidCertificate, n)
	}
	if len(c.PublicKey) != crypto.PublicKeySize || len(c.Signature) != crypto.SignatureSize {
		return nil, fmt.Errorf("%w: key or signature size", ErrInvalidCertificate)
	}
	if c.Issuer, err = dnFromValue(p.field(tagIssuer)); err != nil {
		return nil, err
	}
	if c.Subject, err = dnFromValue(p.field(tagSubject)); err != nil {
		return nil, err
	}
	if c.Extensions, err = extensionsFromValue(p.field(tagExtensions)); err != nil {
		return nil, err
	}
	return c, nil
}

func extensionsFromValue(v tlv.Value) (Extensions, error) {
	e := Extensions{PathLen: -1}
	if v.Kind() != tlv.KindList {
		return e, fmt.Errorf("%w: extensions must be a list", ErrInvalidCertificate)
	}
	var sawBasic bool
	for _, x := range v.Children() {
		n, _ := x.Tag.ContextNumber()
		var err error
		switch n {
		case tagBasicConstraints:
			sawBasic = true
			bc := fieldParser{v: x}
			if isCA, ok := x.Field(tagIsCA); ok {
				e.IsCA, err = isCA.AsBool()
			}
			if _, ok := x.Field(tagPathLen); ok {
				e.PathLen = int(bc.uint(tagPathLen))
				err = bc.err
			}
		case tagKeyUsage:
			var ku uint64
			ku, err = x.AsUint()
			e.KeyUsage = KeyUsage(ku)
		case tagExtKeyUsage:
			if x.Kind() != tlv.KindArray {
				err = fmt.Errorf("extended key usage is a %s", x.Kind())
			}
			for _, p := range x.Children() {
				var kp uint64
				if kp, err = p.AsUint(); err != nil {
					break
				}
				e.ExtKeyUsage = append(e.ExtKeyUsage, KeyPurpose(kp))
			}
		case tagSubjectKeyID:
			e.SubjectKeyID, err = x.AsBytes()
		case tagAuthorityKeyID:
			e.AuthorityKeyID, err = x.AsBytes()
		case tagFutureExtension:
			var f []byte
			f, err = x.AsBytes()
			e.Future = append(e.Future, f)
		default:
			err = fmt.Errorf("%w: extension tag %s", ErrUnsupportedOID, x.Tag)
		}
		if err != nil {
			return e, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
	}
	if !sawBasic {
		return e, fmt.Errorf("%w: missing basic constraints", ErrInvalidCertificate)
	}
	return e, nil
}

// fieldParser reads required struct fields, keeping the first error.
type fieldParser struct {
	v   tlv.Value
	err error
}

func (p *fieldParser) field(tag uint8) tlv.Value {
	f, ok := p.v.Field(tag)
	if !ok && p.err == nil {
		p.err = fmt.Errorf("%w: missing field %d", ErrInvalidCertificate, tag)
	}
	return f
}

func (p *fieldParser) uint(tag uint8) uint64 {
	f := p.field(tag)
	if p.err != nil {
		return 0
	}
	n, err := f.AsUint()
	if err != nil {
		p.err = fmt.Errorf("%w: field %d: %v", ErrInvalidCertificate, tag, err)
	}
	return n
}

func (p *fieldParser) bytes(tag uint8) []byte {
	f := p.field(tag)
	if p.err != nil {
		return nil
	}
	b, err := f.AsBytes()
	if err != nil {
		p.err = fmt.Errorf("%w: field %d: %v", ErrInvalidCertificate, tag, err)
	}
	return b
}
