package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/backkem/matterctl/pkg/crypto"
)

var (
	oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidExtKeyUsage      = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidSubjectKeyID     = asn1.ObjectIdentifier{2, 5, 29, 14}
	oidAuthorityKeyID   = asn1.ObjectIdentifier{2, 5, 29, 35}
)

var purposes = map[x509.ExtKeyUsage]KeyPurpose{
	x509.ExtKeyUsageServerAuth:      PurposeServerAuth,
	x509.ExtKeyUsageClientAuth:      PurposeClientAuth,
	x509.ExtKeyUsageCodeSigning:     PurposeCodeSigning,
	x509.ExtKeyUsageEmailProtection: PurposeEmailProtection,
	x509.ExtKeyUsageTimeStamping:    PurposeTimeStamping,
	x509.ExtKeyUsageOCSPSigning:     PurposeOCSPSigning,
}

// X509ToTLV converts a DER-parsed operational certificate to its TLV form.
func X509ToTLV(cert *x509.Certificate) ([]byte, error) {
	c, err := FromX509(cert)
	if err != nil {
		return nil, err
	}
	return c.Encode()
}

// FromX509 maps cert onto the fields the TLV form can express and fails
// on anything it cannot.
func FromX509(cert *x509.Certificate) (*Certificate, error) {
	if cert.SignatureAlgorithm != x509.ECDSAWithSHA256 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, cert.SignatureAlgorithm)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, ErrUnsupportedAlgo
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if cert.SerialNumber == nil || cert.SerialNumber.Sign() <= 0 {
		return nil, fmt.Errorf("%w: serial number must be positive", ErrInvalidCertificate)
	}
	// DER integer content: a leading zero keeps the high bit clear.
	serial := cert.SerialNumber.Bytes()
	if serial[0]&0x80 != 0 {
		serial = append([]byte{0}, serial...)
	}

	c := &Certificate{
		SerialNumber: serial,
		NotBefore:    cert.NotBefore.UTC(),
		NotAfter:     cert.NotAfter.UTC(),
		PublicKey:    ecdhPub.Bytes(),
	}
	if c.Issuer, err = parseName(cert.RawIssuer); err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}
	if c.Subject, err = parseName(cert.RawSubject); err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	if c.Extensions, err = extensionsFromX509(cert); err != nil {
		return nil, err
	}
	if c.Signature, err = crypto.ParseSignatureDER(cert.Signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return c, nil
}

func extensionsFromX509(cert *x509.Certificate) (Extensions, error) {
	e := Extensions{PathLen: -1}
	if !cert.BasicConstraintsValid {
		return e, fmt.Errorf("%w: missing basic constraints", ErrInvalidCertificate)
	}
	e.IsCA = cert.IsCA
	if cert.MaxPathLen > 0 || cert.MaxPathLenZero {
		e.PathLen = cert.MaxPathLen
	}
	e.KeyUsage = KeyUsage(cert.KeyUsage)
	for _, u := range cert.ExtKeyUsage {
		p, ok := purposes[u]
		if !ok {
			return e, fmt.Errorf("%w: extended key usage %d", ErrUnsupportedOID, u)
		}
		e.ExtKeyUsage = append(e.ExtKeyUsage, p)
	}
	if len(cert.UnknownExtKeyUsage) > 0 {
		return e, fmt.Errorf("%w: extended key usage %s", ErrUnsupportedOID, cert.UnknownExtKeyUsage[0])
	}
	if len(cert.SubjectKeyId) > 0 {
		if len(cert.SubjectKeyId) != keyIDSize {
			return e, fmt.Errorf("%w: subject key id of %d bytes", ErrInvalidCertificate, len(cert.SubjectKeyId))
		}
		e.SubjectKeyID = cert.SubjectKeyId
	}
	if len(cert.AuthorityKeyId) > 0 {
		if len(cert.AuthorityKeyId) != keyIDSize {
			return e, fmt.Errorf("%w: authority key id of %d bytes", ErrInvalidCertificate, len(cert.AuthorityKeyId))
		}
		e.AuthorityKeyID = cert.AuthorityKeyId
	}
	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(oidBasicConstraints), ext.Id.Equal(oidKeyUsage), ext.Id.Equal(oidExtKeyUsage),
			ext.Id.Equal(oidSubjectKeyID), ext.Id.Equal(oidAuthorityKeyID):
		default:
			der, err := asn1.Marshal(ext)
			if err != nil {
				return e, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			e.Future = append(e.Future, der)
		}
	}
	if e.SubjectKeyID == nil {
		return e, ErrMissingSubjectKeyID
	}
	return e, nil
}
