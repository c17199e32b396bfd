package credentials

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/backkem/matterctl/pkg/crypto"
)

// MaxOperationalNodeID is the top of the operational node id range.
const MaxOperationalNodeID uint64 = 0xFFFFFFEFFFFFFFFF

// CertificateAuthority issues node operational certificates for one
// fabric.
type CertificateAuthority interface {
	// SignCertificateRequest verifies csrDER and returns a NOC binding its
	// key to nodeID on fabricID.
	SignCertificateRequest(csrDER []byte, nodeID, fabricID uint64) (*x509.Certificate, error)
	RootCertificate() *x509.Certificate
	// EncodeAsProtocolCertificate returns the TLV form sent to devices.
	EncodeAsProtocolCertificate(cert *x509.Certificate) ([]byte, error)
}

// MemoryCA is a CertificateAuthority whose root key lives in memory.
type MemoryCA struct {
	mu       sync.Mutex
	fabricID uint64
	key      *crypto.KeyPair
	root     *x509.Certificate
}

var _ CertificateAuthority = (*MemoryCA)(nil)

// NewMemoryCA creates a self-signed P-256 root for fabricID.
func NewMemoryCA(fabricID uint64) (*MemoryCA, error) {
	if fabricID == 0 {
		return nil, fmt.Errorf("%w: fabric id 0", ErrFabricMismatch)
	}
	key, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	rcacID := serial.Uint64()
	skid := keyID(key.PublicKey())
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{ExtraNames: []pkix.AttributeTypeAndValue{
			identifier(AttrRCACID, rcacID),
			identifier(AttrFabricID, fabricID),
		}},
		NotBefore:             notBefore(),
		NotAfter:              noExpiry,
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		SubjectKeyId:          skid,
		AuthorityKeyId:        skid,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Signer().Public(), key.Signer())
	if err != nil {
		return nil, fmt.Errorf("credentials: create root: %w", err)
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &MemoryCA{fabricID: fabricID, key: key, root: root}, nil
}

// LoadMemoryCA restores a CA from its PKCS#8 key and DER root.
func LoadMemoryCA(fabricID uint64, keyDER, rootDER []byte) (*MemoryCA, error) {
	key, err := crypto.ParseKeyPair(keyDER)
	if err != nil {
		return nil, err
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	rc, err := FromX509(root)
	if err != nil {
		return nil, err
	}
	if id, ok := rc.FabricID(); ok && id != fabricID {
		return nil, fmt.Errorf("%w: root is for fabric %016X", ErrFabricMismatch, id)
	}
	if !bytes.Equal(rc.PublicKey, key.PublicKey()) {
		return nil, fmt.Errorf("%w: key does not match root", ErrInvalidCertificate)
	}
	return &MemoryCA{fabricID: fabricID, key: key, root: root}, nil
}

// FabricID returns the fabric the CA issues for.
func (ca *MemoryCA) FabricID() uint64 { return ca.fabricID }

// MarshalKey returns the PKCS#8 encoding of the root key.
func (ca *MemoryCA) MarshalKey() ([]byte, error) { return ca.key.MarshalPKCS8() }

func (ca *MemoryCA) RootCertificate() *x509.Certificate { return ca.root }

func (ca *MemoryCA) EncodeAsProtocolCertificate(cert *x509.Certificate) ([]byte, error) {
	return X509ToTLV(cert)
}

func (ca *MemoryCA) SignCertificateRequest(csrDER []byte, nodeID, fabricID uint64) (*x509.Certificate, error) {
	if fabricID != ca.fabricID {
		return nil, fmt.Errorf("%w: %016X", ErrFabricMismatch, fabricID)
	}
	if nodeID == 0 || nodeID > MaxOperationalNodeID {
		return nil, fmt.Errorf("%w: %016X", ErrInvalidNodeID, nodeID)
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	pub, ok := csr.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: key is not P-256", ErrInvalidCSR)
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{ExtraNames: []pkix.AttributeTypeAndValue{
			identifier(AttrNodeID, nodeID),
			identifier(AttrFabricID, fabricID),
		}},
		NotBefore:             notBefore(),
		NotAfter:              noExpiry,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		SubjectKeyId:          keyID(ecdhPub.Bytes()),
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.root, pub, ca.key.Signer())
	if err != nil {
		return nil, fmt.Errorf("credentials: sign NOC: %w", err)
	}
	return x509.ParseCertificate(der)
}

// NewCSR returns a PKCS#10 request for key, as a device produces in
// answer to a CSR request.
func NewCSR(key *crypto.KeyPair) ([]byte, error) {
	tmpl := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: "CSR"},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	return x509.CreateCertificateRequest(rand.Reader, tmpl, key.Signer())
}

func identifier(t uint8, id uint64) pkix.AttributeTypeAndValue {
	oid, _ := OID(t)
	return pkix.AttributeTypeAndValue{Type: oid, Value: identifierValue(t, id)}
}

// keyID is the SHA-1 of the uncompressed public point.
func keyID(pub []byte) []byte {
	sum := sha1.Sum(pub)
	return sum[:]
}

func notBefore() time.Time {
	return time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
}

// randomSerial returns a positive 63-bit serial number.
func randomSerial() (*big.Int, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(b[:])>>1 | 1
	return new(big.Int).SetUint64(n), nil
}
