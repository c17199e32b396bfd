package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCertificateType     = errors.New("credentials: certificate type mismatch")
	ErrChainBroken         = errors.New("credentials: certificate not issued by the expected authority")
	ErrCertificateExpired  = errors.New("credentials: certificate expired")
	ErrCertificateNotValid = errors.New("credentials: certificate not yet valid")
	ErrInvalidPublicKey    = errors.New("credentials: invalid public key")
)

// PeerInfo is the identity a validated NOC asserts.
type PeerInfo struct {
	NodeID    uint64
	FabricID  uint64
	PublicKey []byte
}

// ValidateNOC checks that noc is a node certificate issued under root,
// through icac when it is not nil, and valid at now.
//
// Issuance is checked through the authority key identifiers. The TLV form
// does not carry the DER the signatures cover; VerifySignedBy checks a
// signature when the DER is at hand.
func ValidateNOC(noc, icac, root *Certificate, now time.Time) (*PeerInfo, error) {
	if noc.Type() != CertTypeNode {
		return nil, fmt.Errorf("%w: NOC is %s", ErrCertificateType, noc.Type())
	}
	if root.Type() != CertTypeRoot {
		return nil, fmt.Errorf("%w: root is %s", ErrCertificateType, root.Type())
	}

	issuer := root
	if icac != nil {
		if icac.Type() != CertTypeIntermediate {
			return nil, fmt.Errorf("%w: ICAC is %s", ErrCertificateType, icac.Type())
		}
		if err := issuedBy(icac, root); err != nil {
			return nil, fmt.Errorf("ICAC: %w", err)
		}
		issuer = icac
	}
	if err := issuedBy(noc, issuer); err != nil {
		return nil, fmt.Errorf("NOC: %w", err)
	}

	for _, c := range []*Certificate{noc, icac, root} {
		if c == nil {
			continue
		}
		if err := validAt(c, now); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Type(), err)
		}
	}

	nodeID, ok := noc.NodeID()
	if !ok || nodeID == 0 || nodeID > MaxOperationalNodeID {
		return nil, fmt.Errorf("%w: %016X", ErrInvalidNodeID, nodeID)
	}
	fabricID, ok := noc.FabricID()
	if !ok || fabricID == 0 {
		return nil, fmt.Errorf("%w: NOC without fabric id", ErrFabricMismatch)
	}
	for _, c := range []*Certificate{icac, root} {
		if c == nil {
			continue
		}
		if id, ok := c.FabricID(); ok && id != fabricID {
			return nil, fmt.Errorf("%w: %s is for fabric %016X", ErrFabricMismatch, c.Type(), id)
		}
	}
	if len(noc.PublicKey) != 65 || noc.PublicKey[0] != 0x04 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPublicKey, len(noc.PublicKey))
	}

	return &PeerInfo{NodeID: nodeID, FabricID: fabricID, PublicKey: bytes.Clone(noc.PublicKey)}, nil
}

func issuedBy(c, issuer *Certificate) error {
	if len(issuer.Extensions.SubjectKeyID) == 0 {
		return ErrMissingSubjectKeyID
	}
	if !bytes.Equal(c.Extensions.AuthorityKeyID, issuer.Extensions.SubjectKeyID) {
		return ErrChainBroken
	}
	return nil
}

func validAt(c *Certificate, now time.Time) error {
	if now.Before(c.NotBefore) {
		return ErrCertificateNotValid
	}
	if !c.NotAfter.IsZero() && now.After(c.NotAfter) {
		return ErrCertificateExpired
	}
	return nil
}
