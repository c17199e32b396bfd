package fabric

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"

	"github.com/backkem/matterctl/pkg/crypto"
)

// CompressedFabricIDSize is the length of a compressed fabric id.
const CompressedFabricIDSize = 8

var compressedFabricInfo = []byte("CompressedFabric")

// CompressedFabricID derives the short fabric reference used in
// operational instance names from the root public key (64 or 65 bytes)
// and the fabric id.
func CompressedFabricID(rootPublicKey []byte, fabricID FabricID) ([CompressedFabricIDSize]byte, error) {
	var out [CompressedFabricIDSize]byte
	if !fabricID.IsValid() {
		return out, ErrInvalidFabricID
	}
	key := rootPublicKey
	switch {
	case len(key) == RootPublicKeySize && key[0] == 0x04:
		key = key[1:]
	case len(key) == RootPublicKeySize-1:
	default:
		return out, ErrInvalidRootPublicKey
	}
	salt := binary.BigEndian.AppendUint64(nil, uint64(fabricID))
	derived, err := crypto.HKDFSHA256(key, salt, compressedFabricInfo, CompressedFabricIDSize)
	if err != nil {
		return out, err
	}
	copy(out[:], derived)
	return out, nil
}

// CompressedID derives the compressed fabric id from f's root certificate.
func (f *Fabric) CompressedID() ([CompressedFabricIDSize]byte, error) {
	root, err := x509.ParseCertificate(f.RootCert)
	if err != nil {
		return [CompressedFabricIDSize]byte{}, fmt.Errorf("fabric: root certificate: %w", err)
	}
	pub, ok := root.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return [CompressedFabricIDSize]byte{}, ErrInvalidRootPublicKey
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return [CompressedFabricIDSize]byte{}, ErrInvalidRootPublicKey
	}
	return CompressedFabricID(ecdhPub.Bytes(), f.ID)
}

// InstanceName is the operational DNS-SD instance name of node id.
func (f *Fabric) InstanceName(id NodeID) (string, error) {
	cfid, err := f.CompressedID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016X-%s", binary.BigEndian.Uint64(cfid[:]), id), nil
}
