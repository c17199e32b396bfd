package crypto

import "encoding/binary"

// BuildNonce returns the message AEAD nonce:
// security flags || counter (LE32) || source node id (LE64).
// PASE sessions use the unspecified node id 0.
func BuildNonce(securityFlags uint8, counter uint32, sourceNodeID uint64) []byte {
	n := make([]byte, NonceSize)
	n[0] = securityFlags
	binary.LittleEndian.PutUint32(n[1:], counter)
	binary.LittleEndian.PutUint64(n[5:], sourceNodeID)
	return n
}
