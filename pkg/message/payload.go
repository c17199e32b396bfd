package message

import (
	"encoding/binary"
	"fmt"
)

// PayloadHeader sits at the front of the message payload. In secured
// sessions it is encrypted together with the application body.
type PayloadHeader struct {
	Flags      ExchangeFlags
	Opcode     uint8
	ExchangeID uint16
	ProtocolID ProtocolID

	// VendorID is written iff the Vendor flag is set.
	VendorID uint16

	// AckCounter is written iff the Ack flag is set.
	AckCounter uint32

	// SecuredExtensions is written iff the SecuredExtensions flag is set.
	SecuredExtensions []byte
}

// IsStandaloneAck reports whether p is the secure channel standalone
// acknowledgement.
func (p *PayloadHeader) IsStandaloneAck() bool {
	return p.ProtocolID == ProtocolSecureChannel && p.VendorID == 0 && p.Opcode == OpcodeStandaloneAck
}

// OpcodeStandaloneAck is the secure channel opcode of a bare acknowledgement.
const OpcodeStandaloneAck uint8 = 0x10

// Size returns the encoded length of p.
func (p *PayloadHeader) Size() int {
	n := PayloadHeaderMinSize
	if p.Flags.Has(ExchangeFlagVendor) {
		n += 2
	}
	if p.Flags.Has(ExchangeFlagAck) {
		n += 4
	}
	if p.Flags.Has(ExchangeFlagSecuredExtensions) {
		n += 2 + len(p.SecuredExtensions)
	}
	return n
}

// Encode serialises p.
func (p *PayloadHeader) Encode() []byte {
	return p.AppendTo(make([]byte, 0, p.Size()))
}

// AppendTo appends the encoded payload header to b.
func (p *PayloadHeader) AppendTo(b []byte) []byte {
	b = append(b, byte(p.Flags), p.Opcode)
	b = binary.LittleEndian.AppendUint16(b, p.ExchangeID)
	if p.Flags.Has(ExchangeFlagVendor) {
		b = binary.LittleEndian.AppendUint16(b, p.VendorID)
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(p.ProtocolID))
	if p.Flags.Has(ExchangeFlagAck) {
		b = binary.LittleEndian.AppendUint32(b, p.AckCounter)
	}
	if p.Flags.Has(ExchangeFlagSecuredExtensions) {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(p.SecuredExtensions)))
		b = append(b, p.SecuredExtensions...)
	}
	return b
}

// DecodePayload parses the payload header at the front of plaintext
// and returns the application body that follows.
func DecodePayload(data []byte) (PayloadHeader, []byte, error) {
	var p PayloadHeader
	if len(data) < PayloadHeaderMinSize {
		return p, nil, framingErr("payload header", fmt.Sprintf("%d bytes, need at least %d", len(data), PayloadHeaderMinSize))
	}
	p.Flags = ExchangeFlags(data[0])
	p.Opcode = data[1]
	p.ExchangeID = binary.LittleEndian.Uint16(data[2:])
	off := 4

	need := 2
	if p.Flags.Has(ExchangeFlagVendor) {
		need += 2
	}
	if p.Flags.Has(ExchangeFlagAck) {
		need += 4
	}
	if len(data)-off < need {
		return p, nil, framingErr("payload header", "truncated")
	}
	if p.Flags.Has(ExchangeFlagVendor) {
		p.VendorID = binary.LittleEndian.Uint16(data[off:])
		off += 2
	}
	p.ProtocolID = ProtocolID(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if p.Flags.Has(ExchangeFlagAck) {
		p.AckCounter = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	if p.Flags.Has(ExchangeFlagSecuredExtensions) {
		if len(data)-off < 2 {
			return p, nil, framingErr("secured extensions", "truncated length")
		}
		n := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if len(data)-off < n {
			return p, nil, framingErr("secured extensions", "truncated")
		}
		p.SecuredExtensions = append([]byte{}, data[off:off+n]...)
		off += n
	}
	return p, data[off:], nil
}
