package btp

import (
	"encoding/binary"
	"fmt"
)

// Flags is the first octet of every BTP packet.
type Flags uint8

const (
	FlagBegin      Flags = 0x01
	FlagContinue   Flags = 0x02
	FlagEnd        Flags = 0x04
	FlagAck        Flags = 0x08
	FlagManagement Flags = 0x20
	FlagHandshake  Flags = 0x40
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// IsData reports whether the packet carries message bytes.
func (f Flags) IsData() bool { return f&(FlagBegin|FlagContinue|FlagEnd) != 0 }

// Header sizes.
const (
	baseHeaderSize   = 2 // flags, sequence
	ackFieldSize     = 1
	lengthFieldSize  = 2
	minSegmentSize   = baseHeaderSize + ackFieldSize + lengthFieldSize + 1
	maxMessageLength = 0xFFFF
)

// Segment is one BTP data or acknowledgement packet.
type Segment struct {
	Flags Flags
	// Ack is present iff FlagAck is set.
	Ack uint8
	Seq uint8
	// MessageLength is present iff FlagBegin is set.
	MessageLength uint16
	Payload       []byte
}

// HeaderSize returns the encoded header length of s.
func (s *Segment) HeaderSize() int {
	n := baseHeaderSize
	if s.Flags.Has(FlagAck) {
		n += ackFieldSize
	}
	if s.Flags.Has(FlagBegin) {
		n += lengthFieldSize
	}
	return n
}

// Encode serialises s.
func (s *Segment) Encode() []byte {
	b := make([]byte, 0, s.HeaderSize()+len(s.Payload))
	b = append(b, byte(s.Flags))
	if s.Flags.Has(FlagAck) {
		b = append(b, s.Ack)
	}
	b = append(b, s.Seq)
	if s.Flags.Has(FlagBegin) {
		b = binary.LittleEndian.AppendUint16(b, s.MessageLength)
	}
	return append(b, s.Payload...)
}

// DecodeSegment parses a data or acknowledgement packet. Handshake
// packets are rejected.
func DecodeSegment(data []byte) (*Segment, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty packet", ErrMalformed)
	}
	s := &Segment{Flags: Flags(data[0])}
	if s.Flags.Has(FlagHandshake) || s.Flags.Has(FlagManagement) {
		return nil, fmt.Errorf("%w: management packet after handshake", ErrMalformed)
	}
	if !s.Flags.IsData() && !s.Flags.Has(FlagAck) {
		return nil, fmt.Errorf("%w: flags 0x%02x carry neither data nor ack", ErrMalformed, uint8(s.Flags))
	}
	if len(data) < s.HeaderSize() {
		return nil, fmt.Errorf("%w: %d byte packet, header needs %d", ErrMalformed, len(data), s.HeaderSize())
	}
	p := 1
	if s.Flags.Has(FlagAck) {
		s.Ack = data[p]
		p++
	}
	s.Seq = data[p]
	p++
	if s.Flags.Has(FlagBegin) {
		s.MessageLength = binary.LittleEndian.Uint16(data[p:])
		p += lengthFieldSize
	}
	if p < len(data) {
		s.Payload = append([]byte{}, data[p:]...)
	}
	if !s.Flags.IsData() && len(s.Payload) > 0 {
		return nil, fmt.Errorf("%w: payload on a standalone ack", ErrMalformed)
	}
	return s, nil
}

// Split cuts msg into segments of at most segmentSize bytes on the wire.
// The first segment carries the message length; when ackFirst is set it
// also reserves room for a piggybacked acknowledgement. Sequence and ack
// numbers are left for the sender to fill in.
func Split(msg []byte, segmentSize int, ackFirst bool) ([]Segment, error) {
	if segmentSize < minSegmentSize {
		return nil, fmt.Errorf("btp: segment size %d below %d", segmentSize, minSegmentSize)
	}
	if len(msg) > maxMessageLength {
		return nil, ErrMessageTooLarge
	}

	var segs []Segment
	rest := msg
	for first := true; first || len(rest) > 0; first = false {
		s := Segment{}
		if first {
			s.Flags = FlagBegin
			s.MessageLength = uint16(len(msg))
			if ackFirst {
				s.Flags |= FlagAck
			}
		} else {
			s.Flags = FlagContinue
		}
		n := min(segmentSize-s.HeaderSize(), len(rest))
		s.Payload, rest = rest[:n], rest[n:]
		segs = append(segs, s)
	}

	last := &segs[len(segs)-1]
	last.Flags = last.Flags&^FlagContinue | FlagEnd
	return segs, nil
}

// Version is the protocol version this package speaks.
const Version uint8 = 4

const (
	handshakeFlags  = FlagHandshake | FlagManagement | FlagEnd | FlagBegin // 0x65
	handshakeOpcode = 0x6C

	handshakeRequestSize  = 9
	handshakeResponseSize = 6
	maxVersions           = 8
)

// HandshakeRequest is sent by the central to open a connection.
type HandshakeRequest struct {
	// Versions lists supported versions, newest first; at most 8.
	Versions []uint8
	MTU      uint16
	Window   uint8
}

// Encode serialises r.
func (r *HandshakeRequest) Encode() []byte {
	b := make([]byte, handshakeRequestSize)
	b[0], b[1] = byte(handshakeFlags), handshakeOpcode
	for i, v := range r.Versions[:min(len(r.Versions), maxVersions)] {
		b[2+i/2] |= (v & 0x0F) << (4 * (i % 2))
	}
	binary.LittleEndian.PutUint16(b[6:], r.MTU)
	b[8] = r.Window
	return b
}

// DecodeHandshakeRequest parses a handshake request.
func DecodeHandshakeRequest(data []byte) (*HandshakeRequest, error) {
	if len(data) != handshakeRequestSize || Flags(data[0]) != handshakeFlags || data[1] != handshakeOpcode {
		return nil, fmt.Errorf("%w: not a handshake request", ErrMalformed)
	}
	r := &HandshakeRequest{
		MTU:    binary.LittleEndian.Uint16(data[6:]),
		Window: data[8],
	}
	for i := 0; i < maxVersions; i++ {
		v := data[2+i/2] >> (4 * (i % 2)) & 0x0F
		if v == 0 {
			break
		}
		r.Versions = append(r.Versions, v)
	}
	return r, nil
}

// HandshakeResponse carries the peripheral's choices.
type HandshakeResponse struct {
	Version     uint8
	SegmentSize uint16
	Window      uint8
}

// Encode serialises r.
func (r *HandshakeResponse) Encode() []byte {
	b := make([]byte, handshakeResponseSize)
	b[0], b[1] = byte(handshakeFlags), handshakeOpcode
	b[2] = r.Version & 0x0F
	binary.LittleEndian.PutUint16(b[3:], r.SegmentSize)
	b[5] = r.Window
	return b
}

// DecodeHandshakeResponse parses a handshake response.
func DecodeHandshakeResponse(data []byte) (*HandshakeResponse, error) {
	if len(data) != handshakeResponseSize || Flags(data[0]) != handshakeFlags || data[1] != handshakeOpcode {
		return nil, fmt.Errorf("%w: not a handshake response", ErrMalformed)
	}
	return &HandshakeResponse{
		Version:     data[2] & 0x0F,
		SegmentSize: binary.LittleEndian.Uint16(data[3:]),
		Window:      data[5],
	}, nil
}
