package message

import (
	"encoding/binary"
	"fmt"
)

// Header is the unencrypted message header. For secured sessions it is the
// AEAD associated data, so a decoded header keeps the exact bytes it was
// parsed from.
type Header struct {
	SessionID     uint16
	SecurityFlags SecurityFlags
	Counter       uint32

	// SourceNodeID is present on the wire iff HasSource.
	HasSource    bool
	SourceNodeID uint64

	Destination      DestinationType
	DestinationNode  uint64
	DestinationGroup uint16

	// Extensions holds message extension octets when the MX flag is set.
	Extensions []byte

	raw []byte
}

// Size returns the encoded length of h.
func (h *Header) Size() int {
	n := HeaderMinSize + h.Destination.Size()
	if h.HasSource {
		n += NodeIDSize
	}
	if h.SecurityFlags.Extensions() {
		n += 2 + len(h.Extensions)
	}
	return n
}

func (h *Header) messageFlags() uint8 {
	f := Version<<flagVersionShift | uint8(h.Destination)&flagDSIZMask
	if h.HasSource {
		f |= flagSourcePresent
	}
	return f
}

// Encode serialises h. The result is what a peer authenticates as
// associated data.
func (h *Header) Encode() []byte {
	b := make([]byte, 0, h.Size())
	b = append(b, h.messageFlags())
	b = binary.LittleEndian.AppendUint16(b, h.SessionID)
	b = append(b, byte(h.SecurityFlags))
	b = binary.LittleEndian.AppendUint32(b, h.Counter)
	if h.HasSource {
		b = binary.LittleEndian.AppendUint64(b, h.SourceNodeID)
	}
	switch h.Destination {
	case DestinationNode:
		b = binary.LittleEndian.AppendUint64(b, h.DestinationNode)
	case DestinationGroup:
		b = binary.LittleEndian.AppendUint16(b, h.DestinationGroup)
	}
	if h.SecurityFlags.Extensions() {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(h.Extensions)))
		b = append(b, h.Extensions...)
	}
	return b
}

// Raw returns the header bytes exactly as decoded, or a fresh encoding for
// headers built locally.
func (h *Header) Raw() []byte {
	if h.raw != nil {
		return h.raw
	}
	return h.Encode()
}

// DecodeHeader parses the message header at the front of data and returns
// the remaining bytes untouched. Errors are *FramingError.
func DecodeHeader(data []byte) (Header, []byte, error) {
	var h Header
	if len(data) < HeaderMinSize {
		return h, nil, framingErr("header", fmt.Sprintf("%d bytes, need at least %d", len(data), HeaderMinSize))
	}

	flags := data[0]
	if v := flags >> flagVersionShift; v != Version {
		return h, nil, framingErr("message flags", fmt.Sprintf("unsupported version %d", v))
	}
	h.HasSource = flags&flagSourcePresent != 0
	h.Destination = DestinationType(flags & flagDSIZMask)
	if h.Destination > DestinationGroup {
		return h, nil, framingErr("message flags", "reserved DSIZ value")
	}

	h.SessionID = binary.LittleEndian.Uint16(data[1:])
	h.SecurityFlags = SecurityFlags(data[3])
	if h.SecurityFlags.SessionType() > SessionTypeGroup {
		return h, nil, framingErr("security flags", "reserved session type")
	}
	if h.SecurityFlags.Privacy() {
		return h, nil, framingErr("security flags", "privacy obfuscation not supported")
	}
	h.Counter = binary.LittleEndian.Uint32(data[4:])

	off := HeaderMinSize
	if h.HasSource {
		if len(data)-off < NodeIDSize {
			return h, nil, framingErr("source node id", "truncated")
		}
		h.SourceNodeID = binary.LittleEndian.Uint64(data[off:])
		off += NodeIDSize
	}
	if n := h.Destination.Size(); n > 0 {
		if len(data)-off < n {
			return h, nil, framingErr("destination", "truncated")
		}
		if h.Destination == DestinationNode {
			h.DestinationNode = binary.LittleEndian.Uint64(data[off:])
		} else {
			h.DestinationGroup = binary.LittleEndian.Uint16(data[off:])
		}
		off += n
	}
	if h.SecurityFlags.Extensions() {
		if len(data)-off < 2 {
			return h, nil, framingErr("message extensions", "truncated length")
		}
		n := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if len(data)-off < n {
			return h, nil, framingErr("message extensions", "truncated")
		}
		h.Extensions = append([]byte{}, data[off:off+n]...)
		off += n
	}

	h.raw = append([]byte{}, data[:off]...)
	return h, data[off:], nil
}

// IsSecure reports whether the header names an established session.
func (h *Header) IsSecure() bool {
	return h.SessionID != 0 || h.SecurityFlags.SessionType() == SessionTypeGroup
}
