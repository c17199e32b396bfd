// Package message implements the Matter message frame: the unencrypted
// message header, the payload header that travels inside the encrypted
// section, and per-session outbound counters.
//
// Header decoding leaves the payload untouched so that a session can
// authenticate it against the exact header bytes that arrived.
package message

// ProtocolID selects the protocol an opcode belongs to.
type ProtocolID uint16

const (
	ProtocolSecureChannel    ProtocolID = 0x0000
	ProtocolInteractionModel ProtocolID = 0x0001
	ProtocolBDX              ProtocolID = 0x0002
	ProtocolUDC              ProtocolID = 0x0003
)

func (p ProtocolID) String() string {
	switch p {
	case ProtocolSecureChannel:
		return "SecureChannel"
	case ProtocolInteractionModel:
		return "InteractionModel"
	case ProtocolBDX:
		return "BDX"
	case ProtocolUDC:
		return "UDC"
	default:
		return "Unknown"
	}
}

// SessionType is carried in the low bits of the security flags.
type SessionType uint8

const (
	SessionTypeUnicast SessionType = 0
	SessionTypeGroup   SessionType = 1
)

func (s SessionType) String() string {
	switch s {
	case SessionTypeUnicast:
		return "Unicast"
	case SessionTypeGroup:
		return "Group"
	default:
		return "Reserved"
	}
}

// DestinationType is the DSIZ field of the message flags.
type DestinationType uint8

const (
	DestinationNone  DestinationType = 0
	DestinationNode  DestinationType = 1
	DestinationGroup DestinationType = 2
)

// Size returns the number of octets the destination field occupies.
func (d DestinationType) Size() int {
	switch d {
	case DestinationNode:
		return NodeIDSize
	case DestinationGroup:
		return GroupIDSize
	default:
		return 0
	}
}

// SecurityFlags is the security flags octet. It is used verbatim as the
// first octet of the AEAD nonce.
type SecurityFlags uint8

const (
	SecurityFlagExtensions SecurityFlags = 0x20
	SecurityFlagControl    SecurityFlags = 0x40
	SecurityFlagPrivacy    SecurityFlags = 0x80

	securityFlagSessionMask SecurityFlags = 0x03
)

func (s SecurityFlags) SessionType() SessionType { return SessionType(s & securityFlagSessionMask) }
func (s SecurityFlags) Extensions() bool         { return s&SecurityFlagExtensions != 0 }
func (s SecurityFlags) Control() bool            { return s&SecurityFlagControl != 0 }
func (s SecurityFlags) Privacy() bool            { return s&SecurityFlagPrivacy != 0 }

// ExchangeFlags is the first octet of the payload header.
type ExchangeFlags uint8

const (
	ExchangeFlagInitiator         ExchangeFlags = 0x01
	ExchangeFlagAck               ExchangeFlags = 0x02
	ExchangeFlagReliability       ExchangeFlags = 0x04
	ExchangeFlagSecuredExtensions ExchangeFlags = 0x08
	ExchangeFlagVendor            ExchangeFlags = 0x10
)

func (f ExchangeFlags) Has(flag ExchangeFlags) bool {
	return f&flag == flag
}

// Wire format constants.
const (
	// Version is the only message format version understood.
	Version uint8 = 0

	// HeaderMinSize covers flags, session id, security flags and counter.
	HeaderMinSize = 8

	// PayloadHeaderMinSize covers exchange flags, opcode, exchange id and protocol id.
	PayloadHeaderMinSize = 6

	NodeIDSize  = 8
	GroupIDSize = 2

	// MICSize is the AES-CCM tag appended to secured payloads.
	MICSize = 16

	// MaxUDPMessageSize is the IPv6 minimum MTU.
	MaxUDPMessageSize = 1280

	// UnspecifiedNodeID stands in for node ids before operational credentials exist.
	UnspecifiedNodeID uint64 = 0
)

const (
	flagDSIZMask      uint8 = 0x03
	flagSourcePresent uint8 = 0x04
	flagVersionShift        = 4
)
