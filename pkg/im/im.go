// Package im implements the part of the Interaction Model a commissioner
// needs: invoking cluster commands and answering them.
//
// Messages are TLV structures carried on the Interaction Model protocol.
// A Client sends one InvokeRequest per exchange and waits for the
// InvokeResponse or StatusResponse; a Server dispatches incoming requests
// to registered command handlers.
package im

import (
	"fmt"

	"github.com/backkem/matterctl/pkg/message"
)

// ProtocolID is the Interaction Model protocol.
const ProtocolID = message.ProtocolInteractionModel

// Revision is the Interaction Model revision sent in every message.
const Revision = 12

// Opcode is an Interaction Model message type.
type Opcode uint8

const (
	OpcodeStatusResponse Opcode = 0x01
	OpcodeInvokeRequest  Opcode = 0x08
	OpcodeInvokeResponse Opcode = 0x09
	OpcodeTimedRequest   Opcode = 0x0a
)

func (o Opcode) String() string {
	switch o {
	case OpcodeStatusResponse:
		return "StatusResponse"
	case OpcodeInvokeRequest:
		return "InvokeRequest"
	case OpcodeInvokeResponse:
		return "InvokeResponse"
	case OpcodeTimedRequest:
		return "TimedRequest"
	default:
		return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
	}
}

type (
	EndpointID uint16
	ClusterID  uint32
	CommandID  uint32
)

// Status is an Interaction Model status code.
type Status uint8

const (
	StatusSuccess            Status = 0x00
	StatusFailure            Status = 0x01
	StatusInvalidAction      Status = 0x80
	StatusUnsupportedCommand Status = 0x81
	StatusInvalidCommand     Status = 0x85
	StatusConstraintError    Status = 0x87
	StatusResourceExhausted  Status = 0x89
	StatusNotFound           Status = 0x8b
	StatusBusy               Status = 0x9c
	StatusUnsupportedCluster Status = 0xc3
	StatusFailsafeRequired   Status = 0xca
	StatusInvalidInState     Status = 0xcb
	StatusAlreadyExists      Status = 0xd0
)

var statusNames = map[Status]string{
	StatusSuccess:            "Success",
	StatusFailure:            "Failure",
	StatusInvalidAction:      "InvalidAction",
	StatusUnsupportedCommand: "UnsupportedCommand",
	StatusInvalidCommand:     "InvalidCommand",
	StatusConstraintError:    "ConstraintError",
	StatusResourceExhausted:  "ResourceExhausted",
	StatusNotFound:           "NotFound",
	StatusBusy:               "Busy",
	StatusUnsupportedCluster: "UnsupportedCluster",
	StatusFailsafeRequired:   "FailsafeRequired",
	StatusInvalidInState:     "InvalidInState",
	StatusAlreadyExists:      "AlreadyExists",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%02x)", uint8(s))
}
