// Package securechannel holds the Secure Channel protocol opcodes and the
// StatusReport message shared by the session establishment handshakes.
package securechannel

import (
	"fmt"

	"github.com/backkem/matterctl/pkg/message"
)

// ProtocolID is the Secure Channel protocol identifier.
const ProtocolID = message.ProtocolSecureChannel

// Opcode represents a Secure Channel protocol message type.
type Opcode uint8

// The PASE handshake runs PBKDFParamRequest, PBKDFParamResponse, Pake1,
// Pake2 and Pake3 on one exchange and ends with a StatusReport.
const (
	OpcodeStandaloneAck Opcode = Opcode(message.OpcodeStandaloneAck)

	OpcodePBKDFParamRequest  Opcode = 0x20
	OpcodePBKDFParamResponse Opcode = 0x21
	OpcodePASEPake1          Opcode = 0x22
	OpcodePASEPake2          Opcode = 0x23
	OpcodePASEPake3          Opcode = 0x24

	OpcodeStatusReport Opcode = 0x40
)

var opcodeNames = map[Opcode]string{
	OpcodeStandaloneAck:      "StandaloneAck",
	OpcodePBKDFParamRequest:  "PBKDFParamRequest",
	OpcodePBKDFParamResponse: "PBKDFParamResponse",
	OpcodePASEPake1:          "Pake1",
	OpcodePASEPake2:          "Pake2",
	OpcodePASEPake3:          "Pake3",
	OpcodeStatusReport:       "StatusReport",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
}

// GeneralCode is a protocol-agnostic status code.
type GeneralCode uint16

const (
	GeneralCodeSuccess           GeneralCode = 0
	GeneralCodeFailure           GeneralCode = 1
	GeneralCodeBadPrecondition   GeneralCode = 2
	GeneralCodeOutOfRange        GeneralCode = 3
	GeneralCodeBadRequest        GeneralCode = 4
	GeneralCodeUnsupported       GeneralCode = 5
	GeneralCodeUnexpected        GeneralCode = 6
	GeneralCodeResourceExhausted GeneralCode = 7
	GeneralCodeBusy              GeneralCode = 8
	GeneralCodeTimeout           GeneralCode = 9
	GeneralCodeContinue          GeneralCode = 10
	GeneralCodeAborted           GeneralCode = 11
	GeneralCodeInvalidArgument   GeneralCode = 12
	GeneralCodeNotFound          GeneralCode = 13
	GeneralCodeAlreadyExists     GeneralCode = 14
	GeneralCodePermissionDenied  GeneralCode = 15
	GeneralCodeDataLoss          GeneralCode = 16
)

var generalCodeNames = [...]string{
	"SUCCESS", "FAILURE", "BAD_PRECONDITION", "OUT_OF_RANGE", "BAD_REQUEST",
	"UNSUPPORTED", "UNEXPECTED", "RESOURCE_EXHAUSTED", "BUSY", "TIMEOUT",
	"CONTINUE", "ABORTED", "INVALID_ARGUMENT", "NOT_FOUND", "ALREADY_EXISTS",
	"PERMISSION_DENIED", "DATA_LOSS",
}

func (g GeneralCode) String() string {
	if int(g) < len(generalCodeNames) {
		return generalCodeNames[g]
	}
	return fmt.Sprintf("GeneralCode(%d)", uint16(g))
}

// ProtocolCode is a Secure Channel specific status code.
type ProtocolCode uint16

// Only the codes a PASE exchange can carry are named.
const (
	ProtocolCodeSuccess        ProtocolCode = 0x0000
	ProtocolCodeInvalidParam   ProtocolCode = 0x0002
	ProtocolCodeBusy           ProtocolCode = 0x0004
	ProtocolCodeGeneralFailure ProtocolCode = 0xFFFF
)

var protocolCodeNames = map[ProtocolCode]string{
	ProtocolCodeSuccess:        "SESSION_ESTABLISHED",
	ProtocolCodeInvalidParam:   "INVALID_PARAMETER",
	ProtocolCodeBusy:           "BUSY",
	ProtocolCodeGeneralFailure: "GENERAL_FAILURE",
}

func (p ProtocolCode) String() string {
	if name, ok := protocolCodeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ProtocolCode(0x%04x)", uint16(p))
}
