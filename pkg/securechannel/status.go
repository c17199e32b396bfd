package securechannel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/backkem/matterctl/pkg/message"
)

// StatusReportMinSize is GeneralCode(2) + ProtocolID(4) + ProtocolCode(2).
const StatusReportMinSize = 8

var (
	// ErrStatusReportTooShort is returned for a StatusReport under 8 bytes.
	ErrStatusReportTooShort = errors.New("securechannel: status report too short")

	// ErrStatusReportReceived is the parent of every *StatusReportError.
	ErrStatusReportReceived = errors.New("securechannel: status report received")
)

// StatusReport is the status message any protocol may answer with.
type StatusReport struct {
	GeneralCode GeneralCode
	// ProtocolID is VendorID<<16 | protocol.
	ProtocolID   uint32
	ProtocolCode uint16
	ProtocolData []byte
}

// NewStatusReport creates a Secure Channel StatusReport with no data.
func NewStatusReport(general GeneralCode, code ProtocolCode) *StatusReport {
	return &StatusReport{
		GeneralCode:  general,
		ProtocolID:   uint32(ProtocolID),
		ProtocolCode: uint16(code),
	}
}

// Success reports an established session.
func Success() *StatusReport {
	return NewStatusReport(GeneralCodeSuccess, ProtocolCodeSuccess)
}

// InvalidParam reports a handshake message that could not be used.
func InvalidParam() *StatusReport {
	return NewStatusReport(GeneralCodeFailure, ProtocolCodeInvalidParam)
}

// Busy reports a busy responder with the minimum wait in milliseconds.
func Busy(waitMs uint16) *StatusReport {
	s := NewStatusReport(GeneralCodeBusy, ProtocolCodeBusy)
	s.ProtocolData = binary.LittleEndian.AppendUint16(nil, waitMs)
	return s
}

// Encode serialises s.
func (s *StatusReport) Encode() []byte {
	b := make([]byte, 0, StatusReportMinSize+len(s.ProtocolData))
	b = binary.LittleEndian.AppendUint16(b, uint16(s.GeneralCode))
	b = binary.LittleEndian.AppendUint32(b, s.ProtocolID)
	b = binary.LittleEndian.AppendUint16(b, s.ProtocolCode)
	return append(b, s.ProtocolData...)
}

// DecodeStatusReport parses a StatusReport body.
func DecodeStatusReport(data []byte) (*StatusReport, error) {
	if len(data) < StatusReportMinSize {
		return nil, ErrStatusReportTooShort
	}
	s := &StatusReport{
		GeneralCode:  GeneralCode(binary.LittleEndian.Uint16(data[0:2])),
		ProtocolID:   binary.LittleEndian.Uint32(data[2:6]),
		ProtocolCode: binary.LittleEndian.Uint16(data[6:8]),
	}
	if len(data) > StatusReportMinSize {
		s.ProtocolData = append([]byte{}, data[StatusReportMinSize:]...)
	}
	return s, nil
}

// IsSuccess reports whether the general code is SUCCESS.
func (s *StatusReport) IsSuccess() bool {
	return s.GeneralCode == GeneralCodeSuccess
}

// IsSecureChannel reports whether ProtocolCode is a Secure Channel code.
func (s *StatusReport) IsSecureChannel() bool {
	return s.ProtocolID == uint32(ProtocolID)
}

// BusyWaitTime returns the wait carried by a Busy report, or 0.
func (s *StatusReport) BusyWaitTime() uint16 {
	if s.GeneralCode != GeneralCodeBusy || len(s.ProtocolData) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(s.ProtocolData)
}

func (s *StatusReport) String() string {
	if s.IsSecureChannel() {
		return fmt.Sprintf("StatusReport{General: %s, Protocol: SecureChannel, Code: %s}",
			s.GeneralCode, ProtocolCode(s.ProtocolCode))
	}
	return fmt.Sprintf("StatusReport{General: %s, ProtocolID: 0x%08X, Code: 0x%04X}",
		s.GeneralCode, s.ProtocolID, s.ProtocolCode)
}

// StatusReportError is a failure the peer reported instead of the
// expected message.
type StatusReportError struct {
	// Expected names the message that was awaited.
	Expected string
	Report   StatusReport
}

func (e *StatusReportError) Error() string {
	return fmt.Sprintf("securechannel: peer answered %s with %s", e.Expected, e.Report.String())
}

// Unwrap makes errors.Is(err, ErrStatusReportReceived) hold.
func (e *StatusReportError) Unwrap() error { return ErrStatusReportReceived }

// CheckStatusReport inspects f when it is a Secure Channel StatusReport.
// It returns (report, nil) for success, a *StatusReportError for any
// failure code and (nil, nil) when f is some other message.
func CheckStatusReport(f *message.Frame, expected string) (*StatusReport, error) {
	if f.Payload.ProtocolID != ProtocolID || Opcode(f.Payload.Opcode) != OpcodeStatusReport {
		return nil, nil
	}
	report, err := DecodeStatusReport(f.Body)
	if err != nil {
		return nil, err
	}
	if !report.IsSuccess() {
		return report, &StatusReportError{Expected: expected, Report: *report}
	}
	return report, nil
}
