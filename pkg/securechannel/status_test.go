package securechannel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/matterctl/pkg/message"
)

func TestStatusReportWireLayout(t *testing.T) {
	report := &StatusReport{
		GeneralCode:  GeneralCodeFailure,
		ProtocolID:   0x00010002,
		ProtocolCode: 0x1234,
		ProtocolData: []byte{0xAB, 0xCD},
	}
	want := []byte{
		0x01, 0x00, // general
		0x02, 0x00, 0x01, 0x00, // vendor 1, protocol 2
		0x34, 0x12, // protocol code
		0xAB, 0xCD,
	}
	if got := report.Encode(); !bytes.Equal(got, want) {
		t.Fatalf("Encode = % x, want % x", got, want)
	}
	decoded, err := DecodeStatusReport(want)
	if err != nil {
		t.Fatalf("DecodeStatusReport: %v", err)
	}
	if decoded.GeneralCode != report.GeneralCode || decoded.ProtocolID != report.ProtocolID ||
		decoded.ProtocolCode != report.ProtocolCode || !bytes.Equal(decoded.ProtocolData, report.ProtocolData) {
		t.Fatalf("decoded %+v", decoded)
	}
}

func TestStatusReportHelpers(t *testing.T) {
	if s := Success(); !s.IsSuccess() || !s.IsSecureChannel() {
		t.Errorf("Success() = %v", s)
	}
	if s := InvalidParam(); s.IsSuccess() || ProtocolCode(s.ProtocolCode) != ProtocolCodeInvalidParam {
		t.Errorf("InvalidParam() = %v", s)
	}
	if got := Busy(3000).BusyWaitTime(); got != 3000 {
		t.Errorf("BusyWaitTime = %d, want 3000", got)
	}
	if got := Success().BusyWaitTime(); got != 0 {
		t.Errorf("BusyWaitTime of success = %d", got)
	}
	if _, err := DecodeStatusReport([]byte{0, 0, 0}); !errors.Is(err, ErrStatusReportTooShort) {
		t.Errorf("short report: %v", err)
	}
}

func TestCheckStatusReport(t *testing.T) {
	frame := func(proto message.ProtocolID, op Opcode, body []byte) *message.Frame {
		return &message.Frame{
			Payload: message.PayloadHeader{ProtocolID: proto, Opcode: uint8(op)},
			Body:    body,
		}
	}

	tests := []struct {
		name      string
		frame     *message.Frame
		wantRep   bool
		wantError bool
	}{
		{"other opcode", frame(ProtocolID, OpcodePBKDFParamResponse, nil), false, false},
		{"other protocol", frame(message.ProtocolInteractionModel, OpcodeStatusReport, nil), false, false},
		{"success", frame(ProtocolID, OpcodeStatusReport, Success().Encode()), true, false},
		{"failure", frame(ProtocolID, OpcodeStatusReport, InvalidParam().Encode()), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := CheckStatusReport(tt.frame, "Pake2")
			if (rep != nil) != tt.wantRep {
				t.Fatalf("report = %v", rep)
			}
			if (err != nil) != tt.wantError {
				t.Fatalf("err = %v", err)
			}
			if !tt.wantError {
				return
			}
			var se *StatusReportError
			if !errors.As(err, &se) || !errors.Is(err, ErrStatusReportReceived) {
				t.Fatalf("err %v is not a StatusReportError", err)
			}
			if ProtocolCode(se.Report.ProtocolCode) != ProtocolCodeInvalidParam || se.Expected != "Pake2" {
				t.Fatalf("error carries %+v", se)
			}
		})
	}
}

func TestOpcodeString(t *testing.T) {
	if got := OpcodePASEPake3.String(); got != "Pake3" {
		t.Errorf("Pake3 = %q", got)
	}
	if got := ProtocolCodeInvalidParam.String(); got != "INVALID_PARAMETER" {
		t.Errorf("invalid param = %q", got)
	}
	if got := ProtocolCode(0x0003).String(); got != "ProtocolCode(0x0003)" {
		t.Errorf("unnamed protocol code = %q", got)
	}
	if got := Opcode(0x7f).String(); got != "Opcode(0x7f)" {
		t.Errorf("unknown = %q", got)
	}
	if got := GeneralCode(99).String(); got != "GeneralCode(99)" {
		t.Errorf("unknown general = %q", got)
	}
}
