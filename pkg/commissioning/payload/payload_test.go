package payload

import (
	"errors"
	"testing"
)

func TestDecodeManualCode(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		discriminator uint8
		passcode      uint32
		vendor        uint16
		product       uint16
		checksumValid bool
	}{
		{"fixture with bad check digit", "12345678911", 5, 129293216, 0, 0, false},
		{"fixture with good check digit", "12345678918", 5, 129293216, 0, 0, true},
		{"default test device", "34970112332", 15, 20202021, 0, 0, true},
		{"short code", "24129507533", 0xA, 12345679, 0, 0, true},
		{"dashed", "2412-950-7533", 0xA, 12345679, 0, 0, true},
		{"long code", "641295075345367145262", 0xA, 12345679, 45367, 14526, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeManualCode(tt.code)
			if err != nil {
				t.Fatalf("DecodeManualCode(%q): %v", tt.code, err)
			}
			if got := p.Discriminator.Short(); got != tt.discriminator {
				t.Errorf("discriminator %d, want %d", got, tt.discriminator)
			}
			if p.Passcode != tt.passcode {
				t.Errorf("passcode %d, want %d", p.Passcode, tt.passcode)
			}
			if p.VendorID != tt.vendor || p.ProductID != tt.product {
				t.Errorf("vendor/product %d/%d", p.VendorID, p.ProductID)
			}
			if p.ChecksumValid != tt.checksumValid {
				t.Errorf("ChecksumValid = %v", p.ChecksumValid)
			}
			if (tt.vendor != 0) != (p.Flow == FlowCustom) {
				t.Errorf("flow %s", p.Flow)
			}
		})
	}
}

func TestFixtureDiscriminator(t *testing.T) {
	p, err := DecodeManualCode("12345678911")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Discriminator.IsShort() || p.Discriminator.Long() != 0x500 {
		t.Errorf("discriminator %s, long form 0x%x", p.Discriminator, p.Discriminator.Long())
	}
	if !p.Discriminator.Matches(0x5AB) || p.Discriminator.Matches(0x4FF) {
		t.Error("short discriminator 5 matches the wrong devices")
	}
}

func TestParseManualCodeStrict(t *testing.T) {
	if _, err := ParseManualCode("12345678911"); !errors.Is(err, ErrInvalidChecksum) {
		t.Errorf("bad check digit: %v", err)
	}
	p, err := ParseManualCode("12345678918")
	if err != nil {
		t.Fatalf("good check digit: %v", err)
	}
	if p.Passcode != 129293216 {
		t.Errorf("passcode %d", p.Passcode)
	}

	rejects := []struct {
		code string
		err  error
	}{
		{"", ErrInvalidLength},
		{"1234567891", ErrInvalidLength},
		{"123456789123", ErrInvalidLength},
		{"1234567891a", ErrNotDigits},
		{"82345678911", ErrReservedValue},
		{"42345678911", ErrInvalidLength},
		{"10000000000", ErrInvalidPasscode},
	}
	for _, tt := range rejects {
		if _, err := DecodeManualCode(tt.code); !errors.Is(err, tt.err) {
			t.Errorf("DecodeManualCode(%q) = %v, want %v", tt.code, err, tt.err)
		}
	}
}

func TestEncodeManualCode(t *testing.T) {
	tests := []struct {
		payload Payload
		want    string
	}{
		{Payload{Discriminator: LongDiscriminator(0xF00), Passcode: 20202021}, "34970112332"},
		{Payload{Discriminator: ShortDiscriminator(0xA), Passcode: 12345679}, "24129507533"},
		{Payload{Discriminator: LongDiscriminator(0xA00), Passcode: 12345679, Flow: FlowCustom, VendorID: 45367, ProductID: 14526}, "641295075345367145262"},
	}
	for _, tt := range tests {
		got, err := EncodeManualCode(&tt.payload)
		if err != nil {
			t.Fatalf("EncodeManualCode: %v", err)
		}
		if got != tt.want {
			t.Errorf("EncodeManualCode = %s, want %s", got, tt.want)
		}
		back, err := ParseManualCode(got)
		if err != nil || back.Passcode != tt.payload.Passcode || back.Discriminator.Short() != tt.payload.Discriminator.Short() {
			t.Errorf("ParseManualCode(%s) = %+v, %v", got, back, err)
		}
	}
	if _, err := EncodeManualCode(&Payload{}); !errors.Is(err, ErrInvalidPasscode) {
		t.Errorf("zero passcode: %v", err)
	}
}

func TestVerhoeff(t *testing.T) {
	c, err := VerhoeffCompute("236")
	if err != nil || c != '3' {
		t.Fatalf("VerhoeffCompute(236) = %c, %v", c, err)
	}
	if !VerhoeffValidate("2363") || VerhoeffValidate("2364") {
		t.Error("VerhoeffValidate(236x)")
	}
	// Every single-digit substitution and adjacent transposition is caught.
	code := "34970112332"
	for i := range code {
		for d := byte('0'); d <= '9'; d++ {
			if d == code[i] {
				continue
			}
			b := []byte(code)
			b[i] = d
			if VerhoeffValidate(string(b)) {
				t.Errorf("substitution %s validates", b)
			}
		}
		if i+1 < len(code) && code[i] != code[i+1] {
			b := []byte(code)
			b[i], b[i+1] = b[i+1], b[i]
			if VerhoeffValidate(string(b)) {
				t.Errorf("transposition %s validates", b)
			}
		}
	}
	if _, err := VerhoeffCompute("12x"); !errors.Is(err, ErrNotDigits) {
		t.Errorf("non-digit: %v", err)
	}
}
