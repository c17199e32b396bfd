package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidLength   = errors.New("payload: manual code must have 11 or 21 digits")
	ErrInvalidChecksum = errors.New("payload: manual code check digit mismatch")
	ErrReservedValue   = errors.New("payload: reserved value in manual code")
	ErrInvalidPasscode = errors.New("payload: invalid passcode")
)

// Digit groups of a manual code, before the check digit.
const (
	shortCodeDigits = 10
	longCodeDigits  = 20

	chunk1Digits  = 1
	chunk2Digits  = 5
	chunk3Digits  = 4
	productDigits = 5

	vidPIDFlag       = 1 << 2
	passcodeLowBits  = 14
	passcodeHighBits = 13
	maxChunk2        = 1<<16 - 1
	maxChunk3        = 1<<passcodeHighBits - 1
	maxPasscode      = 1<<(passcodeLowBits+passcodeHighBits) - 1
)

// Normalize removes the dashes and spaces people type between digit
// groups.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, code)
}

// ParseManualCode decodes code and rejects it unless the check digit
// matches.
func ParseManualCode(code string) (*Payload, error) {
	p, err := DecodeManualCode(code)
	if err != nil {
		return nil, err
	}
	if !p.ChecksumValid {
		return nil, ErrInvalidChecksum
	}
	return p, nil
}

// DecodeManualCode decodes code and reports in ChecksumValid whether the
// check digit matches, without rejecting on a mismatch.
func DecodeManualCode(code string) (*Payload, error) {
	code = Normalize(code)
	body := code[:max(len(code)-1, 0)]
	long := len(body) == longCodeDigits
	if len(body) != shortCodeDigits && !long {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, len(code))
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return nil, ErrNotDigits
		}
	}

	d := digitReader{s: body}
	chunk1 := d.next(chunk1Digits)
	chunk2 := d.next(chunk2Digits)
	chunk3 := d.next(chunk3Digits)
	if chunk1 > 7 {
		return nil, fmt.Errorf("%w: leading digit %d", ErrReservedValue, chunk1)
	}
	if (chunk1&vidPIDFlag != 0) != long {
		return nil, fmt.Errorf("%w: vendor flag disagrees with code length", ErrInvalidLength)
	}
	if chunk2 > maxChunk2 || chunk3 > maxChunk3 {
		return nil, fmt.Errorf("%w: digit group out of range", ErrReservedValue)
	}

	p := &Payload{
		Discriminator: ShortDiscriminator(uint8((chunk1&0x3)<<2 | chunk2>>passcodeLowBits)),
		Passcode:      uint32(chunk3<<passcodeLowBits | chunk2&(1<<passcodeLowBits-1)),
		Flow:          FlowStandard,
		ChecksumValid: VerhoeffValidate(code),
	}
	if p.Passcode == 0 {
		return nil, ErrInvalidPasscode
	}
	if long {
		vid, pid := d.next(productDigits), d.next(productDigits)
		if vid > 0xFFFF || pid > 0xFFFF {
			return nil, fmt.Errorf("%w: vendor or product id", ErrReservedValue)
		}
		p.VendorID, p.ProductID = uint16(vid), uint16(pid)
		p.Flow = FlowCustom
	}
	return p, nil
}

// EncodeManualCode produces the manual code for p: 21 digits for
// FlowCustom, 11 otherwise.
func EncodeManualCode(p *Payload) (string, error) {
	if p.Passcode == 0 || p.Passcode > maxPasscode {
		return "", fmt.Errorf("%w: %d", ErrInvalidPasscode, p.Passcode)
	}
	disc := uint64(p.Discriminator.Short())
	long := p.Flow == FlowCustom

	chunk1 := disc >> 2
	if long {
		chunk1 |= vidPIDFlag
	}
	chunk2 := (disc&0x3)<<passcodeLowBits | uint64(p.Passcode)&(1<<passcodeLowBits-1)
	chunk3 := uint64(p.Passcode) >> passcodeLowBits

	body := fmt.Sprintf("%d%05d%04d", chunk1, chunk2, chunk3)
	if long {
		body += fmt.Sprintf("%05d%05d", p.VendorID, p.ProductID)
	}
	check, err := VerhoeffCompute(body)
	if err != nil {
		return "", err
	}
	return body + string(check), nil
}

type digitReader struct {
	s   string
	pos int
}

// next parses n digits; the caller has checked that they are all digits.
func (d *digitReader) next(n int) uint64 {
	v, _ := strconv.ParseUint(d.s[d.pos:d.pos+n], 10, 64)
	d.pos += n
	return v
}
