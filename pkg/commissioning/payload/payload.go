// Package payload decodes and produces onboarding payloads: the manual
// pairing code a user types in, with its Verhoeff check digit.
package payload

import "fmt"

// Discriminator sizes in bits.
const (
	LongDiscriminatorBits  = 12
	ShortDiscriminatorBits = 4
)

// Discriminator distinguishes devices advertising for commissioning. A
// manual code carries only the top 4 bits of the 12-bit value.
type Discriminator struct {
	value uint16
	short bool
}

// LongDiscriminator returns a 12-bit discriminator. Higher bits are
// dropped.
func LongDiscriminator(v uint16) Discriminator {
	return Discriminator{value: v & 0xFFF}
}

// ShortDiscriminator returns a 4-bit discriminator. Higher bits are
// dropped.
func ShortDiscriminator(v uint8) Discriminator {
	return Discriminator{value: uint16(v & 0xF), short: true}
}

// IsShort reports whether only the top 4 bits are known.
func (d Discriminator) IsShort() bool { return d.short }

// Short returns the top 4 bits.
func (d Discriminator) Short() uint8 {
	if d.short {
		return uint8(d.value)
	}
	return uint8(d.value >> (LongDiscriminatorBits - ShortDiscriminatorBits))
}

// Long returns the 12-bit value. For a short discriminator the low 8 bits
// are zero.
func (d Discriminator) Long() uint16 {
	if d.short {
		return d.value << (LongDiscriminatorBits - ShortDiscriminatorBits)
	}
	return d.value
}

// Matches reports whether a device advertising the 12-bit value v is
// selected by d.
func (d Discriminator) Matches(v uint16) bool {
	if d.short {
		return LongDiscriminator(v).Short() == uint8(d.value)
	}
	return d.value == v&0xFFF
}

func (d Discriminator) String() string {
	if d.short {
		return fmt.Sprintf("short:%d", d.value)
	}
	return fmt.Sprintf("long:%d", d.value)
}

// CommissioningFlow tells the commissioner how the device enters
// commissioning mode.
type CommissioningFlow uint8

const (
	FlowStandard CommissioningFlow = iota
	FlowUserIntent
	FlowCustom
)

func (f CommissioningFlow) String() string {
	switch f {
	case FlowStandard:
		return "Standard"
	case FlowUserIntent:
		return "UserIntent"
	case FlowCustom:
		return "Custom"
	default:
		return fmt.Sprintf("CommissioningFlow(%d)", uint8(f))
	}
}

// Payload is the decoded content of a manual pairing code.
type Payload struct {
	Discriminator Discriminator
	Passcode      uint32

	// VendorID and ProductID are set only by 21-digit codes, which use
	// FlowCustom.
	VendorID  uint16
	ProductID uint16
	Flow      CommissioningFlow

	// ChecksumValid reports whether the Verhoeff check digit matched.
	// ParseManualCode only returns payloads where it does.
	ChecksumValid bool
}
