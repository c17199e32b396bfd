package tlv

import (
	"encoding/binary"
	"fmt"
)

// TagControl is the upper three bits of a control octet.
type TagControl uint8

const (
	TagControlAnonymous        TagControl = 0
	TagControlContext          TagControl = 1
	TagControlCommonProfile2   TagControl = 2
	TagControlCommonProfile4   TagControl = 3
	TagControlImplicitProfile2 TagControl = 4
	TagControlImplicitProfile4 TagControl = 5
	TagControlFullyQualified6  TagControl = 6
	TagControlFullyQualified8  TagControl = 7
)

// tagSizes is the number of octets each tag form occupies after the control octet.
var tagSizes = [8]int{0, 1, 2, 4, 2, 4, 6, 8}

// Tag identifies an element within its container.
type Tag struct {
	Control  TagControl
	VendorID uint16
	Profile  uint16
	Number   uint32
}

// Anonymous returns the empty tag used for top-level elements and array members.
func Anonymous() Tag {
	return Tag{}
}

// ContextTag returns a context-specific tag, the usual field selector in
// structures.
func ContextTag(n uint8) Tag {
	return Tag{Control: TagControlContext, Number: uint32(n)}
}

// CommonProfileTag returns a Matter common profile tag, in its short form
// when the number fits.
func CommonProfileTag(n uint32) Tag {
	if n <= 0xFFFF {
		return Tag{Control: TagControlCommonProfile2, Number: n}
	}
	return Tag{Control: TagControlCommonProfile4, Number: n}
}

// ImplicitProfileTag returns a tag resolved against the profile in scope.
func ImplicitProfileTag(n uint32) Tag {
	if n <= 0xFFFF {
		return Tag{Control: TagControlImplicitProfile2, Number: n}
	}
	return Tag{Control: TagControlImplicitProfile4, Number: n}
}

// FullyQualifiedTag returns a vendor/profile qualified tag.
func FullyQualifiedTag(vendor, profile uint16, n uint32) Tag {
	if n <= 0xFFFF {
		return Tag{Control: TagControlFullyQualified6, VendorID: vendor, Profile: profile, Number: n}
	}
	return Tag{Control: TagControlFullyQualified8, VendorID: vendor, Profile: profile, Number: n}
}

func (t Tag) IsAnonymous() bool { return t.Control == TagControlAnonymous }
func (t Tag) IsContext() bool   { return t.Control == TagControlContext }

// ContextNumber returns the tag number and whether t is a context tag.
func (t Tag) ContextNumber() (uint8, bool) {
	if !t.IsContext() {
		return 0, false
	}
	return uint8(t.Number), true
}

func (t Tag) String() string {
	switch t.Control {
	case TagControlAnonymous:
		return "anon"
	case TagControlContext:
		return fmt.Sprintf("ctx(%d)", t.Number)
	case TagControlCommonProfile2, TagControlCommonProfile4:
		return fmt.Sprintf("common(%d)", t.Number)
	case TagControlImplicitProfile2, TagControlImplicitProfile4:
		return fmt.Sprintf("implicit(%d)", t.Number)
	default:
		return fmt.Sprintf("fq(0x%04X:0x%04X:%d)", t.VendorID, t.Profile, t.Number)
	}
}

func (t Tag) appendTo(b []byte) []byte {
	switch t.Control {
	case TagControlContext:
		b = append(b, byte(t.Number))
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		b = binary.LittleEndian.AppendUint16(b, uint16(t.Number))
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		b = binary.LittleEndian.AppendUint32(b, t.Number)
	case TagControlFullyQualified6:
		b = binary.LittleEndian.AppendUint16(b, t.VendorID)
		b = binary.LittleEndian.AppendUint16(b, t.Profile)
		b = binary.LittleEndian.AppendUint16(b, uint16(t.Number))
	case TagControlFullyQualified8:
		b = binary.LittleEndian.AppendUint16(b, t.VendorID)
		b = binary.LittleEndian.AppendUint16(b, t.Profile)
		b = binary.LittleEndian.AppendUint32(b, t.Number)
	}
	return b
}

// parseTag decodes the tag octets for control tc from the front of b.
func parseTag(tc TagControl, b []byte) (Tag, int, error) {
	n := tagSizes[tc&7]
	if len(b) < n {
		return Tag{}, 0, ErrTruncatedInput
	}
	t := Tag{Control: tc}
	switch tc {
	case TagControlContext:
		t.Number = uint32(b[0])
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		t.Number = uint32(binary.LittleEndian.Uint16(b))
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		t.Number = binary.LittleEndian.Uint32(b)
	case TagControlFullyQualified6:
		t.VendorID = binary.LittleEndian.Uint16(b)
		t.Profile = binary.LittleEndian.Uint16(b[2:])
		t.Number = uint32(binary.LittleEndian.Uint16(b[4:]))
	case TagControlFullyQualified8:
		t.VendorID = binary.LittleEndian.Uint16(b)
		t.Profile = binary.LittleEndian.Uint16(b[2:])
		t.Number = binary.LittleEndian.Uint32(b[4:])
	}
	return t, n, nil
}
