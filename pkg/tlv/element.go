// Package tlv implements the Matter Tag-Length-Value encoding used for every
// application payload and operational certificate.
//
// Two APIs are provided. Writer and Reader stream elements with explicit
// container bookkeeping; Value is a decoded tree with Encode and Decode as
// mutual inverses. Decoding never panics on hostile input: bounds violations
// return ErrTruncatedInput, type confusion returns a *MalformedError and
// deep nesting returns ErrNestingTooDeep.
package tlv

// ElementType is the low five bits of a control octet.
type ElementType uint8

const (
	ElementTypeInt8    ElementType = 0x00
	ElementTypeInt16   ElementType = 0x01
	ElementTypeInt32   ElementType = 0x02
	ElementTypeInt64   ElementType = 0x03
	ElementTypeUInt8   ElementType = 0x04
	ElementTypeUInt16  ElementType = 0x05
	ElementTypeUInt32  ElementType = 0x06
	ElementTypeUInt64  ElementType = 0x07
	ElementTypeFalse   ElementType = 0x08
	ElementTypeTrue    ElementType = 0x09
	ElementTypeFloat32 ElementType = 0x0A
	ElementTypeFloat64 ElementType = 0x0B
	ElementTypeUTF8_1  ElementType = 0x0C
	ElementTypeUTF8_2  ElementType = 0x0D
	ElementTypeUTF8_4  ElementType = 0x0E
	ElementTypeUTF8_8  ElementType = 0x0F
	ElementTypeBytes1  ElementType = 0x10
	ElementTypeBytes2  ElementType = 0x11
	ElementTypeBytes4  ElementType = 0x12
	ElementTypeBytes8  ElementType = 0x13
	ElementTypeNull    ElementType = 0x14
	ElementTypeStruct  ElementType = 0x15
	ElementTypeArray   ElementType = 0x16
	ElementTypeList    ElementType = 0x17
	ElementTypeEnd     ElementType = 0x18
)

var elementTypeNames = [...]string{
	"Int8", "Int16", "Int32", "Int64",
	"UInt8", "UInt16", "UInt32", "UInt64",
	"False", "True", "Float32", "Float64",
	"UTF8_1", "UTF8_2", "UTF8_4", "UTF8_8",
	"Bytes1", "Bytes2", "Bytes4", "Bytes8",
	"Null", "Structure", "Array", "List", "EndOfContainer",
}

func (e ElementType) String() string {
	if int(e) < len(elementTypeNames) {
		return elementTypeNames[e]
	}
	return "Reserved"
}

// IsValid reports whether e is a defined element type.
func (e ElementType) IsValid() bool {
	return e <= ElementTypeEnd
}

func (e ElementType) IsSignedInt() bool   { return e <= ElementTypeInt64 }
func (e ElementType) IsUnsignedInt() bool { return e >= ElementTypeUInt8 && e <= ElementTypeUInt64 }
func (e ElementType) IsBool() bool        { return e == ElementTypeFalse || e == ElementTypeTrue }
func (e ElementType) IsFloat() bool       { return e == ElementTypeFloat32 || e == ElementTypeFloat64 }
func (e ElementType) IsUTF8() bool        { return e >= ElementTypeUTF8_1 && e <= ElementTypeUTF8_8 }
func (e ElementType) IsBytes() bool       { return e >= ElementTypeBytes1 && e <= ElementTypeBytes8 }

// IsContainer reports whether e opens a Structure, Array or List.
func (e ElementType) IsContainer() bool {
	return e == ElementTypeStruct || e == ElementTypeArray || e == ElementTypeList
}

// fixedWidth returns the number of value octets that follow the tag for
// integers and floats, or the width of the length prefix for strings.
// Zero for booleans, null and containers.
func (e ElementType) fixedWidth() int {
	switch {
	case e.IsSignedInt():
		return 1 << e
	case e.IsUnsignedInt():
		return 1 << (e - ElementTypeUInt8)
	case e == ElementTypeFloat32:
		return 4
	case e == ElementTypeFloat64:
		return 8
	case e.IsUTF8():
		return 1 << (e - ElementTypeUTF8_1)
	case e.IsBytes():
		return 1 << (e - ElementTypeBytes1)
	}
	return 0
}

func controlOctet(tc TagControl, et ElementType) byte {
	return byte(tc)<<5 | byte(et)
}

func splitControlOctet(b byte) (TagControl, ElementType) {
	return TagControl(b >> 5), ElementType(b & 0x1F)
}
