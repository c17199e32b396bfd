package credentials

import (
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/backkem/matterctl/pkg/tlv"
)

// Attribute types. The Matter-specific ones carry 64-bit (or 32-bit)
// identifiers; the others carry strings.
const (
	AttrCommonName          uint8 = 1
	AttrSurname             uint8 = 2
	AttrSerialNumber        uint8 = 3
	AttrCountryName         uint8 = 4
	AttrLocalityName        uint8 = 5
	AttrStateOrProvince     uint8 = 6
	AttrOrganizationName    uint8 = 7
	AttrOrganizationalUnit  uint8 = 8
	AttrTitle               uint8 = 9
	AttrName                uint8 = 10
	AttrGivenName           uint8 = 11
	AttrInitials            uint8 = 12
	AttrGenerationQualifier uint8 = 13
	AttrDNQualifier         uint8 = 14
	AttrPseudonym           uint8 = 15
	AttrDomainComponent     uint8 = 16

	AttrNodeID            uint8 = 17
	AttrFirmwareSigningID uint8 = 18
	AttrICACID            uint8 = 19
	AttrRCACID            uint8 = 20
	AttrFabricID          uint8 = 21
	AttrNOCCAT            uint8 = 22
	AttrVVSID             uint8 = 23

	printableOffset uint8 = 0x80
)

var matterArc = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1}

var attrOIDs = map[uint8]asn1.ObjectIdentifier{
	AttrCommonName:          {2, 5, 4, 3},
	AttrSurname:             {2, 5, 4, 4},
	AttrSerialNumber:        {2, 5, 4, 5},
	AttrCountryName:         {2, 5, 4, 6},
	AttrLocalityName:        {2, 5, 4, 7},
	AttrStateOrProvince:     {2, 5, 4, 8},
	AttrOrganizationName:    {2, 5, 4, 10},
	AttrOrganizationalUnit:  {2, 5, 4, 11},
	AttrTitle:               {2, 5, 4, 12},
	AttrName:                {2, 5, 4, 41},
	AttrGivenName:           {2, 5, 4, 42},
	AttrInitials:            {2, 5, 4, 43},
	AttrGenerationQualifier: {2, 5, 4, 44},
	AttrDNQualifier:         {2, 5, 4, 46},
	AttrPseudonym:           {2, 5, 4, 65},
	AttrDomainComponent:     {0, 9, 2342, 19200300, 100, 1, 25},
}

func init() {
	for t := AttrNodeID; t <= AttrVVSID; t++ {
		attrOIDs[t] = append(append(asn1.ObjectIdentifier{}, matterArc...), int(t-AttrNodeID+1))
	}
}

// OID returns the X.509 attribute type for t.
func OID(t uint8) (asn1.ObjectIdentifier, bool) {
	oid, ok := attrOIDs[t]
	return oid, ok
}

func attrType(oid asn1.ObjectIdentifier) (uint8, bool) {
	for t, o := range attrOIDs {
		if o.Equal(oid) {
			return t, true
		}
	}
	return 0, false
}

// IsMatterSpecific reports whether t holds an identifier rather than text.
func IsMatterSpecific(t uint8) bool {
	return t >= AttrNodeID && t <= AttrVVSID
}

// identifierHexLen is the fixed hex width of a Matter-specific attribute
// in its X.509 form.
func identifierHexLen(t uint8) int {
	switch t {
	case AttrNOCCAT, AttrVVSID:
		return 8
	default:
		return 16
	}
}

// Attribute is one entry of a distinguished name.
type Attribute struct {
	Type uint8
	// Printable marks text that X.509 encodes as PrintableString.
	Printable bool
	Text      string
	ID        uint64
}

func (a Attribute) String() string {
	if IsMatterSpecific(a.Type) {
		return fmt.Sprintf("%d=%0*X", a.Type, identifierHexLen(a.Type), a.ID)
	}
	return fmt.Sprintf("%d=%s", a.Type, a.Text)
}

// DN is a distinguished name in certificate order.
type DN []Attribute

// Find returns the identifier of the first attribute of type t.
func (dn DN) Find(t uint8) (uint64, bool) {
	for _, a := range dn {
		if a.Type == t {
			return a.ID, true
		}
	}
	return 0, false
}

func (dn DN) String() string {
	parts := make([]string, len(dn))
	for i, a := range dn {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

func (dn DN) value(tag tlv.Tag) tlv.Value {
	elems := make([]tlv.Value, 0, len(dn))
	for _, a := range dn {
		if IsMatterSpecific(a.Type) {
			elems = append(elems, tlv.Uint(tlv.ContextTag(a.Type), a.ID))
			continue
		}
		t := a.Type
		if a.Printable {
			t += printableOffset
		}
		elems = append(elems, tlv.String(tlv.ContextTag(t), a.Text))
	}
	return tlv.List(tag, elems...)
}

func dnFromValue(v tlv.Value) (DN, error) {
	if v.Kind() != tlv.KindList {
		return nil, fmt.Errorf("%w: want list, got %s", ErrInvalidDN, v.Kind())
	}
	dn := make(DN, 0, len(v.Children()))
	for _, e := range v.Children() {
		n, ok := e.Tag.ContextNumber()
		if !ok {
			return nil, fmt.Errorf("%w: non-context tag %s", ErrInvalidDN, e.Tag)
		}
		a := Attribute{Type: n}
		if n > printableOffset {
			a.Type, a.Printable = n-printableOffset, true
		}
		if _, known := attrOIDs[a.Type]; !known {
			return nil, fmt.Errorf("%w: attribute %d", ErrUnsupportedOID, n)
		}
		var err error
		if IsMatterSpecific(a.Type) && !a.Printable {
			a.ID, err = e.AsUint()
		} else if !IsMatterSpecific(a.Type) {
			a.Text, err = e.AsString()
		} else {
			err = fmt.Errorf("printable identifier %d", a.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDN, err)
		}
		dn = append(dn, a)
	}
	return dn, nil
}

// parseName walks a DER Name and keeps the string encoding of each
// attribute, which crypto/x509 discards.
func parseName(der []byte) (DN, error) {
	input := cryptobyte.String(der)
	var rdns cryptobyte.String
	if !input.ReadASN1(&rdns, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, ErrInvalidDN
	}
	var dn DN
	for !rdns.Empty() {
		var set cryptobyte.String
		if !rdns.ReadASN1(&set, cbasn1.SET) {
			return nil, ErrInvalidDN
		}
		for !set.Empty() {
			var (
				atv   cryptobyte.String
				oid   asn1.ObjectIdentifier
				value cryptobyte.String
				tag   cbasn1.Tag
			)
			if !set.ReadASN1(&atv, cbasn1.SEQUENCE) ||
				!atv.ReadASN1ObjectIdentifier(&oid) ||
				!atv.ReadAnyASN1(&value, &tag) {
				return nil, ErrInvalidDN
			}
			a, err := newAttribute(oid, tag, string(value))
			if err != nil {
				return nil, err
			}
			dn = append(dn, a)
		}
	}
	return dn, nil
}

func newAttribute(oid asn1.ObjectIdentifier, tag cbasn1.Tag, s string) (Attribute, error) {
	t, ok := attrType(oid)
	if !ok {
		return Attribute{}, fmt.Errorf("%w: %s", ErrUnsupportedOID, oid)
	}
	if tag != cbasn1.UTF8String && tag != cbasn1.PrintableString {
		return Attribute{}, fmt.Errorf("%w: attribute %s has string tag %d", ErrInvalidDN, oid, tag)
	}
	if !IsMatterSpecific(t) {
		return Attribute{Type: t, Text: s, Printable: tag == cbasn1.PrintableString}, nil
	}
	if tag != cbasn1.UTF8String || len(s) != identifierHexLen(t) {
		return Attribute{}, fmt.Errorf("%w: identifier %q for %s", ErrInvalidDN, s, oid)
	}
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return Attribute{}, fmt.Errorf("%w: %v", ErrInvalidDN, err)
	}
	return Attribute{Type: t, ID: id}, nil
}

// identifierValue renders a Matter-specific attribute the way it appears
// inside an X.509 name: upper-case hex in a UTF8String.
func identifierValue(t uint8, id uint64) asn1.RawValue {
	return asn1.RawValue{
		Tag:   asn1.TagUTF8String,
		Bytes: []byte(fmt.Sprintf("%0*X", identifierHexLen(t), id)),
	}
}
