package clusters

import (
	"errors"
	"fmt"

	"github.com/backkem/matterctl/pkg/tlv"
)

// Decoding errors.
var (
	ErrInvalidFields = errors.New("clusters: invalid command fields")
	ErrMissingField  = errors.New("clusters: missing required field")
)

// Fields reads the members of a command structure. The first failure is
// kept and every later read returns a zero value, so a decoder can read
// all members and check Err once.
type Fields struct {
	v   tlv.Value
	err error
}

// NewFields wraps v, which must be a structure.
func NewFields(v tlv.Value) *Fields {
	f := &Fields{v: v}
	if v.Kind() != tlv.KindStruct {
		f.err = fmt.Errorf("%w: got %s", ErrInvalidFields, v.Kind())
	}
	return f
}

// Err returns the first failure.
func (f *Fields) Err() error { return f.err }

func (f *Fields) lookup(n uint8, required bool) (tlv.Value, bool) {
	if f.err != nil {
		return tlv.Value{}, false
	}
	c, ok := f.v.Field(n)
	if !ok && required {
		f.err = fmt.Errorf("%w: %d", ErrMissingField, n)
	}
	return c, ok
}

func (f *Fields) fail(n uint8, err error) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: field %d: %v", ErrInvalidFields, n, err)
	}
}

// Uint reads required member n and checks it against limit.
func (f *Fields) Uint(n uint8, limit uint64) uint64 {
	v, _ := f.uint(n, limit, true)
	return v
}

// OptionalUint reads member n if present.
func (f *Fields) OptionalUint(n uint8, limit uint64) (uint64, bool) {
	return f.uint(n, limit, false)
}

func (f *Fields) uint(n uint8, limit uint64, required bool) (uint64, bool) {
	c, ok := f.lookup(n, required)
	if !ok {
		return 0, false
	}
	v, err := c.AsUint()
	if err != nil {
		f.fail(n, err)
		return 0, false
	}
	if v > limit {
		f.fail(n, fmt.Errorf("%d exceeds %d", v, limit))
		return 0, false
	}
	return v, true
}

// Int reads required member n.
func (f *Fields) Int(n uint8) int64 {
	c, ok := f.lookup(n, true)
	if !ok {
		return 0
	}
	v, err := c.AsInt()
	if err == nil {
		return v
	}
	// Non-negative signed values may arrive with an unsigned encoding.
	u, uerr := c.AsUint()
	if uerr != nil || u > 1<<63-1 {
		f.fail(n, err)
		return 0
	}
	return int64(u)
}

// Bytes reads required member n.
func (f *Fields) Bytes(n uint8) []byte {
	b, _ := f.bytes(n, true)
	return b
}

// OptionalBytes reads member n if present.
func (f *Fields) OptionalBytes(n uint8) ([]byte, bool) {
	return f.bytes(n, false)
}

func (f *Fields) bytes(n uint8, required bool) ([]byte, bool) {
	c, ok := f.lookup(n, required)
	if !ok {
		return nil, false
	}
	b, err := c.AsBytes()
	if err != nil {
		f.fail(n, err)
		return nil, false
	}
	return b, true
}

// String reads member n, returning "" when it is absent.
func (f *Fields) String(n uint8) string {
	c, ok := f.lookup(n, false)
	if !ok {
		return ""
	}
	s, err := c.AsString()
	if err != nil {
		f.fail(n, err)
	}
	return s
}

// Bool reads member n, returning false when it is absent.
func (f *Fields) Bool(n uint8) bool {
	c, ok := f.lookup(n, false)
	if !ok {
		return false
	}
	b, err := c.AsBool()
	if err != nil {
		f.fail(n, err)
	}
	return b
}

// Value returns member n unparsed.
func (f *Fields) Value(n uint8) (tlv.Value, bool) {
	return f.lookup(n, false)
}

// IsNull reports whether member n is present and null.
func (f *Fields) IsNull(n uint8) bool {
	c, ok := f.lookup(n, false)
	return ok && c.Kind() == tlv.KindNull
}
