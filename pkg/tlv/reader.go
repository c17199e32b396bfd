package tlv

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// Reader walks TLV elements in a byte slice.
//
// Call Next to advance, then a typed getter. Containers are entered with
// EnterContainer and left with ExitContainer, which skips any members the
// caller did not consume. Every length is checked against the remaining
// input before it is used.
type Reader struct {
	data  []byte
	pos   int
	stack []ElementType

	has bool
	tag Tag
	typ ElementType
	val []byte
}

// NewReader returns a Reader over data. The slice is not copied; getters
// that return byte slices copy.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Depth returns the number of containers currently entered.
func (r *Reader) Depth() int {
	return len(r.stack)
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.pos
}

// Next advances to the next element. At the end of the input it returns
// io.EOF, or ErrTruncatedInput if containers are still open. Inside a
// container the closing marker is reported as an element of type
// ElementTypeEnd.
func (r *Reader) Next() error {
	r.has = false
	if r.pos >= len(r.data) {
		if len(r.stack) > 0 {
			return ErrTruncatedInput
		}
		return io.EOF
	}

	tc, et := splitControlOctet(r.data[r.pos])
	if !et.IsValid() {
		return mismatch("defined element type", et)
	}
	p := r.pos + 1

	if et == ElementTypeEnd {
		if len(r.stack) == 0 || tc != TagControlAnonymous {
			return mismatch("element", et)
		}
		r.pos = p
		r.has, r.tag, r.typ, r.val = true, Tag{}, et, nil
		return nil
	}

	tag, n, err := parseTag(tc, r.data[p:])
	if err != nil {
		return err
	}
	p += n

	if depth := len(r.stack); depth > 0 {
		switch r.stack[depth-1] {
		case ElementTypeArray:
			if !tag.IsAnonymous() {
				return fmt.Errorf("%w: tagged member %s in array", ErrInvalidTag, tag)
			}
		case ElementTypeStruct:
			if tag.IsAnonymous() {
				return fmt.Errorf("%w: anonymous member in structure", ErrInvalidTag)
			}
		}
	}

	var val []byte
	switch {
	case et.IsSignedInt(), et.IsUnsignedInt(), et.IsFloat():
		w := et.fixedWidth()
		if len(r.data)-p < w {
			return ErrTruncatedInput
		}
		val = r.data[p : p+w]
		p += w
	case et.IsUTF8(), et.IsBytes():
		w := et.fixedWidth()
		if len(r.data)-p < w {
			return ErrTruncatedInput
		}
		length := readUintLE(r.data[p : p+w])
		p += w
		if length > uint64(len(r.data)-p) {
			return ErrTruncatedInput
		}
		val = r.data[p : p+int(length)]
		p += int(length)
	}

	r.pos = p
	r.has, r.tag, r.typ, r.val = true, tag, et, val
	return nil
}

func readUintLE(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// Type returns the current element's type.
func (r *Reader) Type() ElementType { return r.typ }

// Tag returns the current element's tag.
func (r *Reader) Tag() Tag { return r.tag }

// IsEndOfContainer reports whether the current element closes a container.
func (r *Reader) IsEndOfContainer() bool {
	return r.has && r.typ == ElementTypeEnd
}

func (r *Reader) expect(kind string, ok func(ElementType) bool) error {
	if !r.has {
		return ErrNoElement
	}
	if !ok(r.typ) {
		return mismatch(kind, r.typ)
	}
	return nil
}

// Uint returns the current unsigned integer.
func (r *Reader) Uint() (uint64, error) {
	if err := r.expect("unsigned integer", ElementType.IsUnsignedInt); err != nil {
		return 0, err
	}
	return readUintLE(r.val), nil
}

// Int returns the current signed integer, sign-extended to 64 bits.
func (r *Reader) Int() (int64, error) {
	if err := r.expect("signed integer", ElementType.IsSignedInt); err != nil {
		return 0, err
	}
	switch len(r.val) {
	case 1:
		return int64(int8(r.val[0])), nil
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(r.val))), nil
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(r.val))), nil
	default:
		return int64(binary.LittleEndian.Uint64(r.val)), nil
	}
}

// Bool returns the current boolean.
func (r *Reader) Bool() (bool, error) {
	if err := r.expect("boolean", ElementType.IsBool); err != nil {
		return false, err
	}
	return r.typ == ElementTypeTrue, nil
}

// Float returns the current float of either width.
func (r *Reader) Float() (float64, error) {
	if err := r.expect("float", ElementType.IsFloat); err != nil {
		return 0, err
	}
	if r.typ == ElementTypeFloat32 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(r.val))), nil
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(r.val)), nil
}

// String returns the current UTF-8 string.
func (r *Reader) String() (string, error) {
	if err := r.expect("UTF-8 string", ElementType.IsUTF8); err != nil {
		return "", err
	}
	if !utf8.Valid(r.val) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrMalformedTLV)
	}
	return string(r.val), nil
}

// Bytes returns a copy of the current octet string.
func (r *Reader) Bytes() ([]byte, error) {
	if err := r.expect("octet string", ElementType.IsBytes); err != nil {
		return nil, err
	}
	out := make([]byte, len(r.val))
	copy(out, r.val)
	return out, nil
}

// IsNull reports whether the current element is null.
func (r *Reader) IsNull() bool {
	return r.has && r.typ == ElementTypeNull
}

// EnterContainer descends into the current structure, array or list.
func (r *Reader) EnterContainer() error {
	if err := r.expect("container", ElementType.IsContainer); err != nil {
		return err
	}
	if len(r.stack) >= MaxNestingDepth {
		return ErrNestingTooDeep
	}
	r.stack = append(r.stack, r.typ)
	r.has = false
	return nil
}

// ExitContainer skips whatever remains of the innermost entered container,
// including its end marker.
func (r *Reader) ExitContainer() error {
	if len(r.stack) == 0 {
		return ErrNotInContainer
	}
	for !r.IsEndOfContainer() {
		if r.has && r.typ.IsContainer() {
			if err := r.Skip(); err != nil {
				return err
			}
		}
		if err := r.Next(); err != nil {
			if err == io.EOF {
				return ErrTruncatedInput
			}
			return err
		}
	}
	r.stack = r.stack[:len(r.stack)-1]
	r.has = false
	return nil
}

// Skip steps over the current element. For containers the whole subtree
// is consumed.
func (r *Reader) Skip() error {
	if !r.has {
		return ErrNoElement
	}
	if !r.typ.IsContainer() {
		r.has = false
		return nil
	}
	if err := r.EnterContainer(); err != nil {
		return err
	}
	return r.ExitContainer()
}
