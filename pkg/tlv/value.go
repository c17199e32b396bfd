package tlv

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

// Kind classifies a Value independently of its encoded width.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindUint
	KindBool
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindNull
	KindStruct
	KindArray
	KindList
)

var kindNames = [...]string{
	"invalid", "int", "uint", "bool", "float32", "float64",
	"string", "bytes", "null", "struct", "array", "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsContainer reports whether k holds child values.
func (k Kind) IsContainer() bool {
	return k == KindStruct || k == KindArray || k == KindList
}

// Value is one decoded TLV element and, for containers, its children.
// Values are built per message and not shared.
type Value struct {
	Tag  Tag
	kind Kind

	i        int64
	u        uint64
	f        float64
	s        string
	b        []byte
	children []Value
}

// Int returns a signed integer value.
func Int(tag Tag, v int64) Value { return Value{Tag: tag, kind: KindInt, i: v} }

// Uint returns an unsigned integer value.
func Uint(tag Tag, v uint64) Value { return Value{Tag: tag, kind: KindUint, u: v} }

// String returns a UTF-8 string value.
func String(tag Tag, v string) Value { return Value{Tag: tag, kind: KindString, s: v} }

// Null returns a null value.
func Null(tag Tag) Value { return Value{Tag: tag, kind: KindNull} }

// Bool returns a boolean value.

func Bool(tag Tag, v bool) Value {
	val := Value{Tag: tag, kind: KindBool}
	if v {
		val.u = 1
	}
	return val
}

// Float32 returns a single-precision value.
func Float32(tag Tag, v float32) Value {
	return Value{Tag: tag, kind: KindFloat32, f: float64(v)}
}

// Float64 returns a double-precision value.
func Float64(tag Tag, v float64) Value {
	return Value{Tag: tag, kind: KindFloat64, f: v}
}

// Bytes copies v into a new octet string value.
func Bytes(tag Tag, v []byte) Value {
	return Value{Tag: tag, kind: KindBytes, b: append([]byte{}, v...)}
}

// Struct returns a structure holding fields in order.
func Struct(tag Tag, fields ...Value) Value {
	return Value{Tag: tag, kind: KindStruct, children: fields}
}

// Array returns an array of anonymous elements.
func Array(tag Tag, elems ...Value) Value {
	return Value{Tag: tag, kind: KindArray, children: elems}
}

// List returns an ordered list whose elements may be tagged.
func List(tag Tag, elems ...Value) Value {
	return Value{Tag: tag, kind: KindList, children: elems}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Children returns the members of a container.
func (v Value) Children() []Value { return v.children }

// WithTag returns a copy of v carrying tag. Children are shared.
func (v Value) WithTag(tag Tag) Value {
	v.Tag = tag
	return v
}

// Field returns the member of a structure or list carrying context tag n.
func (v Value) Field(n uint8) (Value, bool) {
	for _, c := range v.children {
		if num, ok := c.Tag.ContextNumber(); ok && num == n {
			return c, true
		}
	}
	return Value{}, false
}

func (v Value) want(k Kind) error {
	if v.kind != k {
		return &MalformedError{Expected: k.String(), Actual: v.elementType()}
	}
	return nil
}

func (v Value) AsInt() (int64, error)    { return v.i, v.want(KindInt) }
func (v Value) AsUint() (uint64, error)  { return v.u, v.want(KindUint) }
func (v Value) AsString() (string, error) { return v.s, v.want(KindString) }
func (v Value) AsBool() (bool, error)    { return v.u == 1, v.want(KindBool) }

// AsFloat returns a float of either width.
func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat32 && v.kind != KindFloat64 {
		return 0, v.want(KindFloat64)
	}
	return v.f, nil
}

// AsBytes returns the octet string without copying.
func (v Value) AsBytes() ([]byte, error) {
	return v.b, v.want(KindBytes)
}

// elementType is the encoded element type, using minimal width for
// integers and length prefixes.
func (v Value) elementType() ElementType {
	switch v.kind {
	case KindInt:
		switch {
		case v.i >= math.MinInt8 && v.i <= math.MaxInt8:
			return ElementTypeInt8
		case v.i >= math.MinInt16 && v.i <= math.MaxInt16:
			return ElementTypeInt16
		case v.i >= math.MinInt32 && v.i <= math.MaxInt32:
			return ElementTypeInt32
		}
		return ElementTypeInt64
	case KindUint:
		switch {
		case v.u <= math.MaxUint8:
			return ElementTypeUInt8
		case v.u <= math.MaxUint16:
			return ElementTypeUInt16
		case v.u <= math.MaxUint32:
			return ElementTypeUInt32
		}
		return ElementTypeUInt64
	case KindBool:
		if v.u == 1 {
			return ElementTypeTrue
		}
		return ElementTypeFalse
	case KindFloat32:
		return ElementTypeFloat32
	case KindFloat64:
		return ElementTypeFloat64
	case KindString:
		return ElementTypeUTF8_1
	case KindBytes:
		return ElementTypeBytes1
	case KindNull:
		return ElementTypeNull
	case KindStruct:
		return ElementTypeStruct
	case KindArray:
		return ElementTypeArray
	case KindList:
		return ElementTypeList
	}
	return ElementTypeEnd
}

// Equal reports whether a and b encode to the same bytes.
func Equal(a, b Value) bool {
	if a.Tag != b.Tag || a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInt:
		return a.i == b.i
	case KindUint, KindBool:
		return a.u == b.u
	case KindFloat32, KindFloat64:
		return math.Float64bits(a.f) == math.Float64bits(b.f)
	case KindString:
		return a.s == b.s
	case KindBytes:
		return bytes.Equal(a.b, b.b)
	case KindStruct, KindArray, KindList:
		if len(a.children) != len(b.children) {
			return false
		}
		for i := range a.children {
			if !Equal(a.children[i], b.children[i]) {
				return false
			}
		}
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%s=%d", v.Tag, v.i)
	case KindUint:
		return fmt.Sprintf("%s=%du", v.Tag, v.u)
	case KindBool:
		return fmt.Sprintf("%s=%t", v.Tag, v.u == 1)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%s=%g", v.Tag, v.f)
	case KindString:
		return fmt.Sprintf("%s=%q", v.Tag, v.s)
	case KindBytes:
		return fmt.Sprintf("%s=%x", v.Tag, v.b)
	case KindNull:
		return fmt.Sprintf("%s=null", v.Tag)
	}
	return fmt.Sprintf("%s=%s%v", v.Tag, v.kind, v.children)
}

// encodeFrame is one open container on the Encode work stack.
type encodeFrame struct {
	children []Value
	next     int
}

// Encode serialises v. Integers and length prefixes use the narrowest width.
func Encode(v Value) ([]byte, error) {
	w := NewWriter()
	if err := w.writeScalarOrOpen(v); err != nil {
		return nil, err
	}
	if !v.kind.IsContainer() {
		return w.Bytes()
	}

	stack := []encodeFrame{{children: v.children}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.children) {
			if err := w.EndContainer(); err != nil {
				return nil, err
			}
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.children[top.next]
		top.next++
		if err := w.writeScalarOrOpen(child); err != nil {
			return nil, err
		}
		if child.kind.IsContainer() {
			stack = append(stack, encodeFrame{children: child.children})
		}
	}
	return w.Bytes()
}

func (w *Writer) writeScalarOrOpen(v Value) error {
	switch v.kind {
	case KindInt:
		return w.PutInt(v.Tag, v.i)
	case KindUint:
		return w.PutUint(v.Tag, v.u)
	case KindBool:
		return w.PutBool(v.Tag, v.u == 1)
	case KindFloat32:
		return w.PutFloat32(v.Tag, float32(v.f))
	case KindFloat64:
		return w.PutFloat64(v.Tag, v.f)
	case KindString:
		return w.PutString(v.Tag, v.s)
	case KindBytes:
		return w.PutBytes(v.Tag, v.b)
	case KindNull:
		return w.PutNull(v.Tag)
	case KindStruct:
		return w.StartStructure(v.Tag)
	case KindArray:
		return w.StartArray(v.Tag)
	case KindList:
		return w.StartList(v.Tag)
	}
	return fmt.Errorf("tlv: cannot encode %s value", v.kind)
}

// Decode parses exactly one top-level element from data.
func Decode(data []byte) (Value, error) {
	r := NewReader(data)
	if err := r.Next(); err != nil {
		if err == io.EOF {
			return Value{}, ErrTruncatedInput
		}
		return Value{}, err
	}
	root, err := r.scalarOrShell()
	if err != nil {
		return Value{}, err
	}
	if root.kind.IsContainer() {
		if err := r.EnterContainer(); err != nil {
			return Value{}, err
		}
		// Open containers are kept on an explicit stack rather than the call stack.
		stack := []Value{root}
		for len(stack) > 0 {
			if err := r.Next(); err != nil {
				if err == io.EOF {
					return Value{}, ErrTruncatedInput
				}
				return Value{}, err
			}
			if r.IsEndOfContainer() {
				if err := r.ExitContainer(); err != nil {
					return Value{}, err
				}
				done := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					root = done
					break
				}
				parent := &stack[len(stack)-1]
				parent.children = append(parent.children, done)
				continue
			}
			child, err := r.scalarOrShell()
			if err != nil {
				return Value{}, err
			}
			if child.kind.IsContainer() {
				if err := r.EnterContainer(); err != nil {
					return Value{}, err
				}
				stack = append(stack, child)
				continue
			}
			parent := &stack[len(stack)-1]
			parent.children = append(parent.children, child)
		}
	}
	if r.Offset() != len(data) {
		return Value{}, ErrTrailingData
	}
	return root, nil
}

// scalarOrShell converts the reader's current element into a Value. For
// containers the returned value has no children yet.
func (r *Reader) scalarOrShell() (Value, error) {
	tag, et := r.Tag(), r.Type()
	switch {
	case et.IsSignedInt():
		i, err := r.Int()
		return Int(tag, i), err
	case et.IsUnsignedInt():
		u, err := r.Uint()
		return Uint(tag, u), err
	case et.IsBool():
		b, err := r.Bool()
		return Bool(tag, b), err
	case et == ElementTypeFloat32:
		f, err := r.Float()
		return Float32(tag, float32(f)), err
	case et == ElementTypeFloat64:
		f, err := r.Float()
		return Float64(tag, f), err
	case et.IsUTF8():
		s, err := r.String()
		return String(tag, s), err
	case et.IsBytes():
		b, err := r.Bytes()
		return Value{Tag: tag, kind: KindBytes, b: b}, err
	case et == ElementTypeNull:
		return Null(tag), nil
	case et == ElementTypeStruct:
		return Struct(tag), nil
	case et == ElementTypeArray:
		return Array(tag), nil
	case et == ElementTypeList:
		return List(tag), nil
	}
	return Value{}, mismatch("element", et)
}
