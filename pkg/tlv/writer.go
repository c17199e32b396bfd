package tlv

import (
	"encoding/binary"
	"math"
)

// Writer appends TLV elements to an in-memory buffer.
//
// Open containers are tracked on a stack so that misplaced tags and
// unbalanced EndContainer calls are reported instead of producing bytes a
// peer would reject.
type Writer struct {
	buf   []byte
	stack []ElementType
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded output. Containers must all be closed.
func (w *Writer) Bytes() ([]byte, error) {
	if len(w.stack) != 0 {
		return nil, ErrUnclosedContainer
	}
	return w.buf, nil
}

// Depth returns the number of currently open containers.
func (w *Writer) Depth() int {
	return len(w.stack)
}

// Reset discards all output.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.stack = w.stack[:0]
}

func (w *Writer) header(tag Tag, et ElementType) error {
	if n := len(w.stack); n > 0 {
		switch w.stack[n-1] {
		case ElementTypeArray:
			if !tag.IsAnonymous() {
				return ErrInvalidTag
			}
		case ElementTypeStruct:
			if tag.IsAnonymous() {
				return ErrInvalidTag
			}
		}
	}
	w.buf = append(w.buf, controlOctet(tag.Control, et))
	w.buf = tag.appendTo(w.buf)
	return nil
}

// PutUint writes v as an unsigned integer in the narrowest width that holds it.
func (w *Writer) PutUint(tag Tag, v uint64) error {
	switch {
	case v <= math.MaxUint8:
		if err := w.header(tag, ElementTypeUInt8); err != nil {
			return err
		}
		w.buf = append(w.buf, byte(v))
	case v <= math.MaxUint16:
		if err := w.header(tag, ElementTypeUInt16); err != nil {
			return err
		}
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
	case v <= math.MaxUint32:
		if err := w.header(tag, ElementTypeUInt32); err != nil {
			return err
		}
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	default:
		if err := w.header(tag, ElementTypeUInt64); err != nil {
			return err
		}
		w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	}
	return nil
}

// PutInt writes v as a signed integer in the narrowest width that holds it.
func (w *Writer) PutInt(tag Tag, v int64) error {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		if err := w.header(tag, ElementTypeInt8); err != nil {
			return err
		}
		w.buf = append(w.buf, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		if err := w.header(tag, ElementTypeInt16); err != nil {
			return err
		}
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(int16(v)))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		if err := w.header(tag, ElementTypeInt32); err != nil {
			return err
		}
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(int32(v)))
	default:
		if err := w.header(tag, ElementTypeInt64); err != nil {
			return err
		}
		w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
	}
	return nil
}

// PutBool writes a boolean; the value lives in the element type.
func (w *Writer) PutBool(tag Tag, v bool) error {
	if v {
		return w.header(tag, ElementTypeTrue)
	}
	return w.header(tag, ElementTypeFalse)
}

// PutFloat32 writes a single-precision float.
func (w *Writer) PutFloat32(tag Tag, v float32) error {
	if err := w.header(tag, ElementTypeFloat32); err != nil {
		return err
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	return nil
}

// PutFloat64 writes a double-precision float.
func (w *Writer) PutFloat64(tag Tag, v float64) error {
	if err := w.header(tag, ElementTypeFloat64); err != nil {
		return err
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
	return nil
}

// PutString writes a UTF-8 string with the narrowest length prefix.
func (w *Writer) PutString(tag Tag, s string) error {
	return w.putLengthPrefixed(tag, ElementTypeUTF8_1, []byte(s))
}

// PutBytes writes an octet string with the narrowest length prefix.
func (w *Writer) PutBytes(tag Tag, b []byte) error {
	return w.putLengthPrefixed(tag, ElementTypeBytes1, b)
}

func (w *Writer) putLengthPrefixed(tag Tag, base ElementType, data []byte) error {
	n := uint64(len(data))
	var et ElementType
	switch {
	case n <= math.MaxUint8:
		et = base
	case n <= math.MaxUint16:
		et = base + 1
	case n <= math.MaxUint32:
		et = base + 2
	default:
		et = base + 3
	}
	if err := w.header(tag, et); err != nil {
		return err
	}
	switch et - base {
	case 0:
		w.buf = append(w.buf, byte(n))
	case 1:
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(n))
	case 2:
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(n))
	default:
		w.buf = binary.LittleEndian.AppendUint64(w.buf, n)
	}
	w.buf = append(w.buf, data...)
	return nil
}

// PutNull writes a null element.
func (w *Writer) PutNull(tag Tag) error {
	return w.header(tag, ElementTypeNull)
}

// StartStructure opens a structure; members must carry non-anonymous tags.
func (w *Writer) StartStructure(tag Tag) error {
	return w.start(tag, ElementTypeStruct)
}

// StartArray opens an array; members must be anonymous.
func (w *Writer) StartArray(tag Tag) error {
	return w.start(tag, ElementTypeArray)
}

// StartList opens a list; members may be tagged or anonymous.
func (w *Writer) StartList(tag Tag) error {
	return w.start(tag, ElementTypeList)
}

func (w *Writer) start(tag Tag, et ElementType) error {
	if len(w.stack) >= MaxNestingDepth {
		return ErrNestingTooDeep
	}
	if err := w.header(tag, et); err != nil {
		return err
	}
	w.stack = append(w.stack, et)
	return nil
}

// EndContainer closes the innermost open container.
func (w *Writer) EndContainer() error {
	if len(w.stack) == 0 {
		return ErrNotInContainer
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.buf = append(w.buf, byte(ElementTypeEnd))
	return nil
}
