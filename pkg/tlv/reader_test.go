package tlv

import (
	"errors"
	"io"
	"testing"
)

func TestReader_ExitSkipsUnreadMembers(t *testing.T) {
	data, err := Encode(Struct(Anonymous(),
		Uint(ContextTag(1), 7),
		Struct(ContextTag(2), Array(ContextTag(0), Uint(Anonymous(), 1), Uint(Anonymous(), 2))),
		String(ContextTag(3), "tail"),
	))
	if err != nil {
		t.Fatal(err)
	}

	r := NewReader(data)
	if err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if err := r.EnterContainer(); err != nil {
		t.Fatal(err)
	}
	if err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if v, err := r.Uint(); err != nil || v != 7 {
		t.Fatalf("first member = %d, %v", v, err)
	}
	if err := r.ExitContainer(); err != nil {
		t.Fatalf("ExitContainer: %v", err)
	}
	if r.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", r.Depth())
	}
	if err := r.Next(); err != io.EOF {
		t.Errorf("Next after top-level element = %v, want io.EOF", err)
	}
}

func TestReader_TypeMismatch(t *testing.T) {
	r := NewReader([]byte{0x00, 0x05})
	if err := r.Next(); err != nil {
		t.Fatal(err)
	}
	_, err := r.Uint()
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("Uint on Int8: got %v, want *MalformedError", err)
	}
	if me.Expected != "unsigned integer" || me.Actual != ElementTypeInt8 {
		t.Errorf("MalformedError = %+v", me)
	}
	if v, err := r.Int(); err != nil || v != 5 {
		t.Errorf("Int = %d, %v", v, err)
	}
}

func TestReader_GetterBeforeNext(t *testing.T) {
	r := NewReader([]byte{0x04, 0x01})
	if _, err := r.Uint(); !errors.Is(err, ErrNoElement) {
		t.Errorf("got %v, want ErrNoElement", err)
	}
	if err := r.ExitContainer(); !errors.Is(err, ErrNotInContainer) {
		t.Errorf("got %v, want ErrNotInContainer", err)
	}
}
