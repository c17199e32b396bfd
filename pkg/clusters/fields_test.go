package clusters

import (
	"errors"
	"testing"

	"github.com/backkem/matterctl/pkg/tlv"
)

func TestFields(t *testing.T) {
	v := tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), 300),
		tlv.Bytes(tlv.ContextTag(1), []byte{1, 2}),
		tlv.String(tlv.ContextTag(2), "hi"),
		tlv.Uint(tlv.ContextTag(3), 5),
		tlv.Null(tlv.ContextTag(4)),
	)

	f := NewFields(v)
	if n := f.Uint(0, 0xFFFF); n != 300 {
		t.Errorf("Uint(0) = %d", n)
	}
	if b := f.Bytes(1); len(b) != 2 {
		t.Errorf("Bytes(1) = %x", b)
	}
	if s := f.String(2); s != "hi" {
		t.Errorf("String(2) = %q", s)
	}
	if n := f.Int(3); n != 5 {
		t.Errorf("Int(3) on an unsigned element = %d", n)
	}
	if !f.IsNull(4) || f.IsNull(2) {
		t.Error("IsNull")
	}
	if _, ok := f.OptionalBytes(9); ok {
		t.Error("absent member reported present")
	}
	if err := f.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	tests := []struct {
		name string
		read func(*Fields)
		want error
	}{
		{"missing", func(f *Fields) { f.Bytes(9) }, ErrMissingField},
		{"over limit", func(f *Fields) { f.Uint(0, 0xFF) }, ErrInvalidFields},
		{"wrong kind", func(f *Fields) { f.Bytes(0) }, ErrInvalidFields},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFields(v)
			tt.read(f)
			f.String(2)
			if !errors.Is(f.Err(), tt.want) {
				t.Errorf("Err = %v, want %v", f.Err(), tt.want)
			}
		})
	}

	if err := NewFields(tlv.Array(tlv.Anonymous())).Err(); !errors.Is(err, ErrInvalidFields) {
		t.Errorf("array: %v", err)
	}
}
