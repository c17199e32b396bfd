package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestValue_RoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		value Value
	}{
		{"uint", Uint(Anonymous(), 42)},
		{"uint64 max", Uint(Anonymous(), ^uint64(0))},
		{"negative int", Int(ContextTag(4), -40000000000)},
		{"bool", Bool(Anonymous(), true)},
		{"float32", Float32(Anonymous(), 1.5)},
		{"float64", Float64(Anonymous(), -0.25)},
		{"string", String(ImplicitProfileTag(70000), "matter")},
		{"empty bytes", Bytes(Anonymous(), nil)},
		{"long bytes", Bytes(Anonymous(), bytes.Repeat([]byte{0xAB}, 300))},
		{"null", Null(Anonymous())},
		{"empty struct", Struct(Anonymous())},
		{"pbkdf request", Struct(Anonymous(),
			Bytes(ContextTag(1), bytes.Repeat([]byte{7}, 32)),
			Uint(ContextTag(2), 0x1234),
			Uint(ContextTag(3), 0),
			Bool(ContextTag(4), false),
		)},
		{"nested", Struct(Anonymous(),
			Array(ContextTag(0),
				Struct(Anonymous(), Uint(ContextTag(0), 1), String(ContextTag(1), "a")),
				Struct(Anonymous()),
			),
			List(ContextTag(1), Uint(Anonymous(), 5), Int(ContextTag(2), -3)),
			Struct(ContextTag(2), List(ContextTag(0), Null(Anonymous()))),
		)},
		{"fully qualified", List(FullyQualifiedTag(0xFFF1, 0xDEED, 0x11223344), Uint(CommonProfileTag(9), 9))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.value)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v (bytes %x)", err, data)
			}
			if !Equal(got, tc.value) {
				t.Errorf("round trip mismatch:\n got  %v\n want %v", got, tc.value)
			}
			again, err := Encode(got)
			if err != nil {
				t.Fatalf("re-Encode failed: %v", err)
			}
			if !bytes.Equal(again, data) {
				t.Errorf("re-encoding differs: %x vs %x", again, data)
			}
		})
	}
}

func TestValue_Field(t *testing.T) {
	v := Struct(Anonymous(), Uint(ContextTag(1), 1000), Bytes(ContextTag(2), []byte{1, 2}))

	f, ok := v.Field(1)
	if !ok {
		t.Fatal("field 1 missing")
	}
	if n, err := f.AsUint(); err != nil || n != 1000 {
		t.Errorf("field 1 = %d, %v", n, err)
	}
	if _, ok := v.Field(3); ok {
		t.Error("field 3 should be absent")
	}

	b, _ := v.Field(2)
	if _, err := b.AsUint(); !errors.Is(err, ErrMalformedTLV) {
		t.Errorf("AsUint on bytes: got %v, want ErrMalformedTLV", err)
	}
	var me *MalformedError
	if _, err := b.AsString(); !errors.As(err, &me) {
		t.Fatalf("expected *MalformedError, got %v", err)
	}
	if me.Expected != "string" || me.Actual != ElementTypeBytes1 {
		t.Errorf("MalformedError = %+v", me)
	}
}

func TestDecode_HostileInput(t *testing.T) {
	deep := bytes.Repeat([]byte{0x17}, MaxNestingDepth+1)
	deep = append(deep, bytes.Repeat([]byte{0x18}, MaxNestingDepth+1)...)

	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncatedInput},
		{"missing uint16 byte", []byte{0x05, 0x01}, ErrTruncatedInput},
		{"string longer than buffer", []byte{0x0C, 0x05, 'a', 'b'}, ErrTruncatedInput},
		{"huge 8 byte length", []byte{0x13, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F, 0x00}, ErrTruncatedInput},
		{"truncated context tag", []byte{0x24}, ErrTruncatedInput},
		{"unterminated struct", []byte{0x15, 0x24, 0x01, 0x02}, ErrTruncatedInput},
		{"stray end", []byte{0x18}, ErrMalformedTLV},
		{"reserved type", []byte{0x1F}, ErrMalformedTLV},
		{"anonymous in struct", []byte{0x15, 0x04, 0x01, 0x18}, ErrInvalidTag},
		{"tagged in array", []byte{0x16, 0x24, 0x01, 0x02, 0x18}, ErrInvalidTag},
		{"too deep", deep, ErrNestingTooDeep},
		{"trailing data", []byte{0x04, 0x01, 0x04}, ErrTrailingData},
		{"invalid utf8", []byte{0x0C, 0x02, 0xC3, 0x28}, ErrMalformedTLV},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			if !errors.Is(err, tc.want) {
				t.Errorf("Decode(%x) error = %v, want %v", tc.data, err, tc.want)
			}
		})
	}
}

func TestDecode_AllPrefixesOfValidInput(t *testing.T) {
	data, err := Encode(Struct(Anonymous(),
		String(ContextTag(1), "operational"),
		Array(ContextTag(2), Uint(Anonymous(), 70000), Bytes(Anonymous(), []byte{9, 9, 9})),
	))
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < len(data); n++ {
		if _, err := Decode(data[:n]); err == nil {
			t.Errorf("Decode of %d-byte prefix succeeded", n)
		}
	}
}
