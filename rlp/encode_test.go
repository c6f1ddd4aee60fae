package rlp

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeEmptyString(t *testing.T) {
	got, err := EncodeToBytes("")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("empty string: got %x, want %x", got, want)
	}
}

func TestEncodeShortString(t *testing.T) {
	got, err := EncodeToBytes("dog")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x83, 0x64, 0x6f, 0x67}
	if !bytes.Equal(got, want) {
		t.Fatalf("\"dog\": got %x, want %x", got, want)
	}
}

func TestEncodeLongString(t *testing.T) {
	s := "Lorem ipsum dolor sit amet, consectetur adipisicing elit"
	got, err := EncodeToBytes(s)
	if err != nil {
		t.Fatal(err)
	}
	// 56 bytes of payload needs a one-byte length field: [0xb8, 0x38, ...].
	if got[0] != 0xb8 || got[1] != 0x38 {
		t.Fatalf("long string prefix: got %x %x, want b8 38", got[0], got[1])
	}
	if !bytes.Equal(got[2:], []byte(s)) {
		t.Fatal("long string data mismatch")
	}
}

func TestEncodeUint(t *testing.T) {
	tests := []struct {
		name string
		val  interface{}
		want []byte
	}{
		{"zero", uint64(0), []byte{0x80}},
		{"small", uint64(15), []byte{0x0f}},
		{"edge 127", uint64(127), []byte{0x7f}},
		{"edge 128", uint64(128), []byte{0x81, 0x80}},
		{"two bytes", uint64(1024), []byte{0x82, 0x04, 0x00}},
		{"uint8", uint8(7), []byte{0x07}},
		{"uint32", uint32(0x10000), []byte{0x83, 0x01, 0x00, 0x00}},
		{"max", uint64(0xffffffffffffffff), []byte{0x88, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		got, err := EncodeToBytes(tt.val)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: got %x, want %x", tt.name, got, tt.want)
		}
	}
}

func TestEncodeByteArray(t *testing.T) {
	var arr [4]byte
	arr[0], arr[3] = 0xde, 0xad
	got, err := EncodeToBytes(arr)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x84, 0xde, 0x00, 0x00, 0xad}
	if !bytes.Equal(got, want) {
		t.Fatalf("byte array: got %x, want %x", got, want)
	}
}

func TestEncodeByteSlice(t *testing.T) {
	got, err := EncodeToBytes([]byte{0x01})
	if err != nil {
		t.Fatal(err)
	}
	// A single byte below 0x80 is its own encoding.
	if !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("single byte: got %x", got)
	}
}

func TestEncodeStringList(t *testing.T) {
	got, err := EncodeToBytes([]string{"cat", "dog"})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xc8, 0x83, 'c', 'a', 't', 0x83, 'd', 'o', 'g'}
	if !bytes.Equal(got, want) {
		t.Fatalf("[cat dog]: got %x, want %x", got, want)
	}
}

func TestEncodeEmptyList(t *testing.T) {
	got, err := EncodeToBytes([]string{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xc0}) {
		t.Fatalf("empty list: got %x, want c0", got)
	}
}

func TestEncodeStruct(t *testing.T) {
	type pair struct {
		A uint64
		B string
		c uint64 // unexported, skipped
	}
	got, err := EncodeToBytes(pair{A: 1, B: "x", c: 9})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xc2, 0x01, 'x'}
	if !bytes.Equal(got, want) {
		t.Fatalf("struct: got %x, want %x", got, want)
	}
}

func TestEncodeNilPointer(t *testing.T) {
	var p *uint64
	got, err := EncodeToBytes(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x80}) {
		t.Fatalf("nil pointer: got %x, want 80", got)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := EncodeToBytes(map[string]int{"a": 1})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("map: err = %v, want ErrUnsupportedType", err)
	}
	_, err = EncodeToBytes(-1)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("signed int: err = %v, want ErrUnsupportedType", err)
	}
}

func TestWrapList(t *testing.T) {
	if got := WrapList(nil); !bytes.Equal(got, []byte{0xc0}) {
		t.Fatalf("empty payload: got %x, want c0", got)
	}
	payload := bytes.Repeat([]byte{0x01}, 56)
	got := WrapList(payload)
	if got[0] != 0xf8 || got[1] != 0x38 {
		t.Fatalf("long list prefix: got %x %x, want f8 38", got[0], got[1])
	}
	if !bytes.Equal(got[2:], payload) {
		t.Fatal("long list payload mismatch")
	}
}

func TestEncodeWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, "dog"); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x83, 'd', 'o', 'g'}) {
		t.Fatalf("writer: got %x", buf.Bytes())
	}
}
