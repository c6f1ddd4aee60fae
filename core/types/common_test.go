package types

import (
	"testing"
)

func TestBytesToHashPadding(t *testing.T) {
	h := BytesToHash([]byte{0x01, 0x02})
	if h[HashLength-1] != 0x02 || h[HashLength-2] != 0x01 {
		t.Errorf("expected right-aligned bytes, got %s", h)
	}
	for i := 0; i < HashLength-2; i++ {
		if h[i] != 0 {
			t.Errorf("expected zero padding at index %d", i)
		}
	}
}

func TestHexToHashRoundTrip(t *testing.T) {
	tests := []string{
		"0x0000000000000000000000000000000000000000000000000000000000000001",
		"0xdeadbeef00000000000000000000000000000000000000000000000000000000",
		"56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
	}
	for _, tc := range tests {
		h := HexToHash(tc)
		if h.IsZero() {
			t.Errorf("HexToHash(%q) produced zero hash", tc)
		}
	}
}

func TestHashIsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero hash should report IsZero")
	}
	if HexToHash("0x01").IsZero() {
		t.Error("non-zero hash should not report IsZero")
	}
}

func TestHashLess(t *testing.T) {
	a := HexToHash("0x01")
	b := HexToHash("0x02")
	if !a.Less(b) {
		t.Error("expected a < b")
	}
	if b.Less(a) {
		t.Error("expected !(b < a)")
	}
	if a.Less(a) {
		t.Error("expected !(a < a)")
	}

	// First differing byte decides, not the last.
	c := BytesToHash(append([]byte{0x01}, make([]byte, 31)...))
	d := BytesToHash(append([]byte{0x02}, make([]byte, 31)...))
	if !c.Less(d) {
		t.Error("expected high-order byte comparison")
	}
}

func TestAddressSetBytesTruncation(t *testing.T) {
	long := make([]byte, AddressLength+5)
	for i := range long {
		long[i] = byte(i)
	}
	a := BytesToAddress(long)
	// The leftmost bytes are dropped, keeping the rightmost 20.
	if a[0] != long[5] {
		t.Errorf("expected truncation to keep rightmost bytes, got %s", a)
	}
}

func TestHashHexFormat(t *testing.T) {
	h := HexToHash("0xff")
	want := "0x" + "00000000000000000000000000000000000000000000000000000000000000ff"
	if h.Hex() != want {
		t.Errorf("Hex() = %s, want %s", h.Hex(), want)
	}
	if h.String() != h.Hex() {
		t.Error("String() should match Hex()")
	}
}
