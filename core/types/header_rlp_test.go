package types

import (
	"bytes"
	"testing"
)

func TestHeaderEncodeRLP(t *testing.T) {
	h := &Header{
		ParentHash: HexToHash("0x01"),
		Height:     7,
		Slot:       9,
		Time:       1700000000,
		Proposer:   HexToAddress("0xaa"),
		Extra:      []byte{0x01, 0x02},
	}
	enc, err := h.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) == 0 || enc[0] < 0xc0 {
		t.Fatalf("encoding is not an RLP list: prefix %x", enc[0])
	}

	again, err := h.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, again) {
		t.Fatal("encoding is not deterministic")
	}

	h2 := CopyHeader(h)
	h2.Slot = 10
	enc2, err := h2.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(enc, enc2) {
		t.Fatal("slot change did not alter the encoding")
	}
}

func TestGenesisHeaderHashNonZero(t *testing.T) {
	var h Header
	if h.Hash().IsZero() {
		t.Fatal("zero-value header must still hash to a nonzero commitment")
	}
}
