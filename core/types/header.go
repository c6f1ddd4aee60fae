package types

import (
	"sync/atomic"

	"golang.org/x/crypto/sha3"
)

// Header carries the consensus-relevant fields of a block. Height is the
// distance from genesis and is always exactly one greater than the
// parent's; Slot is the proposal slot used for equivocation accounting
// (several slots may map to the same height across competing branches,
// never along one chain).
type Header struct {
	ParentHash Hash
	Height     uint64
	Slot       uint64
	Time       uint64 // unix seconds
	Proposer   Address

	// State-transition commitments.
	StateRoot Hash
	TxRoot    Hash

	Extra []byte

	// Cache field (not part of the hashed encoding).
	hash atomic.Pointer[Hash]
}

// Hash returns the keccak256 hash of the RLP header encoding. The
// result is cached; headers must not be mutated after first use.
func (h *Header) Hash() Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	hash := computeHeaderHash(h)
	h.hash.Store(&hash)
	return hash
}

// CopyHeader creates a deep copy of a header, excluding the hash cache.
func CopyHeader(h *Header) *Header {
	cpy := Header{
		ParentHash: h.ParentHash,
		Height:     h.Height,
		Slot:       h.Slot,
		Time:       h.Time,
		Proposer:   h.Proposer,
		StateRoot:  h.StateRoot,
		TxRoot:     h.TxRoot,
	}
	if len(h.Extra) > 0 {
		cpy.Extra = make([]byte, len(h.Extra))
		copy(cpy.Extra, h.Extra)
	}
	return &cpy
}

// Keccak256 computes the legacy keccak256 hash of data.
func Keccak256(data []byte) Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	var h Hash
	d.Sum(h[:0])
	return h
}
