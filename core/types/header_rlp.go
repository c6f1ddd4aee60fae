package types

import (
	"github.com/canonchain/canonchain/rlp"
)

// EncodeRLP returns the canonical RLP encoding of the header, the byte
// form the block hash commits to:
//
//	[ParentHash, Height, Slot, Time, Proposer, StateRoot, TxRoot, Extra]
//
// Fields are encoded manually to fix the order independent of struct
// layout changes.
func (h *Header) EncodeRLP() ([]byte, error) {
	items := []interface{}{
		h.ParentHash,
		h.Height,
		h.Slot,
		h.Time,
		h.Proposer,
		h.StateRoot,
		h.TxRoot,
		h.Extra,
	}
	return encodeRLPList(items)
}

// encodeRLPList encodes each item and wraps the concatenated payload in
// a list header.
func encodeRLPList(items []interface{}) ([]byte, error) {
	var payload []byte
	for _, item := range items {
		enc, err := rlp.EncodeToBytes(item)
		if err != nil {
			return nil, err
		}
		payload = append(payload, enc...)
	}
	return rlp.WrapList(payload), nil
}

func computeHeaderHash(h *Header) Hash {
	enc, err := h.EncodeRLP()
	if err != nil {
		return Hash{}
	}
	return Keccak256(enc)
}
