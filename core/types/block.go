package types

import (
	"sync/atomic"

	"github.com/canonchain/canonchain/rlp"
)

// Transaction is an opaque state-transition payload. The engine never
// interprets transaction contents; it only commits to them via the
// header's TxRoot.
type Transaction struct {
	payload []byte

	hash atomic.Pointer[Hash]
}

// NewTransaction creates a transaction from a raw payload copy.
func NewTransaction(payload []byte) *Transaction {
	tx := &Transaction{payload: make([]byte, len(payload))}
	copy(tx.payload, payload)
	return tx
}

// Payload returns the raw transaction bytes.
func (tx *Transaction) Payload() []byte { return tx.payload }

// Size returns the payload length in bytes.
func (tx *Transaction) Size() int { return len(tx.payload) }

// Hash returns the keccak256 hash of the RLP payload encoding, cached.
func (tx *Transaction) Hash() Hash {
	if cached := tx.hash.Load(); cached != nil {
		return *cached
	}
	enc, err := rlp.EncodeToBytes(tx.payload)
	if err != nil {
		return Hash{}
	}
	h := Keccak256(enc)
	tx.hash.Store(&h)
	return h
}

// DeriveTxRoot computes the commitment a header's TxRoot must carry for
// the given transaction list: the keccak256 of the RLP list of
// transaction hashes, or the zero hash for an empty list.
func DeriveTxRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return Hash{}
	}
	hashes := make([]Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	enc, err := rlp.EncodeToBytes(hashes)
	if err != nil {
		return Hash{}
	}
	return Keccak256(enc)
}

// Block is a header, its ordered transaction list, and the proposer's
// BLS signature over the header hash. Blocks are immutable once
// constructed; the engine holds only hashes and header copies.
type Block struct {
	header       *Header
	transactions []*Transaction
	signature    Signature

	hash atomic.Pointer[Hash]
}

// NewBlock creates a block from a header and transaction list. The
// header is deep-copied; the transaction slice is copied shallowly
// (transactions are themselves immutable).
func NewBlock(header *Header, txs []*Transaction) *Block {
	b := &Block{header: CopyHeader(header)}
	if len(txs) > 0 {
		b.transactions = make([]*Transaction, len(txs))
		copy(b.transactions, txs)
	}
	return b
}

// WithSignature returns a copy of the block carrying the given proposer
// signature.
func (b *Block) WithSignature(sig Signature) *Block {
	cpy := &Block{
		header:       b.header,
		transactions: b.transactions,
		signature:    sig,
	}
	return cpy
}

// Header returns a copy of the block header.
func (b *Block) Header() *Header { return CopyHeader(b.header) }

// Transactions returns the block's ordered transaction list.
func (b *Block) Transactions() []*Transaction { return b.transactions }

// Signature returns the proposer's signature over the header hash.
func (b *Block) Signature() Signature { return b.signature }

// Hash returns the block's content identifier (the header hash), cached.
func (b *Block) Hash() Hash {
	if cached := b.hash.Load(); cached != nil {
		return *cached
	}
	h := b.header.Hash()
	b.hash.Store(&h)
	return h
}

// ParentHash returns the parent block hash.
func (b *Block) ParentHash() Hash { return b.header.ParentHash }

// Height returns the block height (distance from genesis).
func (b *Block) Height() uint64 { return b.header.Height }

// Slot returns the proposal slot.
func (b *Block) Slot() uint64 { return b.header.Slot }

// Time returns the block timestamp (unix seconds).
func (b *Block) Time() uint64 { return b.header.Time }

// Proposer returns the proposing validator's address.
func (b *Block) Proposer() Address { return b.header.Proposer }

// StateRoot returns the post-state commitment.
func (b *Block) StateRoot() Hash { return b.header.StateRoot }

// TxRoot returns the transaction list commitment.
func (b *Block) TxRoot() Hash { return b.header.TxRoot }
