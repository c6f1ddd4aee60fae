package core

import (
	"errors"
	"testing"

	"github.com/canonchain/canonchain/core/types"
)

func newTestValidator(t *testing.T) (*BlockValidator, *MemoryIndex, *types.Block) {
	t.Helper()
	idx := NewMemoryIndex()
	genesis := makeBlock(types.Hash{}, 0, 1)
	if err := idx.Put(genesis); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	return NewBlockValidator(idx), idx, genesis
}

func TestValidateBlock_Accepts(t *testing.T) {
	v, idx, genesis := newTestValidator(t)

	b1 := makeBlock(genesis.Hash(), 1, 1)
	if err := v.ValidateBlock(b1); err != nil {
		t.Fatalf("valid extension: %v", err)
	}
	idx.Put(b1)

	// A block carrying transactions with the matching root.
	txs := []*types.Transaction{types.NewTransaction([]byte("a")), types.NewTransaction([]byte("b"))}
	header := b1.Header()
	header.ParentHash = b1.Hash()
	header.Height = 2
	header.Time = b1.Time() // equal timestamps are allowed
	header.TxRoot = types.DeriveTxRoot(txs)
	if err := v.ValidateBlock(types.NewBlock(header, txs)); err != nil {
		t.Fatalf("block with transactions: %v", err)
	}
}

func TestValidateBlock_Genesis(t *testing.T) {
	v := NewBlockValidator(NewMemoryIndex())

	if err := v.ValidateBlock(makeBlock(types.Hash{}, 0, 1)); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	// A parentless block above height zero is not a genesis.
	if err := v.ValidateBlock(makeBlock(types.Hash{}, 3, 1)); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("parentless non-genesis: want ErrInvalidBlock, got %v", err)
	}
}

func TestValidateBlock_Rejects(t *testing.T) {
	v, _, genesis := newTestValidator(t)

	if err := v.ValidateBlock(nil); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("nil block: want ErrInvalidBlock, got %v", err)
	}

	if err := v.ValidateBlock(makeBlock(types.HexToHash("0xdead"), 1, 1)); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("unknown parent: want ErrUnknownParent, got %v", err)
	}

	wrongHeight := makeBlock(genesis.Hash(), 5, 1)
	if err := v.ValidateBlock(wrongHeight); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("height gap: want ErrInvalidBlock, got %v", err)
	}

	header := genesis.Header()
	header.ParentHash = genesis.Hash()
	header.Height = 1
	header.Time = genesis.Time() - 1
	if err := v.ValidateBlock(types.NewBlock(header, nil)); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("time regression: want ErrInvalidBlock, got %v", err)
	}
}

func TestValidateBlock_TxRootMismatch(t *testing.T) {
	v, _, genesis := newTestValidator(t)

	txs := []*types.Transaction{types.NewTransaction([]byte("payload"))}
	header := genesis.Header()
	header.ParentHash = genesis.Hash()
	header.Height = 1
	header.Time = genesis.Time() + 12
	header.TxRoot = types.Hash{} // does not cover the body
	if err := v.ValidateBlock(types.NewBlock(header, txs)); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("tx root mismatch: want ErrInvalidBlock, got %v", err)
	}
}
