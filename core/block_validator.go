package core

import (
	"errors"
	"fmt"

	"github.com/canonchain/canonchain/core/types"
)

// ErrInvalidBlock covers structural violations caught before a block
// reaches the detector or fork choice: bad height, bad timestamp, or a
// transaction root that does not match the body. Wrapped with the
// concrete cause.
var ErrInvalidBlock = errors.New("invalid block")

// BlockValidator runs structural pre-checks against the block index.
// It does not execute transactions or verify signatures; the attack
// detector and state applier own those.
type BlockValidator struct {
	reader BlockReader
}

// NewBlockValidator creates a validator reading parents from the given
// index.
func NewBlockValidator(reader BlockReader) *BlockValidator {
	return &BlockValidator{reader: reader}
}

// ValidateBlock checks a block's structure against its indexed parent.
// Genesis blocks (zero parent hash) skip the parent checks; everything
// else requires the parent to be indexed first, a height exactly one
// above it, and a timestamp that does not move backwards. The header's
// transaction root must commit to the block's transaction list.
func (v *BlockValidator) ValidateBlock(b *types.Block) error {
	if b == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}

	if want := types.DeriveTxRoot(b.Transactions()); b.TxRoot() != want {
		return fmt.Errorf("%w: tx root %s does not match body root %s",
			ErrInvalidBlock, b.TxRoot().Hex(), want.Hex())
	}

	if b.ParentHash().IsZero() {
		if b.Height() != 0 {
			return fmt.Errorf("%w: genesis block at height %d", ErrInvalidBlock, b.Height())
		}
		return nil
	}

	parent, ok := v.reader.HeaderByHash(b.ParentHash())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParent, b.ParentHash().Hex())
	}
	if b.Height() != parent.Height+1 {
		return fmt.Errorf("%w: height %d, parent at %d", ErrInvalidBlock, b.Height(), parent.Height)
	}
	if b.Time() < parent.Time {
		return fmt.Errorf("%w: timestamp %d before parent %d", ErrInvalidBlock, b.Time(), parent.Time)
	}
	return nil
}
