package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/canonchain/canonchain/core/types"
)

// Finality errors.
var (
	ErrFinalizedReorg     = errors.New("finality: reorg would revert finalized block")
	ErrFinalityRegression = errors.New("finality: checkpoint height regression")
	ErrFinalizeZeroHash   = errors.New("finality: zero block hash")
)

// FinalityOracle answers whether a block is beyond reorganization. The
// external finality-voting subsystem feeds the concrete implementation;
// the engine only consults and notifies it.
type FinalityOracle interface {
	IsFinalized(hash types.Hash) bool
	LatestFinalizedHeight() uint64
	HandleReorg(reverted, applied []types.Hash) error
}

// CheckpointFinality is a checkpoint-fed FinalityOracle. Finalize records
// irreversible (hash, height) checkpoints; the set only grows and the
// latest height never regresses. Thread-safe.
type CheckpointFinality struct {
	mu         sync.RWMutex
	finalized  map[types.Hash]uint64
	latest     uint64
	latestHash types.Hash
	notified   int
}

// NewCheckpointFinality returns an oracle with nothing finalized.
func NewCheckpointFinality() *CheckpointFinality {
	return &CheckpointFinality{finalized: make(map[types.Hash]uint64)}
}

// Finalize records a finalized checkpoint. Heights must not regress; the
// external voting subsystem finalizes in order.
func (cf *CheckpointFinality) Finalize(hash types.Hash, height uint64) error {
	if hash.IsZero() {
		return ErrFinalizeZeroHash
	}

	cf.mu.Lock()
	defer cf.mu.Unlock()

	if height < cf.latest {
		return fmt.Errorf("%w: %d below %d", ErrFinalityRegression, height, cf.latest)
	}
	cf.finalized[hash] = height
	cf.latest = height
	cf.latestHash = hash
	return nil
}

// IsFinalized returns whether the block hash has been finalized.
func (cf *CheckpointFinality) IsFinalized(hash types.Hash) bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	_, ok := cf.finalized[hash]
	return ok
}

// LatestFinalizedHeight returns the height of the newest checkpoint, or
// zero when nothing is finalized.
func (cf *CheckpointFinality) LatestFinalizedHeight() uint64 {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.latest
}

// LatestFinalized returns the newest checkpoint.
func (cf *CheckpointFinality) LatestFinalized() (types.Hash, uint64) {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.latestHash, cf.latest
}

// HandleReorg is the engine's post-reorg notification. The reorg executor
// aborts before reverting finalized blocks, so finding one here means the
// safety check was bypassed; the error makes the engine halt.
func (cf *CheckpointFinality) HandleReorg(reverted, applied []types.Hash) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	cf.notified++
	for _, hash := range reverted {
		if _, ok := cf.finalized[hash]; ok {
			return fmt.Errorf("%w: %s", ErrFinalizedReorg, hash.Hex())
		}
	}
	return nil
}

// FinalizedCount returns the number of finalized blocks.
func (cf *CheckpointFinality) FinalizedCount() int {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return len(cf.finalized)
}

// ReorgsNotified returns how many reorg notifications have been received.
func (cf *CheckpointFinality) ReorgsNotified() int {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.notified
}
