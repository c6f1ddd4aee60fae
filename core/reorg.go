package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/canonchain/canonchain/core/types"
	"github.com/canonchain/canonchain/metrics"
)

// Reorg errors. ErrReorgTooDeep aborts a single decision with no side
// effects; the fatal pair below mean chain state can no longer be trusted.
var (
	ErrReorgTooDeep        = errors.New("reorg: exceeds max depth")
	ErrInvalidChainSegment = errors.New("reorg: segment does not reach ancestor")
	ErrStateCorrupted      = errors.New("reorg: state corrupted")
)

// reorgState names the phases of one conflict-resolution decision.
type reorgState uint8

const (
	reorgStable reorgState = iota
	reorgAncestorComputed
	reorgSegmentsExtracted
	reorgFinalityChecked
	reorgReverting
	reorgApplying
	reorgAborted
)

// String returns the phase name.
func (s reorgState) String() string {
	switch s {
	case reorgStable:
		return "stable"
	case reorgAncestorComputed:
		return "ancestor_computed"
	case reorgSegmentsExtracted:
		return "segments_extracted"
	case reorgFinalityChecked:
		return "finality_checked"
	case reorgReverting:
		return "reverting"
	case reorgApplying:
		return "applying"
	case reorgAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StateApplier executes and unwinds block state transitions. The engine
// calls ApplyBlock for every block joining the canonical chain and
// RevertBlock for every block leaving it.
type StateApplier interface {
	ApplyBlock(b *types.Block) error
	RevertBlock(b *types.Block) error
}

// NoopApplier is a StateApplier that tracks nothing. The simulator and
// tests that only care about head selection use it.
type NoopApplier struct{}

// ApplyBlock implements StateApplier.
func (NoopApplier) ApplyBlock(*types.Block) error { return nil }

// RevertBlock implements StateApplier.
func (NoopApplier) RevertBlock(*types.Block) error { return nil }

// ReorgResult describes one completed head transition.
type ReorgResult struct {
	OldHead        types.Hash
	NewHead        types.Hash
	CommonAncestor types.Hash

	// Reverted lists the blocks that left the canonical chain, newest
	// first (the order they were unwound). Empty for pure extensions.
	Reverted []types.Hash

	// Applied lists the blocks that joined the canonical chain, oldest
	// first (the order they were applied).
	Applied []types.Hash

	// Depth is the number of reverted blocks.
	Depth int

	Duration time.Duration
}

// ReorgConfig tunes the conflict resolver.
type ReorgConfig struct {
	// MaxDepth aborts reorganizations that would revert more than this
	// many blocks. Zero disables the limit; fork choice alone decides.
	MaxDepth int
}

// DefaultReorgConfig returns the default tuning: unlimited depth.
func DefaultReorgConfig() ReorgConfig {
	return ReorgConfig{MaxDepth: 0}
}

// ReorgExecutor runs the conflict-resolution state machine: compute the
// common ancestor of the old and new head, extract the diverging segments,
// check finality safety, then unwind and replay state. An executor handles
// one decision at a time; the engine serializes calls.
type ReorgExecutor struct {
	config   ReorgConfig
	reader   BlockReader
	resolver *AncestorResolver
	finality FinalityOracle
	applier  StateApplier

	mu    sync.Mutex
	state reorgState
}

// NewReorgExecutor wires a reorg executor.
func NewReorgExecutor(cfg ReorgConfig, reader BlockReader, resolver *AncestorResolver, finality FinalityOracle, applier StateApplier) *ReorgExecutor {
	return &ReorgExecutor{
		config:   cfg,
		reader:   reader,
		resolver: resolver,
		finality: finality,
		applier:  applier,
	}
}

// State returns the executor's current phase.
func (rx *ReorgExecutor) State() string {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.state.String()
}

func (rx *ReorgExecutor) setState(s reorgState) {
	rx.mu.Lock()
	rx.state = s
	rx.mu.Unlock()
}

// Execute transitions the canonical chain from oldHead to newHead.
//
// Errors before the Reverting phase abort with no side effects: the
// caller's head remains valid and no state was touched. ErrFinalizedReorg
// and ErrReorgTooDeep are expected-class aborts. Applier failures during
// Reverting or Applying are wrapped in ErrStateCorrupted: state is
// partially unwound and the engine must halt.
func (rx *ReorgExecutor) Execute(oldHead, newHead types.Hash) (*ReorgResult, error) {
	start := time.Now()

	ancestor, err := rx.resolver.CommonAncestor(oldHead, newHead)
	if err != nil {
		rx.setState(reorgAborted)
		metrics.ReorgsAborted.Inc()
		return nil, err
	}
	rx.setState(reorgAncestorComputed)

	// Both segments exclude the ancestor itself and run newest-first.
	reverted, err := rx.segment(oldHead, ancestor)
	if err != nil {
		rx.setState(reorgAborted)
		metrics.ReorgsAborted.Inc()
		return nil, err
	}
	applied, err := rx.segment(newHead, ancestor)
	if err != nil {
		rx.setState(reorgAborted)
		metrics.ReorgsAborted.Inc()
		return nil, err
	}
	rx.setState(reorgSegmentsExtracted)

	if rx.config.MaxDepth > 0 && len(reverted) > rx.config.MaxDepth {
		rx.setState(reorgAborted)
		metrics.ReorgsAborted.Inc()
		return nil, fmt.Errorf("%w: %d blocks, limit %d", ErrReorgTooDeep, len(reverted), rx.config.MaxDepth)
	}

	for _, hash := range reverted {
		if rx.finality.IsFinalized(hash) {
			rx.setState(reorgAborted)
			metrics.ReorgsAborted.Inc()
			return nil, fmt.Errorf("%w: %s", ErrFinalizedReorg, hash.Hex())
		}
	}
	rx.setState(reorgFinalityChecked)

	// Unwind the old branch newest to oldest.
	rx.setState(reorgReverting)
	for _, hash := range reverted {
		b, ok := rx.reader.BlockByHash(hash)
		if !ok {
			return nil, fmt.Errorf("%w: reverted block %s missing from index", ErrStateCorrupted, hash.Hex())
		}
		if err := rx.applier.RevertBlock(b); err != nil {
			return nil, fmt.Errorf("%w: revert %s: %v", ErrStateCorrupted, hash.Hex(), err)
		}
	}

	// Replay the new branch oldest to newest.
	rx.setState(reorgApplying)
	appliedOrder := make([]types.Hash, 0, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		hash := applied[i]
		b, ok := rx.reader.BlockByHash(hash)
		if !ok {
			return nil, fmt.Errorf("%w: applied block %s missing from index", ErrStateCorrupted, hash.Hex())
		}
		if err := rx.applier.ApplyBlock(b); err != nil {
			return nil, fmt.Errorf("%w: apply %s: %v", ErrStateCorrupted, hash.Hex(), err)
		}
		appliedOrder = append(appliedOrder, hash)
	}
	rx.setState(reorgStable)

	result := &ReorgResult{
		OldHead:        oldHead,
		NewHead:        newHead,
		CommonAncestor: ancestor,
		Reverted:       reverted,
		Applied:        appliedOrder,
		Depth:          len(reverted),
		Duration:       time.Since(start),
	}
	metrics.ReorgsExecuted.Inc()
	metrics.ReorgDepth.Observe(float64(result.Depth))
	metrics.ReorgTime.Observe(float64(result.Duration.Milliseconds()))
	return result, nil
}

// segment walks parent pointers from head down to the ancestor and returns
// the blocks strictly between them plus head, newest first. Walking past
// height zero without meeting the ancestor means the tree is inconsistent
// with the resolver's answer.
func (rx *ReorgExecutor) segment(head, ancestor types.Hash) ([]types.Hash, error) {
	var seg []types.Hash
	current := head
	for current != ancestor {
		header, ok := rx.reader.HeaderByHash(current)
		if !ok {
			return nil, fmt.Errorf("%w: missing header %s", ErrInvalidChainSegment, current.Hex())
		}
		seg = append(seg, current)
		if header.Height == 0 {
			return nil, fmt.Errorf("%w: reached genesis before %s", ErrInvalidChainSegment, ancestor.Hex())
		}
		current = header.ParentHash
	}
	return seg, nil
}
