package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/canonchain/canonchain/consensus"
	"github.com/canonchain/canonchain/core/types"
	"github.com/canonchain/canonchain/log"
	"github.com/canonchain/canonchain/metrics"
)

// Engine errors.
var (
	// ErrEngineHalted is returned by ProcessNewBlock after a fatal error
	// latched the engine. Read APIs keep serving the last good chain.
	ErrEngineHalted = errors.New("engine: halted")

	// ErrRejectedAncestor rejects blocks descending from a block the
	// detector rejected; such a branch must never supply a head.
	ErrRejectedAncestor = errors.New("engine: block descends from rejected block")
)

// HeadEvent is emitted on every canonical head change.
type HeadEvent struct {
	Hash   types.Hash
	Height uint64

	// Reorged is true when the transition reverted blocks, false for
	// plain extensions.
	Reorged bool
}

// EngineMetrics bundles the engine's chain-level metrics. All instruments
// live in the default registry so the Prometheus exporter picks them up.
type EngineMetrics struct {
	BlocksAccepted *metrics.Counter
	BlocksRejected *metrics.Counter
	HeadHeight     *metrics.Gauge
	Leaves         *metrics.Gauge
	ProcessTime    *metrics.Histogram
}

// NewEngineMetrics binds the engine metric set.
func NewEngineMetrics() *EngineMetrics {
	r := metrics.DefaultRegistry
	return &EngineMetrics{
		BlocksAccepted: r.Counter("chain.blocks_accepted"),
		BlocksRejected: r.Counter("chain.blocks_rejected"),
		HeadHeight:     r.Gauge("chain.head_height"),
		Leaves:         r.Gauge("chain.leaves"),
		ProcessTime:    r.Histogram("chain.block_process_ms"),
	}
}

// EngineConfig wires the engine's collaborators. Every field is optional;
// zero values get working in-memory defaults.
type EngineConfig struct {
	// Index stores blocks. Defaults to a fresh MemoryIndex.
	Index BlockIndex

	// Applier executes state transitions. Defaults to NoopApplier.
	Applier StateApplier

	// Finality is consulted before reverting blocks and notified after
	// reorgs. Defaults to a fresh CheckpointFinality.
	Finality FinalityOracle

	// ForkChoice selects the head. Defaults to the longest-chain policy.
	ForkChoice consensus.ForkChoice

	// Detector classifies proposer behavior before fork choice sees a
	// block. Defaults to a detector sharing the engine's finality oracle.
	Detector *consensus.AttackDetector

	// Reorg tunes the conflict resolver.
	Reorg ReorgConfig

	// Logger defaults to the process logger's "engine" module.
	Logger *log.Logger
}

// DefaultEngineConfig returns a config with default tuning; collaborators
// are filled in by NewEngine.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Reorg: DefaultReorgConfig()}
}

// Engine is the chain-selection engine: the sole entry point for new
// blocks and the owner of the canonical chain. One block is processed at
// a time; reads are lock-free on the head pointer and shared-locked on
// the canonical map, so they are never torn by an in-flight decision.
type Engine struct {
	mu sync.Mutex // serializes ProcessNewBlock

	index      BlockIndex
	applier    StateApplier
	finality   FinalityOracle
	forkchoice consensus.ForkChoice
	detector   *consensus.AttackDetector
	validator  *BlockValidator
	reorg      *ReorgExecutor
	logger     *log.Logger
	metrics    *EngineMetrics

	// head is the canonical head hash, readable without the engine lock.
	head atomic.Pointer[types.Hash]

	// canonical maps height to canonical hash between genesisHeight and
	// headHeight. Guarded by cmu so readers see whole transitions only.
	cmu           sync.RWMutex
	canonical     map[uint64]types.Hash
	headHeight    uint64
	genesisHeight uint64
	bootstrapped  bool

	// rejected taints detector-rejected blocks and their descendants.
	rejected map[types.Hash]struct{}

	halted    atomic.Bool
	haltCause error

	reorgFeed    event.Feed
	evidenceFeed event.Feed
	headFeed     event.Feed
	scope        event.SubscriptionScope
}

// NewEngine builds an engine from the config, substituting in-memory
// defaults for any collaborator left nil.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Index == nil {
		cfg.Index = NewMemoryIndex()
	}
	if cfg.Applier == nil {
		cfg.Applier = NoopApplier{}
	}
	if cfg.Finality == nil {
		cfg.Finality = NewCheckpointFinality()
	}
	if cfg.ForkChoice == nil {
		cfg.ForkChoice = consensus.NewLongestChainPolicy()
	}
	if cfg.Detector == nil {
		dcfg := consensus.DefaultDetectorConfig()
		dcfg.Finality = cfg.Finality
		cfg.Detector = consensus.NewAttackDetector(dcfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default().Module("engine")
	}

	resolver := NewAncestorResolver(cfg.Index)
	return &Engine{
		index:      cfg.Index,
		applier:    cfg.Applier,
		finality:   cfg.Finality,
		forkchoice: cfg.ForkChoice,
		detector:   cfg.Detector,
		validator:  NewBlockValidator(cfg.Index),
		reorg:      NewReorgExecutor(cfg.Reorg, cfg.Index, resolver, cfg.Finality, cfg.Applier),
		logger:     cfg.Logger,
		metrics:    NewEngineMetrics(),
		canonical:  make(map[uint64]types.Hash),
		rejected:   make(map[types.Hash]struct{}),
	}
}

// ProcessNewBlock runs the full ingestion pipeline on one block:
// structural validation, storage, attack inspection, fork choice, and
// conflict resolution. It returns a ReorgResult when the head changed
// (empty Reverted for plain extensions) and nil when it did not.
//
// Expected errors reject only the offending block. Fatal errors latch the
// engine: every later call returns ErrEngineHalted while the read APIs
// keep serving the last good chain.
func (e *Engine) ProcessNewBlock(b *types.Block) (*ReorgResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted.Load() {
		return nil, ErrEngineHalted
	}

	start := time.Now()
	timer := metrics.NewTimer(e.metrics.ProcessTime)
	defer timer.Stop()

	if err := e.validator.ValidateBlock(b); err != nil {
		e.metrics.BlocksRejected.Inc()
		return nil, err
	}
	hash := b.Hash()

	// Store first: rejected blocks stay indexed as evidence.
	if err := e.index.Put(b); err != nil {
		e.metrics.BlocksRejected.Inc()
		return nil, err
	}

	// The detector sees every stored block, including descendants of
	// rejected ones, so evidence is never lost to taint ordering.
	verdict := e.detector.Inspect(b)
	for _, ev := range verdict.Evidence {
		e.evidenceFeed.Send(ev)
	}
	if verdict.Disposition == consensus.Reject {
		e.rejected[hash] = struct{}{}
		e.metrics.BlocksRejected.Inc()
		e.logger.Warn("block rejected",
			"hash", hash.Hex(), "height", b.Height(),
			"proposer", b.Proposer().Hex(), "cause", verdict.Cause)
		return nil, fmt.Errorf("%w: %s", verdict.Cause, hash.Hex())
	}

	if _, tainted := e.rejected[b.ParentHash()]; tainted {
		e.rejected[hash] = struct{}{}
		e.metrics.BlocksRejected.Inc()
		e.logger.Warn("block rejected",
			"hash", hash.Hex(), "height", b.Height(),
			"cause", ErrRejectedAncestor)
		return nil, fmt.Errorf("%w: parent %s", ErrRejectedAncestor, b.ParentHash().Hex())
	}

	if verdict.Disposition == consensus.AcceptWithPenalty {
		e.logger.Warn("accepting block with proposer penalty",
			"hash", hash.Hex(), "proposer", b.Proposer().Hex())
	}

	oldHead := e.CurrentHead()
	newHead, err := e.forkchoice.ProcessBlock(b.Header())
	if err != nil {
		if errors.Is(err, consensus.ErrNoLeafBlocks) {
			return nil, e.haltLocked(err)
		}
		e.metrics.BlocksRejected.Inc()
		return nil, err
	}
	e.metrics.BlocksAccepted.Inc()
	e.metrics.Leaves.Set(int64(len(e.index.LeafBlocks())))

	// Bootstrap: the first accepted block anchors the chain.
	if !e.bootstrapped {
		return e.bootstrapLocked(b, start)
	}

	if newHead == oldHead {
		e.logger.Debug("block absorbed without head change",
			"hash", hash.Hex(), "height", b.Height())
		return nil, nil
	}

	// Fast path: the new block extends the current head directly.
	if b.ParentHash() == oldHead && newHead == hash {
		if err := e.applier.ApplyBlock(b); err != nil {
			return nil, e.haltLocked(fmt.Errorf("%w: apply %s: %v", ErrStateCorrupted, hash.Hex(), err))
		}
		e.setHeadLocked(b.Height(), hash, nil)
		result := &ReorgResult{
			OldHead:        oldHead,
			NewHead:        hash,
			CommonAncestor: oldHead,
			Applied:        []types.Hash{hash},
			Duration:       time.Since(start),
		}
		e.headFeed.Send(HeadEvent{Hash: hash, Height: b.Height(), Reorged: false})
		e.logger.Debug("chain extended", "hash", hash.Hex(), "height", b.Height())
		return result, nil
	}

	// The head moved to another branch: run the conflict resolver.
	result, err := e.reorg.Execute(oldHead, newHead)
	if err != nil {
		switch {
		case errors.Is(err, ErrFinalizedReorg), errors.Is(err, ErrReorgTooDeep):
			// Expected abort: the head stays where it was.
			e.logger.Warn("reorg aborted", "old", oldHead.Hex(), "new", newHead.Hex(), "cause", err)
			return nil, err
		default:
			return nil, e.haltLocked(err)
		}
	}

	newHeight, ok := e.index.HeightByHash(newHead)
	if !ok {
		return nil, e.haltLocked(fmt.Errorf("%w: new head %s not indexed", ErrStateCorrupted, newHead.Hex()))
	}
	e.setHeadLocked(newHeight, newHead, result)

	if err := e.finality.HandleReorg(result.Reverted, result.Applied); err != nil {
		return nil, e.haltLocked(fmt.Errorf("%w: %v", ErrStateCorrupted, err))
	}

	if len(result.Reverted) > 0 {
		e.reorgFeed.Send(result)
	}
	e.headFeed.Send(HeadEvent{Hash: newHead, Height: newHeight, Reorged: len(result.Reverted) > 0})
	e.logger.Info("chain reorganized",
		"old", oldHead.Hex(), "new", newHead.Hex(),
		"ancestor", result.CommonAncestor.Hex(),
		"reverted", len(result.Reverted), "applied", len(result.Applied))
	return result, nil
}

// bootstrapLocked anchors the chain on the first accepted block. Must be
// called with e.mu held.
func (e *Engine) bootstrapLocked(b *types.Block, start time.Time) (*ReorgResult, error) {
	hash := b.Hash()
	if err := e.applier.ApplyBlock(b); err != nil {
		return nil, e.haltLocked(fmt.Errorf("%w: apply genesis %s: %v", ErrStateCorrupted, hash.Hex(), err))
	}

	e.cmu.Lock()
	e.genesisHeight = b.Height()
	e.headHeight = b.Height()
	e.canonical[b.Height()] = hash
	e.bootstrapped = true
	e.cmu.Unlock()
	h := hash
	e.head.Store(&h)

	e.metrics.HeadHeight.Set(int64(b.Height()))
	e.headFeed.Send(HeadEvent{Hash: hash, Height: b.Height(), Reorged: false})
	e.logger.Info("chain anchored", "genesis", hash.Hex(), "height", b.Height())
	return &ReorgResult{
		NewHead:        hash,
		CommonAncestor: hash,
		Applied:        []types.Hash{hash},
		Duration:       time.Since(start),
	}, nil
}

// setHeadLocked moves the head pointer and reconciles the canonical
// height map. result carries the reorg segments, or nil for a plain
// one-block extension. Must be called with e.mu held.
func (e *Engine) setHeadLocked(height uint64, hash types.Hash, result *ReorgResult) {
	e.cmu.Lock()
	if result == nil {
		e.canonical[height] = hash
	} else {
		ancestorHeight, ok := e.index.HeightByHash(result.CommonAncestor)
		if ok {
			// Drop the stale branch above the fork point, then record
			// the new one; old entries past the new head must not
			// survive a shortening reorg.
			for h := ancestorHeight + 1; h <= e.headHeight; h++ {
				delete(e.canonical, h)
			}
			for i, applied := range result.Applied {
				e.canonical[ancestorHeight+1+uint64(i)] = applied
			}
		}
	}
	e.headHeight = height
	e.cmu.Unlock()

	h := hash
	e.head.Store(&h)
	e.metrics.HeadHeight.Set(int64(height))
}

// haltLocked latches the engine after a fatal error. Must be called with
// e.mu held.
func (e *Engine) haltLocked(err error) error {
	e.haltCause = err
	e.halted.Store(true)
	e.logger.Error("engine halted", "cause", err)
	return err
}

// CurrentHead returns the canonical head hash, or the zero hash before
// the first block is processed. Safe to call concurrently with
// ProcessNewBlock.
func (e *Engine) CurrentHead() types.Hash {
	if h := e.head.Load(); h != nil {
		return *h
	}
	return types.Hash{}
}

// CanonicalChain returns the canonical block hashes from genesis to the
// current head.
func (e *Engine) CanonicalChain() []types.Hash {
	e.cmu.RLock()
	defer e.cmu.RUnlock()

	if !e.bootstrapped {
		return nil
	}
	chain := make([]types.Hash, 0, e.headHeight-e.genesisHeight+1)
	for h := e.genesisHeight; h <= e.headHeight; h++ {
		hash, ok := e.canonical[h]
		if !ok {
			break
		}
		chain = append(chain, hash)
	}
	return chain
}

// IsCanonical returns whether the given block is on the canonical chain
// at the given height.
func (e *Engine) IsCanonical(height uint64, hash types.Hash) bool {
	e.cmu.RLock()
	defer e.cmu.RUnlock()
	h, ok := e.canonical[height]
	return ok && h == hash
}

// HeadHeight returns the height of the canonical head.
func (e *Engine) HeadHeight() uint64 {
	e.cmu.RLock()
	defer e.cmu.RUnlock()
	return e.headHeight
}

// Suspects returns the proposers currently flagged by the detector.
func (e *Engine) Suspects() []types.Address {
	return e.detector.Suspects().Suspects()
}

// Evidence returns buffered equivocation evidence without consuming it.
func (e *Engine) Evidence() []*consensus.EquivocationEvidence {
	return e.detector.Pending()
}

// DrainEvidence hands all buffered evidence to the accountability layer.
func (e *Engine) DrainEvidence() []*consensus.EquivocationEvidence {
	return e.detector.Drain()
}

// Halted reports whether a fatal error has latched the engine.
func (e *Engine) Halted() bool {
	return e.halted.Load()
}

// HaltCause returns the fatal error that halted the engine, or nil.
func (e *Engine) HaltCause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltCause
}

// SubscribeReorgs delivers a ReorgResult for every reorganization that
// reverted at least one block. Subscribers should use buffered channels;
// delivery happens in processing order.
func (e *Engine) SubscribeReorgs(ch chan<- *ReorgResult) event.Subscription {
	return e.scope.Track(e.reorgFeed.Subscribe(ch))
}

// SubscribeEvidence delivers every new equivocation evidence record.
func (e *Engine) SubscribeEvidence(ch chan<- *consensus.EquivocationEvidence) event.Subscription {
	return e.scope.Track(e.evidenceFeed.Subscribe(ch))
}

// SubscribeHead delivers a HeadEvent on every canonical head change.
func (e *Engine) SubscribeHead(ch chan<- HeadEvent) event.Subscription {
	return e.scope.Track(e.headFeed.Subscribe(ch))
}

// Stop closes all subscriptions. The engine itself has no background
// goroutines to wind down.
func (e *Engine) Stop() {
	e.scope.Close()
}
