package main

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/holiman/uint256"

	"github.com/canonchain/canonchain/consensus"
	"github.com/canonchain/canonchain/core"
	"github.com/canonchain/canonchain/core/types"
	"github.com/canonchain/canonchain/crypto"
	"github.com/canonchain/canonchain/log"
	"github.com/canonchain/canonchain/metrics"
)

// genesisTime anchors the simulated slot clock (12 second slots).
const genesisTime = 1700000000

// simConfig tunes one simulation run.
type simConfig struct {
	Slots            uint64
	Validators       int
	Attackers        int
	ForkRate         float64
	EquivocationRate float64
	AttackRate       float64
	Policy           string
	MaxReorgDepth    int
	FinalityLag      uint64
	Seed             uint64
	MetricsAddr      string
	Verbosity        int

	// ConfigFile records the file the config was loaded from, if any.
	ConfigFile string
}

// DefaultSimConfig returns the default simulation tuning.
func DefaultSimConfig() simConfig {
	return simConfig{
		Slots:            96,
		Validators:       8,
		Attackers:        1,
		ForkRate:         0.15,
		EquivocationRate: 0.04,
		AttackRate:       0.02,
		Policy:           "longest",
		MaxReorgDepth:    0,
		FinalityLag:      16,
		Seed:             1,
		Verbosity:        3,
	}
}

// Validate rejects configs the simulator cannot run.
func (cfg simConfig) Validate() error {
	if cfg.Slots == 0 {
		return errors.New("slots must be positive")
	}
	if cfg.Validators < 1 {
		return errors.New("at least one validator is required")
	}
	if cfg.Attackers < 0 {
		return errors.New("attackers must not be negative")
	}
	if cfg.Policy != "longest" && cfg.Policy != "weighted" {
		return fmt.Errorf("unknown policy %q (longest, weighted)", cfg.Policy)
	}
	if cfg.MaxReorgDepth < 0 {
		return errors.New("reorg.maxdepth must not be negative")
	}
	return nil
}

// proposer is one simulated block producer. Attackers carry no secret and
// submit unsigned blocks.
type proposer struct {
	addr   types.Address
	secret []byte
}

// simulator drives the chain-selection engine with generated proposals.
type simulator struct {
	cfg    simConfig
	rng    *rand.Rand
	logger *log.Logger

	index    *core.MemoryIndex
	finality *core.CheckpointFinality
	weighted *consensus.WeightedPolicy // nil under the longest-chain policy
	engine   *core.Engine

	registry  *consensus.StaticValidatorSet
	proposers []proposer
	attackers []proposer

	// built holds blocks present in the tree, the pool stale-parent
	// forks draw from.
	built []*types.Block

	headCh  chan core.HeadEvent
	reorgCh chan *core.ReorgResult
	evCh    chan *consensus.EquivocationEvidence

	sum simSummary
}

// newSimulator wires a full engine stack per the config: validator
// registry with generated BLS keys, attack detector, fork choice policy,
// finality oracle, and the engine with its feeds.
func newSimulator(cfg simConfig, logger *log.Logger) (*simulator, error) {
	rng := rand.New(rand.NewSource(int64(cfg.Seed)))

	registry := consensus.NewStaticValidatorSet()
	proposers := make([]proposer, cfg.Validators)
	for i := range proposers {
		ikm := make([]byte, 32)
		rng.Read(ikm)
		pub, secret, err := crypto.GenerateKey(ikm)
		if err != nil {
			return nil, fmt.Errorf("generate validator key: %w", err)
		}
		addr := types.BytesToAddress(pub[:types.AddressLength])
		var pk [crypto.PubkeySize]byte
		copy(pk[:], pub)
		stake := uint256.NewInt(32 + uint64(rng.Intn(96)))
		if err := registry.Register(addr, pk, stake); err != nil {
			return nil, fmt.Errorf("register validator: %w", err)
		}
		proposers[i] = proposer{addr: addr, secret: secret}
	}

	attackers := make([]proposer, cfg.Attackers)
	for i := range attackers {
		raw := make([]byte, types.AddressLength)
		rng.Read(raw)
		attackers[i] = proposer{addr: types.BytesToAddress(raw)}
	}

	suspects := consensus.NewSuspectSet()
	var forkchoice consensus.ForkChoice
	var weighted *consensus.WeightedPolicy
	if cfg.Policy == "weighted" {
		weighted = consensus.NewWeightedPolicy(suspects)
		forkchoice = weighted
	} else {
		forkchoice = consensus.NewLongestChainPolicy()
	}

	finality := core.NewCheckpointFinality()
	dcfg := consensus.DefaultDetectorConfig()
	dcfg.Validators = registry
	dcfg.Keys = registry
	dcfg.Finality = finality
	dcfg.Suspects = suspects

	index := core.NewMemoryIndex()
	engine := core.NewEngine(core.EngineConfig{
		Index:      index,
		Finality:   finality,
		ForkChoice: forkchoice,
		Detector:   consensus.NewAttackDetector(dcfg),
		Reorg:      core.ReorgConfig{MaxDepth: cfg.MaxReorgDepth},
	})

	s := &simulator{
		cfg:       cfg,
		rng:       rng,
		logger:    logger,
		index:     index,
		finality:  finality,
		weighted:  weighted,
		engine:    engine,
		registry:  registry,
		proposers: proposers,
		attackers: attackers,
		headCh:    make(chan core.HeadEvent, 64),
		reorgCh:   make(chan *core.ReorgResult, 64),
		evCh:      make(chan *consensus.EquivocationEvidence, 64),
	}
	engine.SubscribeHead(s.headCh)
	engine.SubscribeReorgs(s.reorgCh)
	engine.SubscribeEvidence(s.evCh)
	return s, nil
}

// Run plays the configured number of slots and returns the tally.
func (s *simulator) Run() (*simSummary, error) {
	genesis, err := s.buildBlock(s.proposers[0], types.Hash{}, 0, 0)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.ProcessNewBlock(genesis); err != nil {
		return nil, fmt.Errorf("anchor genesis: %w", err)
	}
	s.built = append(s.built, genesis)
	s.sum.Proposed++
	s.sum.Accepted++

	for slot := uint64(1); slot <= s.cfg.Slots; slot++ {
		p := s.proposers[s.rng.Intn(len(s.proposers))]
		parent := s.pickParent()
		s.propose(p, parent, slot)

		if s.rng.Float64() < s.cfg.EquivocationRate {
			// The same proposer signs a second, different block for
			// the slot it already filled.
			s.propose(p, s.engine.CurrentHead(), slot)
		}

		if len(s.attackers) > 0 && s.rng.Float64() < s.cfg.AttackRate {
			attacker := s.attackers[s.rng.Intn(len(s.attackers))]
			s.propose(attacker, s.pickDeepParent(), slot)
		}

		s.attest()
		if err := s.advanceFinality(); err != nil {
			return nil, err
		}
		s.drainFeeds()

		if s.engine.Halted() {
			s.sum.Halted = true
			s.logger.Error("engine halted mid-simulation",
				"slot", slot, "cause", s.engine.HaltCause())
			break
		}
	}

	s.drainFeeds()
	s.sum.Slots = s.cfg.Slots
	s.sum.FinalHead = s.engine.CurrentHead()
	s.sum.FinalHeight = s.engine.HeadHeight()
	s.sum.Suspects = len(s.engine.Suspects())
	s.sum.Finalized = s.finality.FinalizedCount()
	s.sum.EvidenceDrained = len(s.engine.DrainEvidence())
	return &s.sum, nil
}

// Stop releases the engine subscriptions.
func (s *simulator) Stop() {
	s.engine.Stop()
}

// propose builds, signs, and submits one block, classifying the outcome
// into the summary tally.
func (s *simulator) propose(p proposer, parent types.Hash, slot uint64) {
	height, ok := s.index.HeightByHash(parent)
	if !ok {
		return
	}
	b, err := s.buildBlock(p, parent, height+1, slot)
	if err != nil {
		s.logger.Warn("proposal build failed", "err", err)
		return
	}

	s.sum.Proposed++
	_, err = s.engine.ProcessNewBlock(b)
	switch {
	case err == nil:
		s.sum.Accepted++
		s.built = append(s.built, b)
	case errors.Is(err, consensus.ErrEquivocation):
		s.sum.Equivocations++
	case errors.Is(err, consensus.ErrLongRangeAttack):
		s.sum.LongRange++
	case errors.Is(err, core.ErrRejectedAncestor):
		s.sum.Tainted++
	case errors.Is(err, core.ErrFinalizedReorg):
		// The block is in the tree; only the head transition aborted.
		s.sum.FinalityAborts++
		s.built = append(s.built, b)
	case errors.Is(err, core.ErrReorgTooDeep):
		s.sum.DepthAborts++
		s.built = append(s.built, b)
	case errors.Is(err, core.ErrKnownBlock):
		// Identical re-proposal, nothing to record.
	default:
		s.sum.OtherRejected++
		s.logger.Warn("block rejected", "slot", slot,
			"proposer", p.addr.Hex(), "err", err)
	}
}

// buildBlock assembles a signed block with a few opaque transactions.
func (s *simulator) buildBlock(p proposer, parent types.Hash, height, slot uint64) (*types.Block, error) {
	txs := make([]*types.Transaction, s.rng.Intn(4))
	for i := range txs {
		payload := make([]byte, 8+s.rng.Intn(56))
		s.rng.Read(payload)
		txs[i] = types.NewTransaction(payload)
	}

	extra := make([]byte, 8)
	s.rng.Read(extra)
	header := &types.Header{
		ParentHash: parent,
		Height:     height,
		Slot:       slot,
		Time:       genesisTime + slot*12,
		Proposer:   p.addr,
		TxRoot:     types.DeriveTxRoot(txs),
		Extra:      extra,
	}
	b := types.NewBlock(header, txs)

	// Attackers submit unsigned blocks; the detector has no key for
	// them anyway.
	if p.secret == nil {
		return b, nil
	}
	hash := b.Hash()
	sig, err := crypto.Sign(p.secret, hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign block: %w", err)
	}
	var blockSig types.Signature
	copy(blockSig[:], sig)
	return b.WithSignature(blockSig), nil
}

// pickParent returns the current head, or a recent stale block at the
// configured fork rate.
func (s *simulator) pickParent() types.Hash {
	if len(s.built) > 1 && s.rng.Float64() < s.cfg.ForkRate {
		window := 8
		if len(s.built) < window {
			window = len(s.built)
		}
		return s.built[len(s.built)-1-s.rng.Intn(window)].Hash()
	}
	return s.engine.CurrentHead()
}

// pickDeepParent returns a block from the old half of the tree, the
// anchor of a long-range rewrite attempt.
func (s *simulator) pickDeepParent() types.Hash {
	half := len(s.built) / 2
	if half == 0 {
		half = len(s.built)
	}
	return s.built[s.rng.Intn(half)].Hash()
}

// attest adds a random-weight attestation on the current head under the
// weighted policy. The next processed block folds it into fork choice.
func (s *simulator) attest() {
	if s.weighted == nil {
		return
	}
	weight := uint256.NewInt(1 + uint64(s.rng.Intn(31)))
	if err := s.weighted.AddAttestation(s.engine.CurrentHead(), weight); err == nil {
		s.sum.Attestations++
	}
}

// advanceFinality finalizes the canonical block FinalityLag behind the
// head, mimicking an external finality-voting subsystem.
func (s *simulator) advanceFinality() error {
	if s.cfg.FinalityLag == 0 {
		return nil
	}
	chain := s.engine.CanonicalChain()
	if uint64(len(chain)) <= s.cfg.FinalityLag {
		return nil
	}
	height := uint64(len(chain)-1) - s.cfg.FinalityLag
	err := s.finality.Finalize(chain[height], height)
	if err != nil && !errors.Is(err, core.ErrFinalityRegression) {
		return fmt.Errorf("finalize height %d: %w", height, err)
	}
	return nil
}

// drainFeeds folds pending feed events into the tally. The channels are
// buffered well past one slot's worth of events, so the engine never
// blocks on delivery between drains.
func (s *simulator) drainFeeds() {
	for {
		select {
		case r := <-s.reorgCh:
			s.sum.Reorgs++
			if r.Depth > s.sum.DeepestReorg {
				s.sum.DeepestReorg = r.Depth
			}
			s.logger.Debug("reorg observed",
				"old", r.OldHead.Hex(), "new", r.NewHead.Hex(),
				"depth", r.Depth, "applied", len(r.Applied))
		case ev := <-s.evCh:
			s.sum.Evidence++
			s.logger.Debug("equivocation evidence",
				"proposer", ev.Proposer.Hex(), "slot", ev.Slot)
		case ev := <-s.headCh:
			s.sum.HeadChanges++
			s.logger.Debug("head changed",
				"hash", ev.Hash.Hex(), "height", ev.Height, "reorged", ev.Reorged)
		default:
			return
		}
	}
}

// collector exposes simulation gauges to the Prometheus exporter.
func (s *simulator) collector() metrics.CustomCollector {
	return simCollector{s: s}
}

type simCollector struct {
	s *simulator
}

func (c simCollector) Collect() []metrics.MetricLine {
	return []metrics.MetricLine{
		{Name: "sim.indexed_blocks", Value: float64(c.s.index.Len())},
		{Name: "sim.canonical_length", Value: float64(len(c.s.engine.CanonicalChain()))},
		{Name: "sim.suspects", Value: float64(len(c.s.engine.Suspects()))},
		{Name: "sim.finalized", Labels: map[string]string{"oracle": "checkpoint"}, Value: float64(c.s.finality.FinalizedCount())},
	}
}

// simSummary tallies one simulation run.
type simSummary struct {
	Slots           uint64
	Proposed        int
	Accepted        int
	HeadChanges     int
	Reorgs          int
	DeepestReorg    int
	Equivocations   int
	LongRange       int
	Tainted         int
	FinalityAborts  int
	DepthAborts     int
	OtherRejected   int
	Evidence        int
	EvidenceDrained int
	Attestations    int
	Suspects        int
	Finalized       int
	FinalHead       types.Hash
	FinalHeight     uint64
	Halted          bool
}

func (sum *simSummary) log(logger *log.Logger) {
	logger.Info("simulation complete",
		"slots", sum.Slots,
		"proposed", sum.Proposed,
		"accepted", sum.Accepted,
		"head_changes", sum.HeadChanges,
		"reorgs", sum.Reorgs,
		"deepest_reorg", sum.DeepestReorg,
		"equivocations", sum.Equivocations,
		"long_range_rejected", sum.LongRange,
		"tainted", sum.Tainted,
		"finality_aborts", sum.FinalityAborts,
		"depth_aborts", sum.DepthAborts,
		"evidence", sum.Evidence,
		"suspects", sum.Suspects,
		"finalized", sum.Finalized,
		"head", sum.FinalHead.Hex(),
		"height", sum.FinalHeight,
		"halted", sum.Halted)
}
