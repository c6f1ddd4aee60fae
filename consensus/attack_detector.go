package consensus

import (
	"errors"
	"sync"
	"time"

	"github.com/canonchain/canonchain/core/types"
	"github.com/canonchain/canonchain/crypto"
	"github.com/canonchain/canonchain/metrics"
)

// Detector errors. Equivocation and long-range findings bar a block from
// fork choice; a bad signature bars it before any history is recorded.
var (
	ErrEquivocation    = errors.New("detector: equivocating proposal")
	ErrLongRangeAttack = errors.New("detector: long-range rewrite attempt")
	ErrBadSignature    = errors.New("detector: invalid block signature")
)

// Detector tuning defaults.
const (
	// DefaultMaxPendingEvidence caps the buffered evidence records before
	// the oldest are dropped.
	DefaultMaxPendingEvidence = 1024

	// DefaultMaxTimingEntries caps the per-proposer arrival-time history
	// consumed by the selfish-mining heuristic.
	DefaultMaxTimingEntries = 32
)

// Disposition is the detector's recommendation for a block.
type Disposition uint8

const (
	// Accept lets the block proceed to fork choice unannotated.
	Accept Disposition = iota
	// AcceptWithPenalty lets the block proceed but flags the proposer
	// for downstream accountability weighting.
	AcceptWithPenalty
	// Reject bars the block from fork choice. The block may still be
	// stored as evidence but must never become head.
	Reject
)

// String returns a human-readable name for the disposition.
func (d Disposition) String() string {
	switch d {
	case Accept:
		return "accept"
	case AcceptWithPenalty:
		return "accept_with_penalty"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of inspecting one block.
type Verdict struct {
	Disposition Disposition
	// Cause names the rejection rule when Disposition is Reject:
	// ErrEquivocation, ErrLongRangeAttack, or ErrBadSignature.
	Cause error
	// Evidence holds the equivocation evidence produced by this
	// inspection, one record per newly observed conflicting pair.
	Evidence []*EquivocationEvidence
}

// EquivocationEvidence proves that one proposer produced two distinct
// blocks for the same slot. Hash1 is the earlier-seen block, Hash2 the
// newly observed one. Records are immutable and retained until drained by
// the external accountability process.
type EquivocationEvidence struct {
	Proposer   types.Address
	Slot       uint64
	Hash1      types.Hash
	Hash2      types.Hash
	DetectedAt time.Time
}

// FinalityReader reports the latest finalized height. The core finality
// oracle satisfies it.
type FinalityReader interface {
	LatestFinalizedHeight() uint64
}

// KeyProvider resolves a proposer's registered BLS public key.
// *StaticValidatorSet satisfies it.
type KeyProvider interface {
	PublicKey(addr types.Address) ([crypto.PubkeySize]byte, bool)
}

// DetectorConfig configures the attack detector. Validators and Finality
// enable the long-range rule; Keys enables signature verification; all
// three degrade gracefully to skipped checks when nil.
type DetectorConfig struct {
	Validators ValidatorSet
	Finality   FinalityReader
	Keys       KeyProvider

	// Suspects is the shared suspect set consulted by fork choice
	// policies. A fresh set is created when nil.
	Suspects *SuspectSet

	// Timing is the selfish-mining predicate. Defaults to
	// BurstAfterSilence with default tuning.
	Timing TimingPolicy

	MaxPendingEvidence int
	MaxTimingEntries   int

	// Now supplies the detector's clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultDetectorConfig returns a config with default tuning and no
// external collaborators wired.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Timing:             BurstAfterSilence(DefaultSelfishMiningConfig()),
		MaxPendingEvidence: DefaultMaxPendingEvidence,
		MaxTimingEntries:   DefaultMaxTimingEntries,
	}
}

// proposalKey identifies a (proposer, slot) pair.
type proposalKey struct {
	proposer types.Address
	slot     uint64
}

// AttackDetector classifies each incoming block's proposer behavior and
// recommends a disposition, independent of and prior to fork choice. It
// maintains per-proposer proposal history for equivocation detection and
// arrival timing for the selfish-mining heuristic. All public methods are
// thread-safe.
type AttackDetector struct {
	mu sync.Mutex

	validators ValidatorSet
	finality   FinalityReader
	keys       KeyProvider
	suspects   *SuspectSet
	timing     TimingPolicy
	now        func() time.Time

	maxPendingEvidence int
	maxTimingEntries   int

	// seen maps (proposer, slot) to the distinct block hashes observed,
	// in arrival order.
	seen map[proposalKey][]types.Hash

	// arrivals maps proposer to recent proposal arrival times, ascending.
	arrivals map[types.Address][]time.Time

	// pending buffers evidence until drained.
	pending []*EquivocationEvidence

	// detected counts lifetime equivocation evidence records.
	detected uint64
}

// NewAttackDetector creates a detector from the given config.
func NewAttackDetector(cfg DetectorConfig) *AttackDetector {
	if cfg.Suspects == nil {
		cfg.Suspects = NewSuspectSet()
	}
	if cfg.Timing == nil {
		cfg.Timing = BurstAfterSilence(DefaultSelfishMiningConfig())
	}
	if cfg.MaxPendingEvidence <= 0 {
		cfg.MaxPendingEvidence = DefaultMaxPendingEvidence
	}
	if cfg.MaxTimingEntries <= 0 {
		cfg.MaxTimingEntries = DefaultMaxTimingEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AttackDetector{
		validators:         cfg.Validators,
		finality:           cfg.Finality,
		keys:               cfg.Keys,
		suspects:           cfg.Suspects,
		timing:             cfg.Timing,
		now:                cfg.Now,
		maxPendingEvidence: cfg.MaxPendingEvidence,
		maxTimingEntries:   cfg.MaxTimingEntries,
		seen:               make(map[proposalKey][]types.Hash),
		arrivals:           make(map[types.Address][]time.Time),
	}
}

// Inspect classifies a block and recommends a disposition. Checks run in
// precedence order: signature integrity, equivocation, long-range, then
// the selfish-mining annotation. Equivocation evidence is produced exactly
// once per conflicting pair regardless of arrival order; re-inspecting an
// already-seen block yields no new evidence but keeps its disposition.
func (d *AttackDetector) Inspect(b *types.Block) Verdict {
	// A forged signature must not pollute proposal history, otherwise an
	// attacker could fabricate equivocation evidence against an honest
	// validator.
	if err := d.verifySignature(b); err != nil {
		metrics.SignaturesFailed.Inc()
		return Verdict{Disposition: Reject, Cause: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	hash := b.Hash()
	proposer := b.Proposer()

	key := proposalKey{proposer: proposer, slot: b.Slot()}
	existing := d.seen[key]
	known := false
	for _, h := range existing {
		if h == hash {
			known = true
			break
		}
	}

	var evidence []*EquivocationEvidence
	if !known {
		for _, prev := range existing {
			ev := &EquivocationEvidence{
				Proposer:   proposer,
				Slot:       b.Slot(),
				Hash1:      prev,
				Hash2:      hash,
				DetectedAt: now,
			}
			d.addEvidenceLocked(ev)
			evidence = append(evidence, ev)
		}
		d.seen[key] = append(existing, hash)
		d.recordArrivalLocked(proposer, now)
	}

	verdict := Verdict{Disposition: Accept, Evidence: evidence}

	if len(d.seen[key]) > 1 {
		// Conflicting proposals exist for this (proposer, slot); the
		// block stays rejected on re-inspection too, but the proposer is
		// only flagged when new evidence was produced.
		if len(evidence) > 0 {
			d.suspects.Flag(proposer, SuspectEquivocation, now)
			metrics.EquivocationsDetected.Add(int64(len(evidence)))
			metrics.SuspectsTracked.Set(int64(d.suspects.Len()))
		}
		verdict.Disposition = Reject
		verdict.Cause = ErrEquivocation
		return verdict
	}

	if d.isLongRangeLocked(b) {
		d.suspects.Flag(proposer, SuspectLongRange, now)
		metrics.LongRangeRejected.Inc()
		metrics.SuspectsTracked.Set(int64(d.suspects.Len()))
		verdict.Disposition = Reject
		verdict.Cause = ErrLongRangeAttack
		return verdict
	}

	if !known && d.timing(d.arrivals[proposer]) {
		d.suspects.Flag(proposer, SuspectSelfishMining, now)
		metrics.SelfishFlagged.Inc()
		metrics.SuspectsTracked.Set(int64(d.suspects.Len()))
		verdict.Disposition = AcceptWithPenalty
	}

	return verdict
}

// verifySignature checks the proposer's BLS signature over the block hash
// when a key provider is configured and the proposer has a registered key.
// Unregistered proposers pass through; the long-range rule decides their
// eligibility.
func (d *AttackDetector) verifySignature(b *types.Block) error {
	if d.keys == nil {
		return nil
	}
	pub, ok := d.keys.PublicKey(b.Proposer())
	if !ok {
		return nil
	}
	hash := b.Hash()
	sig := b.Signature()
	if !crypto.VerifySignature(pub[:], hash[:], sig[:]) {
		return ErrBadSignature
	}
	metrics.SignaturesVerified.Inc()
	return nil
}

// isLongRangeLocked reports whether the block attempts to rewrite settled
// history: its height is at or below the latest finalized height and its
// proposer is not an active validator. Must be called with d.mu held.
func (d *AttackDetector) isLongRangeLocked(b *types.Block) bool {
	if d.finality == nil || d.validators == nil {
		return false
	}
	finalized := d.finality.LatestFinalizedHeight()
	if finalized == 0 || b.Height() > finalized {
		return false
	}
	return !d.validators.IsValidator(b.Proposer())
}

// recordArrivalLocked appends an arrival time to the proposer's history,
// keeping at most maxTimingEntries newest entries. Must be called with
// d.mu held.
func (d *AttackDetector) recordArrivalLocked(proposer types.Address, at time.Time) {
	times := append(d.arrivals[proposer], at)
	if len(times) > d.maxTimingEntries {
		times = times[len(times)-d.maxTimingEntries:]
	}
	d.arrivals[proposer] = times
}

// addEvidenceLocked buffers evidence, evicting the oldest entry at
// capacity. Must be called with d.mu held.
func (d *AttackDetector) addEvidenceLocked(ev *EquivocationEvidence) {
	if len(d.pending) >= d.maxPendingEvidence {
		d.pending = d.pending[1:]
	}
	d.pending = append(d.pending, ev)
	d.detected++
}

// Pending returns buffered evidence without consuming it.
func (d *AttackDetector) Pending() []*EquivocationEvidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*EquivocationEvidence, len(d.pending))
	copy(out, d.pending)
	return out
}

// Drain returns all buffered evidence and clears the buffer. The external
// accountability process calls this.
func (d *AttackDetector) Drain() []*EquivocationEvidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*EquivocationEvidence, len(d.pending))
	copy(out, d.pending)
	d.pending = d.pending[:0]
	return out
}

// PendingCount returns the number of buffered evidence records.
func (d *AttackDetector) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// DetectedCount returns the lifetime count of evidence records produced.
func (d *AttackDetector) DetectedCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detected
}

// Suspects returns the shared suspect set.
func (d *AttackDetector) Suspects() *SuspectSet {
	return d.suspects
}

// PruneHistory drops proposal history for slots before the cutoff, bounding
// memory for long-running nodes. Evidence and suspect records are kept.
func (d *AttackDetector) PruneHistory(beforeSlot uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key := range d.seen {
		if key.slot < beforeSlot {
			delete(d.seen, key)
		}
	}
}

// TrackedProposals returns the number of (proposer, slot) pairs with
// recorded history.
func (d *AttackDetector) TrackedProposals() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
