// e2e_helpers.go provides the shared scenario builders for the
// end-to-end tests: a fully wired engine harness with BLS-keyed
// validators, and signed-block constructors. This file establishes the
// base package for the repo root so the external test files can use
// the exported helpers.
package e2e

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/canonchain/canonchain/consensus"
	"github.com/canonchain/canonchain/core"
	"github.com/canonchain/canonchain/core/types"
	"github.com/canonchain/canonchain/crypto"
)

// GenesisTime anchors all generated block timestamps.
const GenesisTime = 1700000000

// Validator is a registered proposer with its signing key.
type Validator struct {
	Addr   types.Address
	Pubkey []byte
	secret []byte
}

// Harness wires every engine dependency the way a node would: a block
// index, checkpoint finality, a validator registry shared between the
// detector and the signature gate, and a fork choice policy.
type Harness struct {
	Index      *core.MemoryIndex
	Finality   *core.CheckpointFinality
	Registry   *consensus.StaticValidatorSet
	Suspects   *consensus.SuspectSet
	Weighted   *consensus.WeightedPolicy // nil under the longest-chain policy
	Engine     *core.Engine
	Validators []Validator
}

// NewHarness assembles an engine with the given policy ("longest" or
// "weighted") and a registry of n keyed validators with equal stake.
func NewHarness(policy string, n int) (*Harness, error) {
	registry := consensus.NewStaticValidatorSet()
	validators := make([]Validator, n)
	for i := range validators {
		ikm := make([]byte, 32)
		for j := range ikm {
			ikm[j] = byte(0x40 + i)
		}
		pub, secret, err := crypto.GenerateKey(ikm)
		if err != nil {
			return nil, fmt.Errorf("validator %d key: %w", i, err)
		}
		addr := types.BytesToAddress(pub[:types.AddressLength])
		var pk [crypto.PubkeySize]byte
		copy(pk[:], pub)
		if err := registry.Register(addr, pk, uint256.NewInt(32)); err != nil {
			return nil, fmt.Errorf("validator %d register: %w", i, err)
		}
		validators[i] = Validator{Addr: addr, Pubkey: pub, secret: secret}
	}

	suspects := consensus.NewSuspectSet()
	var forkchoice consensus.ForkChoice
	var weighted *consensus.WeightedPolicy
	if policy == "weighted" {
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
	})

	return &Harness{
		Index:      index,
		Finality:   finality,
		Registry:   registry,
		Suspects:   suspects,
		Weighted:   weighted,
		Engine:     engine,
		Validators: validators,
	}, nil
}

// SignedBlock builds a block signed by v. The extra byte disambiguates
// otherwise identical proposals.
func (h *Harness) SignedBlock(v Validator, parent types.Hash, height, slot uint64, extra byte) (*types.Block, error) {
	header := &types.Header{
		ParentHash: parent,
		Height:     height,
		Slot:       slot,
		Time:       GenesisTime + slot*12,
		Proposer:   v.Addr,
		Extra:      []byte{extra},
	}
	block := types.NewBlock(header, nil)
	hash := block.Hash()
	raw, err := crypto.Sign(v.secret, hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign block %s: %w", hash.Hex(), err)
	}
	var sig types.Signature
	copy(sig[:], raw)
	return block.WithSignature(sig), nil
}

// UnsignedBlock builds a block carrying no signature, as an outsider
// without a registered key would produce.
func (h *Harness) UnsignedBlock(proposer types.Address, parent types.Hash, height, slot uint64, extra byte) *types.Block {
	header := &types.Header{
		ParentHash: parent,
		Height:     height,
		Slot:       slot,
		Time:       GenesisTime + slot*12,
		Proposer:   proposer,
		Extra:      []byte{extra},
	}
	return types.NewBlock(header, nil)
}

// Bootstrap builds, signs, and processes the genesis block.
func (h *Harness) Bootstrap() (*types.Block, error) {
	genesis, err := h.SignedBlock(h.Validators[0], types.Hash{}, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.ProcessNewBlock(genesis); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return genesis, nil
}

// ExtendChain grows a signed chain of n blocks on top of parent,
// proposed by v with consecutive slots starting at startSlot. It
// returns the new blocks; processing is left to the caller.
func (h *Harness) ExtendChain(v Validator, parent *types.Block, n int, startSlot uint64, extra byte) ([]*types.Block, error) {
	blocks := make([]*types.Block, n)
	prev := parent
	for i := 0; i < n; i++ {
		b, err := h.SignedBlock(v, prev.Hash(), prev.Height()+1, startSlot+uint64(i), extra)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
		prev = b
	}
	return blocks, nil
}

// ProcessAll feeds blocks to the engine in order, returning the last
// result. Expected per-block rejections abort with the block's index.
func (h *Harness) ProcessAll(blocks []*types.Block) (*core.ReorgResult, error) {
	var last *core.ReorgResult
	for i, b := range blocks {
		result, err := h.Engine.ProcessNewBlock(b)
		if err != nil {
			return nil, fmt.Errorf("block %d (%s): %w", i, b.Hash().Hex(), err)
		}
		if result != nil {
			last = result
		}
	}
	return last, nil
}
