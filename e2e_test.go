// Package e2e_test exercises the full block processing pipeline across
// packages: BLS-keyed proposers sign blocks, the detector screens them,
// fork choice and the reorg engine move the head, and the outcome shows
// up in the canonical chain, the evidence buffer, and the metrics
// exposition.
package e2e_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	e2e "github.com/canonchain/canonchain"
	"github.com/canonchain/canonchain/consensus"
	"github.com/canonchain/canonchain/core"
	"github.com/canonchain/canonchain/metrics"
)

func TestPipelineForkSwitch(t *testing.T) {
	h, err := e2e.NewHarness("longest", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Engine.Stop()
	genesis, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}

	trunk, err := h.ExtendChain(h.Validators[0], genesis, 4, 1, 0xa0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.ProcessAll(trunk); err != nil {
		t.Fatal(err)
	}
	if head := h.Engine.CurrentHead(); head != trunk[3].Hash() {
		t.Fatalf("head = %s, want trunk tip", head.Hex())
	}

	// A longer branch off the first trunk block overtakes the head.
	branch, err := h.ExtendChain(h.Validators[1], trunk[0], 5, 20, 0xb0)
	if err != nil {
		t.Fatal(err)
	}
	last, err := h.ProcessAll(branch)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.NewHead != branch[4].Hash() {
		t.Fatalf("expected the branch tip to win, last result %+v", last)
	}
	if head := h.Engine.CurrentHead(); head != branch[4].Hash() {
		t.Fatalf("head = %s, want branch tip", head.Hex())
	}
	if h.Engine.HeadHeight() != 6 {
		t.Fatalf("head height = %d, want 6", h.Engine.HeadHeight())
	}

	// The displaced trunk remains indexed for evidence.
	for _, b := range trunk[1:] {
		if !h.Index.HasBlock(b.Hash()) {
			t.Fatalf("reverted block %s dropped from index", b.Hash().Hex())
		}
		if h.Engine.IsCanonical(b.Height(), b.Hash()) {
			t.Fatalf("reverted block %s still canonical", b.Hash().Hex())
		}
	}
	for _, b := range branch {
		if !h.Engine.IsCanonical(b.Height(), b.Hash()) {
			t.Fatalf("branch block %s not canonical", b.Hash().Hex())
		}
	}
}

func TestPipelineEquivocationAccountability(t *testing.T) {
	h, err := e2e.NewHarness("longest", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Engine.Stop()
	genesis, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}

	v := h.Validators[1]
	first, err := h.SignedBlock(v, genesis.Hash(), 1, 1, 0x01)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Engine.ProcessNewBlock(first); err != nil {
		t.Fatal(err)
	}

	// Same proposer, same slot, different content.
	second, err := h.SignedBlock(v, genesis.Hash(), 1, 1, 0x02)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Engine.ProcessNewBlock(second)
	if !errors.Is(err, consensus.ErrEquivocation) {
		t.Fatalf("err = %v, want ErrEquivocation", err)
	}
	if head := h.Engine.CurrentHead(); head != first.Hash() {
		t.Fatalf("head moved to %s after equivocation", head.Hex())
	}

	evidence := h.Engine.DrainEvidence()
	if len(evidence) != 1 {
		t.Fatalf("evidence records = %d, want 1", len(evidence))
	}
	ev := evidence[0]
	if ev.Proposer != v.Addr || ev.Slot != 1 {
		t.Fatalf("evidence = %+v", ev)
	}
	if ev.Hash1 != first.Hash() || ev.Hash2 != second.Hash() {
		t.Fatal("evidence does not pair the conflicting blocks in seen order")
	}

	suspects := h.Engine.Suspects()
	if len(suspects) != 1 || suspects[0] != v.Addr {
		t.Fatalf("suspects = %v, want [%s]", suspects, v.Addr.Hex())
	}

	// Descendants of the equivocating block inherit the rejection.
	child, err := h.SignedBlock(h.Validators[0], second.Hash(), 2, 2, 0x03)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Engine.ProcessNewBlock(child); !errors.Is(err, core.ErrRejectedAncestor) {
		t.Fatalf("child err = %v, want ErrRejectedAncestor", err)
	}
}

func TestPipelineSignatureGate(t *testing.T) {
	h, err := e2e.NewHarness("longest", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Engine.Stop()
	genesis, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}

	// A registered proposer's block without a valid signature is barred.
	forged := h.UnsignedBlock(h.Validators[1].Addr, genesis.Hash(), 1, 1, 0x01)
	_, err = h.Engine.ProcessNewBlock(forged)
	if !errors.Is(err, consensus.ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
	if head := h.Engine.CurrentHead(); head != genesis.Hash() {
		t.Fatalf("head moved to %s on a forged block", head.Hex())
	}
	// The block stays retrievable; history is evidence.
	if !h.Index.HasBlock(forged.Hash()) {
		t.Fatal("forged block dropped from index")
	}
	// A signature failure alone does not brand the proposer an attacker.
	if suspects := h.Engine.Suspects(); len(suspects) != 0 {
		t.Fatalf("suspects = %v, want none", suspects)
	}

	// The same proposer with a proper signature proceeds normally.
	good, err := h.SignedBlock(h.Validators[1], genesis.Hash(), 1, 2, 0x02)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Engine.ProcessNewBlock(good); err != nil {
		t.Fatalf("signed block rejected: %v", err)
	}
}

func TestPipelineFinalityShield(t *testing.T) {
	h, err := e2e.NewHarness("longest", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Engine.Stop()
	genesis, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}

	trunk, err := h.ExtendChain(h.Validators[0], genesis, 6, 1, 0xa0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.ProcessAll(trunk); err != nil {
		t.Fatal(err)
	}
	if err := h.Finality.Finalize(trunk[2].Hash(), trunk[2].Height()); err != nil {
		t.Fatal(err)
	}

	// A branch rooted below the checkpoint cannot take the head no
	// matter how long it grows.
	branch, err := h.ExtendChain(h.Validators[1], trunk[0], 8, 30, 0xb0)
	if err != nil {
		t.Fatal(err)
	}
	var rejected error
	for _, b := range branch {
		if _, err := h.Engine.ProcessNewBlock(b); err != nil {
			rejected = err
			break
		}
	}
	if !errors.Is(rejected, core.ErrFinalizedReorg) {
		t.Fatalf("err = %v, want ErrFinalizedReorg", rejected)
	}
	if head := h.Engine.CurrentHead(); head != trunk[5].Hash() {
		t.Fatalf("head = %s, want the finalized trunk tip", head.Hex())
	}
	if h.Engine.Halted() {
		t.Fatal("a refused reorg must not halt the engine")
	}
}

func TestPipelineWeightedHeadFollowsStake(t *testing.T) {
	h, err := e2e.NewHarness("weighted", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Engine.Stop()
	genesis, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}

	a1, err := h.SignedBlock(h.Validators[0], genesis.Hash(), 1, 1, 0xa1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Engine.ProcessNewBlock(a1); err != nil {
		t.Fatal(err)
	}
	h.Weighted.AddAttestation(a1.Hash(), uint256.NewInt(10))

	b1, err := h.SignedBlock(h.Validators[1], genesis.Hash(), 1, 2, 0xb1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Engine.ProcessNewBlock(b1); err != nil {
		t.Fatal(err)
	}
	if head := h.Engine.CurrentHead(); head != a1.Hash() {
		t.Fatalf("unattested sibling took the head: %s", head.Hex())
	}

	// Attestation weight on the sibling branch outvotes chain length.
	h.Weighted.AddAttestation(b1.Hash(), uint256.NewInt(1000))
	b2, err := h.SignedBlock(h.Validators[1], b1.Hash(), 2, 3, 0xb2)
	if err != nil {
		t.Fatal(err)
	}
	result, err := h.Engine.ProcessNewBlock(b2)
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || result.NewHead != b2.Hash() {
		t.Fatalf("weighted branch did not win: %+v", result)
	}
	if !h.Engine.IsCanonical(1, b1.Hash()) || h.Engine.IsCanonical(1, a1.Hash()) {
		t.Fatal("canonical mapping does not follow the attested branch")
	}
}

func TestPipelineMetricsExposition(t *testing.T) {
	h, err := e2e.NewHarness("longest", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Engine.Stop()
	genesis, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	chain, err := h.ExtendChain(h.Validators[0], genesis, 3, 1, 0xa0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.ProcessAll(chain); err != nil {
		t.Fatal(err)
	}

	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
	text := exporter.Exposition()
	for _, name := range []string{
		"canonchain_chain_blocks_accepted",
		"canonchain_chain_head_height",
		"canonchain_reorg_executed",
		"# TYPE",
	} {
		if !strings.Contains(text, name) {
			t.Errorf("exposition is missing %q", name)
		}
	}
}
