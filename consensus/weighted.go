package consensus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/canonchain/canonchain/core/types"
)

// weightedNode is one block in the weighted policy's tree. weight holds the
// attestation stake credited directly to this block; subtree totals are
// derived on demand.
type weightedNode struct {
	hash     types.Hash
	parent   types.Hash
	height   uint64
	proposer types.Address
	weight   *uint256.Int
	children []types.Hash
}

// WeightedPolicy is an attestation-weighted fork choice: the head is found
// by walking from the root and greedily picking the child whose subtree
// carries the greatest accumulated stake, breaking ties by smallest hash.
// Blocks proposed by suspects contribute zero own-weight, so branches built
// by flagged proposers are de-prioritized without being removed.
//
// All public methods are thread-safe.
type WeightedPolicy struct {
	mu       sync.RWMutex
	nodes    map[types.Hash]*weightedNode
	leaves   map[types.Hash]struct{}
	root     types.Hash
	head     types.Hash
	suspects *SuspectSet
}

// NewWeightedPolicy returns an empty weighted fork choice. suspects may be
// nil, in which case no proposer is de-prioritized.
func NewWeightedPolicy(suspects *SuspectSet) *WeightedPolicy {
	return &WeightedPolicy{
		nodes:    make(map[types.Hash]*weightedNode),
		leaves:   make(map[types.Hash]struct{}),
		suspects: suspects,
	}
}

// ProcessBlock inserts a header into the tree. Same contract as the
// longest-chain policy: extending the current head advances it directly,
// anything else recomputes over the leaf set.
func (wp *WeightedPolicy) ProcessBlock(h *types.Header) (types.Hash, error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	hash := h.Hash()
	if _, dup := wp.nodes[hash]; dup {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateBlock, hash.Hex())
	}

	node := &weightedNode{
		hash:     hash,
		parent:   h.ParentHash,
		height:   h.Height,
		proposer: h.Proposer,
		weight:   uint256.NewInt(0),
	}

	if len(wp.nodes) == 0 {
		wp.nodes[hash] = node
		wp.leaves[hash] = struct{}{}
		wp.root = hash
		wp.head = hash
		return hash, nil
	}

	parent, ok := wp.nodes[h.ParentHash]
	if !ok {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownParent, h.ParentHash.Hex())
	}
	parent.children = append(parent.children, hash)
	delete(wp.leaves, parent.hash)

	wp.nodes[hash] = node
	wp.leaves[hash] = struct{}{}

	if h.ParentHash == wp.head {
		wp.head = hash
		return hash, nil
	}

	head, err := wp.chooseHeadLocked(wp.leafSliceLocked())
	if err != nil {
		return types.Hash{}, err
	}
	wp.head = head
	return head, nil
}

// AddAttestation credits stake-denominated vote weight to a block. The
// weight flows into every ancestor's subtree total during head selection.
// The head is not recomputed here; call RecomputeHead when a batch of
// attestations has been absorbed.
func (wp *WeightedPolicy) AddAttestation(hash types.Hash, weight *uint256.Int) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	node, ok := wp.nodes[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, hash.Hex())
	}
	node.weight = new(uint256.Int).Add(node.weight, weight)
	return nil
}

// RecomputeHead re-runs head selection over the current leaf set and
// returns the new head.
func (wp *WeightedPolicy) RecomputeHead() (types.Hash, error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	head, err := wp.chooseHeadLocked(wp.leafSliceLocked())
	if err != nil {
		return types.Hash{}, err
	}
	wp.head = head
	return head, nil
}

// ChooseHead runs the greedy heaviest-subtree walk restricted to the
// ancestor closure of the given leaves. The tree is not mutated.
func (wp *WeightedPolicy) ChooseHead(leaves []types.Hash) (types.Hash, error) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.chooseHeadLocked(leaves)
}

// chooseHeadLocked selects the head among leaves: restrict the tree to
// blocks on a path from the root to one of the leaves, compute subtree
// weights bottom-up, then walk from the root greedily picking the heaviest
// eligible child (ties to the smallest hash). Must be called with the
// lock held.
func (wp *WeightedPolicy) chooseHeadLocked(leaves []types.Hash) (types.Hash, error) {
	if len(leaves) == 0 {
		return types.Hash{}, ErrNoLeafBlocks
	}

	eligible := make(map[types.Hash]bool)
	for _, leaf := range leaves {
		node, ok := wp.nodes[leaf]
		if !ok {
			return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownBlock, leaf.Hex())
		}
		for node != nil && !eligible[node.hash] {
			eligible[node.hash] = true
			node = wp.nodes[node.parent]
		}
	}

	weights := wp.subtreeWeightsLocked(eligible)

	current := wp.root
	for {
		node := wp.nodes[current]
		var (
			best    types.Hash
			bestSet bool
			bestW   *uint256.Int
		)
		for _, child := range node.children {
			if !eligible[child] {
				continue
			}
			w := weights[child]
			if !bestSet || w.Gt(bestW) || (w.Eq(bestW) && child.Less(best)) {
				best = child
				bestW = w
				bestSet = true
			}
		}
		if !bestSet {
			return current, nil
		}
		current = best
	}
}

// subtreeWeightsLocked computes, for every eligible block, its own weight
// plus the weights of all eligible descendants. Blocks from suspect
// proposers contribute zero own-weight. Accumulation runs deepest-first so
// each child's total is final before it flows into the parent. Must be
// called with the lock held.
func (wp *WeightedPolicy) subtreeWeightsLocked(eligible map[types.Hash]bool) map[types.Hash]*uint256.Int {
	ordered := make([]types.Hash, 0, len(eligible))
	for h := range eligible {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool {
		ni, nj := wp.nodes[ordered[i]], wp.nodes[ordered[j]]
		if ni.height != nj.height {
			return ni.height > nj.height
		}
		return ordered[i].Less(ordered[j])
	})

	weights := make(map[types.Hash]*uint256.Int, len(ordered))
	for _, h := range ordered {
		node := wp.nodes[h]
		own := node.weight
		if wp.suspects != nil && wp.suspects.IsSuspect(node.proposer) {
			own = uint256.NewInt(0)
		}
		if w, ok := weights[h]; ok {
			weights[h] = new(uint256.Int).Add(w, own)
		} else {
			weights[h] = new(uint256.Int).Set(own)
		}
		if eligible[node.parent] {
			if pw, ok := weights[node.parent]; ok {
				weights[node.parent] = new(uint256.Int).Add(pw, weights[h])
			} else {
				weights[node.parent] = new(uint256.Int).Set(weights[h])
			}
		}
	}
	return weights
}

// CanonicalChain walks parent pointers from the current head back to the
// root and returns the chain in genesis-to-head order.
func (wp *WeightedPolicy) CanonicalChain() []types.Hash {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if len(wp.nodes) == 0 {
		return nil
	}
	var chain []types.Hash
	for current := wp.head; ; {
		node, ok := wp.nodes[current]
		if !ok {
			break
		}
		chain = append(chain, current)
		if current == wp.root {
			break
		}
		current = node.parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Head returns the current canonical head hash.
func (wp *WeightedPolicy) Head() types.Hash {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.head
}

// Weight returns the direct (non-subtree) attestation weight of a block.
func (wp *WeightedPolicy) Weight(hash types.Hash) *uint256.Int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if node, ok := wp.nodes[hash]; ok {
		return new(uint256.Int).Set(node.weight)
	}
	return uint256.NewInt(0)
}

// HasBlock returns whether the given hash is present in the tree.
func (wp *WeightedPolicy) HasBlock(hash types.Hash) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	_, ok := wp.nodes[hash]
	return ok
}

// BlockCount returns the number of blocks in the tree.
func (wp *WeightedPolicy) BlockCount() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return len(wp.nodes)
}

// leafSliceLocked collects the leaf set. Must be called with the lock held.
func (wp *WeightedPolicy) leafSliceLocked() []types.Hash {
	leaves := make([]types.Hash, 0, len(wp.leaves))
	for h := range wp.leaves {
		leaves = append(leaves, h)
	}
	return leaves
}
