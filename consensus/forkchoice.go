// Package consensus implements chain selection and Byzantine-behavior
// detection: swappable fork choice policies over a block tree, the attack
// detector that screens every incoming block, and the validator registry
// the detector consults.
package consensus

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/canonchain/canonchain/core/types"
)

// Fork choice errors.
var (
	ErrUnknownParent  = errors.New("forkchoice: unknown parent block")
	ErrDuplicateBlock = errors.New("forkchoice: duplicate block")
	ErrUnknownBlock   = errors.New("forkchoice: unknown block")
	ErrNoLeafBlocks   = errors.New("forkchoice: no leaf blocks")
)

// ForkChoice selects the canonical head among competing branches of the
// block tree. Implementations must be deterministic: given the same tree
// and leaf set, every call returns the same head across independently-run
// instances, so all honest nodes converge.
type ForkChoice interface {
	// ProcessBlock inserts a block header into the policy's tree and
	// returns the post-update canonical head. A block extending the
	// current head advances the head directly; any other insertion
	// recomputes the head over the full leaf set.
	ProcessBlock(h *types.Header) (types.Hash, error)

	// ChooseHead returns the canonical head among the given leaves
	// without mutating the tree. It is the pure decision function.
	ChooseHead(leaves []types.Hash) (types.Hash, error)

	// CanonicalChain returns the hashes of the canonical chain from the
	// root (genesis) to the current head, in chain order.
	CanonicalChain() []types.Hash
}

// chainNode is one block in a policy's tree.
type chainNode struct {
	hash     types.Hash
	parent   types.Hash
	height   uint64
	children []types.Hash
}

// LongestChainPolicy implements the baseline "deepest leaf wins" rule:
// among all leaf blocks the one with the strictly greatest height becomes
// head, and equal heights break to the lexicographically smallest hash.
// All public methods are thread-safe.
type LongestChainPolicy struct {
	mu     sync.RWMutex
	nodes  map[types.Hash]*chainNode
	leaves map[types.Hash]struct{}
	root   types.Hash
	head   types.Hash
}

// NewLongestChainPolicy returns an empty longest-chain fork choice. The
// first block processed becomes the tree root (genesis).
func NewLongestChainPolicy() *LongestChainPolicy {
	return &LongestChainPolicy{
		nodes:  make(map[types.Hash]*chainNode),
		leaves: make(map[types.Hash]struct{}),
	}
}

// ProcessBlock inserts a header into the tree. The parent must already be
// present unless the tree is empty, in which case the block becomes the
// root. If the block extends the current head the head advances in O(1);
// otherwise the head is recomputed over the leaf set.
func (lc *LongestChainPolicy) ProcessBlock(h *types.Header) (types.Hash, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	hash := h.Hash()
	if _, dup := lc.nodes[hash]; dup {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateBlock, hash.Hex())
	}

	if len(lc.nodes) == 0 {
		lc.nodes[hash] = &chainNode{hash: hash, parent: h.ParentHash, height: h.Height}
		lc.leaves[hash] = struct{}{}
		lc.root = hash
		lc.head = hash
		return hash, nil
	}

	parent, ok := lc.nodes[h.ParentHash]
	if !ok {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownParent, h.ParentHash.Hex())
	}
	parent.children = append(parent.children, hash)
	delete(lc.leaves, parent.hash)

	lc.nodes[hash] = &chainNode{hash: hash, parent: h.ParentHash, height: h.Height}
	lc.leaves[hash] = struct{}{}

	// Simple extension: the new block's parent is the current head, so
	// the head advances without recomputing over the leaf set.
	if h.ParentHash == lc.head {
		lc.head = hash
		return hash, nil
	}

	head, err := lc.chooseHeadLocked(lc.leafSliceLocked())
	if err != nil {
		return types.Hash{}, err
	}
	lc.head = head
	return head, nil
}

// ChooseHead returns the deepest leaf among the given candidates, breaking
// height ties by smallest hash. The tree is not mutated.
func (lc *LongestChainPolicy) ChooseHead(leaves []types.Hash) (types.Hash, error) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.chooseHeadLocked(leaves)
}

// chooseHeadLocked selects the winner among leaves. The comparison is a
// total order (height descending, hash ascending), so the result does not
// depend on the iteration order of the input. Must be called with the
// lock held.
func (lc *LongestChainPolicy) chooseHeadLocked(leaves []types.Hash) (types.Hash, error) {
	if len(leaves) == 0 {
		return types.Hash{}, ErrNoLeafBlocks
	}

	var (
		best    types.Hash
		bestSet bool
		bestH   uint64
	)
	for _, leaf := range leaves {
		node, ok := lc.nodes[leaf]
		if !ok {
			return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownBlock, leaf.Hex())
		}
		if !bestSet || node.height > bestH || (node.height == bestH && leaf.Less(best)) {
			best = leaf
			bestH = node.height
			bestSet = true
		}
	}
	return best, nil
}

// CanonicalChain walks parent pointers from the current head back to the
// root and returns the chain in genesis-to-head order.
func (lc *LongestChainPolicy) CanonicalChain() []types.Hash {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	if len(lc.nodes) == 0 {
		return nil
	}
	var chain []types.Hash
	for current := lc.head; ; {
		node, ok := lc.nodes[current]
		if !ok {
			break
		}
		chain = append(chain, current)
		if current == lc.root {
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
func (lc *LongestChainPolicy) Head() types.Hash {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.head
}

// Leaves returns the current leaf hashes in lexicographic order.
func (lc *LongestChainPolicy) Leaves() []types.Hash {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return sortHashes(lc.leafSliceLocked())
}

// HasBlock returns whether the given hash is present in the tree.
func (lc *LongestChainPolicy) HasBlock(hash types.Hash) bool {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	_, ok := lc.nodes[hash]
	return ok
}

// BlockCount returns the number of blocks in the tree.
func (lc *LongestChainPolicy) BlockCount() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return len(lc.nodes)
}

// leafSliceLocked collects the leaf set. Must be called with the lock held.
func (lc *LongestChainPolicy) leafSliceLocked() []types.Hash {
	leaves := make([]types.Hash, 0, len(lc.leaves))
	for h := range lc.leaves {
		leaves = append(leaves, h)
	}
	return leaves
}

// sortHashes sorts a hash slice in place in lexicographic order and
// returns it.
func sortHashes(hashes []types.Hash) []types.Hash {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
	return hashes
}
