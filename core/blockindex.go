package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/canonchain/canonchain/core/types"
)

// Block index errors.
var (
	ErrKnownBlock    = errors.New("index: block already known")
	ErrUnknownParent = errors.New("index: parent not indexed")
	ErrBlockNotFound = errors.New("index: block not found")
)

// BlockReader provides read access to indexed blocks. The ancestor
// resolver and reorg executor consume it.
type BlockReader interface {
	BlockByHash(hash types.Hash) (*types.Block, bool)
	HeaderByHash(hash types.Hash) (*types.Header, bool)
	HeightByHash(hash types.Hash) (uint64, bool)
}

// BlockIndex extends BlockReader with the structural queries the engine
// needs: membership, the leaf set, and the genesis anchor.
type BlockIndex interface {
	BlockReader
	Put(b *types.Block) error
	HasBlock(hash types.Hash) bool
	LeafBlocks() []types.Hash
	GenesisHash() types.Hash
}

// MemoryIndex is an in-memory block store. The first block put becomes the
// genesis anchor; every later block must name an indexed parent. Blocks are
// never removed, so lookups stay valid across reorgs. Thread-safe.
type MemoryIndex struct {
	mu       sync.RWMutex
	blocks   map[types.Hash]*types.Block
	children map[types.Hash]int
	genesis  types.Hash
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		blocks:   make(map[types.Hash]*types.Block),
		children: make(map[types.Hash]int),
	}
}

// Put stores a block. The first block is accepted without a parent and
// becomes the genesis anchor; all others require their parent to be
// indexed already.
func (idx *MemoryIndex) Put(b *types.Block) error {
	if b == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	hash := b.Hash()
	if _, dup := idx.blocks[hash]; dup {
		return fmt.Errorf("%w: %s", ErrKnownBlock, hash.Hex())
	}

	if len(idx.blocks) == 0 {
		idx.blocks[hash] = b
		idx.genesis = hash
		return nil
	}

	parent := b.ParentHash()
	if _, ok := idx.blocks[parent]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParent, parent.Hex())
	}
	idx.blocks[hash] = b
	idx.children[parent]++
	return nil
}

// BlockByHash returns the indexed block, if any.
func (idx *MemoryIndex) BlockByHash(hash types.Hash) (*types.Block, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	b, ok := idx.blocks[hash]
	return b, ok
}

// HeaderByHash returns a copy of the indexed block's header, if any.
func (idx *MemoryIndex) HeaderByHash(hash types.Hash) (*types.Header, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	b, ok := idx.blocks[hash]
	if !ok {
		return nil, false
	}
	return b.Header(), true
}

// HeightByHash returns the indexed block's height, if any.
func (idx *MemoryIndex) HeightByHash(hash types.Hash) (uint64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	b, ok := idx.blocks[hash]
	if !ok {
		return 0, false
	}
	return b.Height(), true
}

// HasBlock returns whether the hash is indexed.
func (idx *MemoryIndex) HasBlock(hash types.Hash) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.blocks[hash]
	return ok
}

// LeafBlocks returns the hashes of all blocks without children, sorted so
// enumeration is deterministic.
func (idx *MemoryIndex) LeafBlocks() []types.Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	leaves := make([]types.Hash, 0)
	for hash := range idx.blocks {
		if idx.children[hash] == 0 {
			leaves = append(leaves, hash)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Less(leaves[j]) })
	return leaves
}

// GenesisHash returns the anchor block hash, or the zero hash when the
// index is empty.
func (idx *MemoryIndex) GenesisHash() types.Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.genesis
}

// Len returns the number of indexed blocks.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.blocks)
}
