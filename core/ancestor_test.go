package core

import (
	"errors"
	"testing"

	"github.com/canonchain/canonchain/core/types"
)

// headerMap is a BlockReader over a bare header set. Unlike MemoryIndex it
// enforces nothing, so tests can present disjoint or truncated trees.
type headerMap map[types.Hash]*types.Header

func (m headerMap) BlockByHash(hash types.Hash) (*types.Block, bool) {
	header, ok := m[hash]
	if !ok {
		return nil, false
	}
	return types.NewBlock(header, nil), true
}

func (m headerMap) HeaderByHash(hash types.Hash) (*types.Header, bool) {
	header, ok := m[hash]
	return header, ok
}

func (m headerMap) HeightByHash(hash types.Hash) (uint64, bool) {
	header, ok := m[hash]
	if !ok {
		return 0, false
	}
	return header.Height, true
}

func (m headerMap) add(blocks ...*types.Block) {
	for _, b := range blocks {
		m[b.Hash()] = b.Header()
	}
}

// chain appends n blocks on top of parent and returns them oldest-first.
func chain(m headerMap, parent *types.Block, n int, seed byte) []*types.Block {
	out := make([]*types.Block, 0, n)
	for i := 0; i < n; i++ {
		b := makeBlock(parent.Hash(), parent.Height()+1, seed)
		m.add(b)
		out = append(out, b)
		parent = b
	}
	return out
}

func TestCommonAncestor_SameBlock(t *testing.T) {
	m := headerMap{}
	genesis := makeBlock(types.Hash{}, 0, 1)
	m.add(genesis)

	resolver := NewAncestorResolver(m)
	got, err := resolver.CommonAncestor(genesis.Hash(), genesis.Hash())
	if err != nil {
		t.Fatalf("common ancestor: %v", err)
	}
	if got != genesis.Hash() {
		t.Fatal("ancestor of a block with itself is not the block")
	}
}

func TestCommonAncestor_OneSideIsAncestor(t *testing.T) {
	m := headerMap{}
	genesis := makeBlock(types.Hash{}, 0, 1)
	m.add(genesis)
	blocks := chain(m, genesis, 5, 1)
	resolver := NewAncestorResolver(m)

	// tip vs mid-chain block, in both argument orders.
	tip, mid := blocks[4], blocks[1]
	for _, pair := range [][2]types.Hash{{tip.Hash(), mid.Hash()}, {mid.Hash(), tip.Hash()}} {
		got, err := resolver.CommonAncestor(pair[0], pair[1])
		if err != nil {
			t.Fatalf("common ancestor: %v", err)
		}
		if got != mid.Hash() {
			t.Fatalf("want %s, got %s", mid.Hash().Hex(), got.Hex())
		}
	}
}

func TestCommonAncestor_ForkedBranches(t *testing.T) {
	m := headerMap{}
	genesis := makeBlock(types.Hash{}, 0, 1)
	m.add(genesis)
	trunk := chain(m, genesis, 3, 1)
	forkPoint := trunk[2]

	// Branches of different lengths hanging off the same block.
	left := chain(m, forkPoint, 2, 0xa)
	right := chain(m, forkPoint, 6, 0xb)

	resolver := NewAncestorResolver(m)
	got, err := resolver.CommonAncestor(left[1].Hash(), right[5].Hash())
	if err != nil {
		t.Fatalf("common ancestor: %v", err)
	}
	if got != forkPoint.Hash() {
		t.Fatalf("want fork point %s, got %s", forkPoint.Hash().Hex(), got.Hex())
	}
	if m[got].Height != 3 {
		t.Fatalf("ancestor height: want 3, got %d", m[got].Height)
	}
}

func TestCommonAncestor_SiblingsAtSameHeight(t *testing.T) {
	m := headerMap{}
	genesis := makeBlock(types.Hash{}, 0, 1)
	m.add(genesis)
	a := makeBlock(genesis.Hash(), 1, 0xa)
	b := makeBlock(genesis.Hash(), 1, 0xb)
	m.add(a, b)

	resolver := NewAncestorResolver(m)
	got, err := resolver.CommonAncestor(a.Hash(), b.Hash())
	if err != nil {
		t.Fatalf("common ancestor: %v", err)
	}
	if got != genesis.Hash() {
		t.Fatal("sibling ancestor is not the parent")
	}
}

func TestCommonAncestor_DisjointTrees(t *testing.T) {
	m := headerMap{}
	g1 := makeBlock(types.Hash{}, 0, 1)
	g2 := makeBlock(types.Hash{}, 0, 2)
	m.add(g1, g2)
	c1 := chain(m, g1, 3, 1)
	c2 := chain(m, g2, 3, 2)

	resolver := NewAncestorResolver(m)
	if _, err := resolver.CommonAncestor(c1[2].Hash(), c2[2].Hash()); !errors.Is(err, ErrNoCommonAncestor) {
		t.Fatalf("disjoint roots: want ErrNoCommonAncestor, got %v", err)
	}
}

func TestCommonAncestor_MissingHeader(t *testing.T) {
	m := headerMap{}
	genesis := makeBlock(types.Hash{}, 0, 1)
	m.add(genesis)
	blocks := chain(m, genesis, 3, 1)

	// Sever the chain below the tip.
	delete(m, blocks[1].Hash())

	resolver := NewAncestorResolver(m)
	if _, err := resolver.CommonAncestor(blocks[2].Hash(), genesis.Hash()); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("severed chain: want ErrBlockNotFound, got %v", err)
	}
	if _, err := resolver.CommonAncestor(types.HexToHash("0xdead"), genesis.Hash()); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("unknown input: want ErrBlockNotFound, got %v", err)
	}
}

func TestCommonAncestor_CachedClimb(t *testing.T) {
	m := headerMap{}
	genesis := makeBlock(types.Hash{}, 0, 1)
	m.add(genesis)
	trunk := chain(m, genesis, 8, 1)
	left := chain(m, trunk[3], 4, 0xa)
	right := chain(m, trunk[3], 4, 0xb)

	resolver := NewAncestorResolver(m)

	// Repeat resolutions over the same region; the second pass is served
	// from the header cache and must agree with the first.
	for i := 0; i < 2; i++ {
		got, err := resolver.CommonAncestor(left[3].Hash(), right[3].Hash())
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if got != trunk[3].Hash() {
			t.Fatalf("pass %d: want %s, got %s", i, trunk[3].Hash().Hex(), got.Hex())
		}
	}
}
