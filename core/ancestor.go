package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/lru"

	"github.com/canonchain/canonchain/core/types"
)

// ErrNoCommonAncestor means two blocks share no ancestor: they descend from
// distinct genesis blocks. This is unrecoverable for the engine.
var ErrNoCommonAncestor = errors.New("ancestor: no common ancestor")

// DefaultAncestorCacheSize bounds the resolver's header cache.
const DefaultAncestorCacheSize = 4096

// AncestorResolver computes lowest common ancestors over a BlockReader.
// Headers fetched during walks are kept in an LRU cache so repeated deep
// walks around the same fork point do not re-hit the index.
type AncestorResolver struct {
	reader BlockReader
	cache  *lru.Cache[types.Hash, *types.Header]
}

// NewAncestorResolver creates a resolver over the given reader.
func NewAncestorResolver(reader BlockReader) *AncestorResolver {
	return &AncestorResolver{
		reader: reader,
		cache:  lru.NewCache[types.Hash, *types.Header](DefaultAncestorCacheSize),
	}
}

// CommonAncestor returns the lowest common ancestor of a and b: the
// highest block on both ancestry paths. A block is its own ancestor, so
// when one input is an ancestor of the other it is returned directly.
// Cost is O(height difference + distance to the fork point).
func (ar *AncestorResolver) CommonAncestor(a, b types.Hash) (types.Hash, error) {
	if a == b {
		return a, nil
	}

	ha, err := ar.header(a)
	if err != nil {
		return types.Hash{}, err
	}
	hb, err := ar.header(b)
	if err != nil {
		return types.Hash{}, err
	}

	// Climb the deeper side until both walks sit at the same height.
	for ha.Height > hb.Height {
		if ha, err = ar.header(ha.ParentHash); err != nil {
			return types.Hash{}, err
		}
	}
	for hb.Height > ha.Height {
		if hb, err = ar.header(hb.ParentHash); err != nil {
			return types.Hash{}, err
		}
	}

	// Lockstep toward the root until the paths meet.
	for ha.Hash() != hb.Hash() {
		if ha.Height == 0 {
			return types.Hash{}, fmt.Errorf("%w: %s and %s", ErrNoCommonAncestor, a.Hex(), b.Hex())
		}
		if ha, err = ar.header(ha.ParentHash); err != nil {
			return types.Hash{}, err
		}
		if hb, err = ar.header(hb.ParentHash); err != nil {
			return types.Hash{}, err
		}
	}
	return ha.Hash(), nil
}

// header fetches a header through the cache.
func (ar *AncestorResolver) header(hash types.Hash) (*types.Header, error) {
	if h, ok := ar.cache.Get(hash); ok {
		return h, nil
	}
	h, ok := ar.reader.HeaderByHash(hash)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash.Hex())
	}
	ar.cache.Add(hash, h)
	return h, nil
}
