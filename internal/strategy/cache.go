package strategy

import (
	"fmt"
	"sync"

	"github.com/artem1984A/quantize-strategy/internal/permute"
)

// LayerCache holds one permutation per transformer layer so the query, key
// and value projections of a layer share a column order. Entries are never
// evicted. A LayerCache is safe for concurrent use.
type LayerCache struct {
	mu    sync.Mutex
	perms map[uint32]permute.Permutation
}

// NewLayerCache returns an empty cache.
func NewLayerCache() *LayerCache {
	return &LayerCache{perms: make(map[uint32]permute.Permutation)}
}

// GetOrCompute returns the permutation stored for layer, calling compute and
// storing its result on a miss. The lookup and insert happen under one lock,
// so concurrent callers for the same layer all observe the first result.
// Callers receive a copy and may modify it freely.
func (c *LayerCache) GetOrCompute(layer uint32, k int, compute func() (permute.Permutation, error)) (permute.Permutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.perms[layer]; ok {
		if len(p) != k {
			return nil, fmt.Errorf("layer %d: cached permutation has width %d, tensor has %d", layer, len(p), k)
		}
		return p.Clone(), nil
	}

	p, err := compute()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(k); err != nil {
		return nil, fmt.Errorf("layer %d: %w", layer, err)
	}
	c.perms[layer] = p.Clone()
	return p, nil
}

// Len returns the number of cached layers.
func (c *LayerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.perms)
}
