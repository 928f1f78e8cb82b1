package strategy

import (
	"regexp"
	"strconv"

	"github.com/artem1984A/quantize-strategy/internal/permute"
)

var attnProjRe = regexp.MustCompile(`^model\.layers\.(\d+)\.self_attn\.(q|k|v|o)_proj\.weight$`)

// AttentionAware shares one permutation across the q/k/v projections of a
// layer and leaves the output projection untouched. Every other tensor is
// energy ordered.
type AttentionAware struct {
	cache *LayerCache
}

// NewAttentionAware returns an AttentionAware strategy backed by cache. A nil
// cache gets a private one.
func NewAttentionAware(cache *LayerCache) *AttentionAware {
	if cache == nil {
		cache = NewLayerCache()
	}
	return &AttentionAware{cache: cache}
}

func (a *AttentionAware) Name() string { return "AttentionAware" }

func (a *AttentionAware) Apply(data []float32, rows, k int, name string) ([]float32, permute.Permutation, error) {
	if err := checkShape(data, rows, k); err != nil {
		return nil, nil, err
	}

	layer, role, ok := parseAttentionProj(name)
	if !ok {
		return energyOrder(data, rows, k)
	}

	if role == "o" {
		out := make([]float32, len(data))
		copy(out, data)
		return out, nil, nil
	}

	p, err := a.cache.GetOrCompute(layer, k, func() (permute.Permutation, error) {
		return energyPermutation(data, rows, k), nil
	})
	if err != nil {
		return nil, nil, err
	}

	out, err := permute.Apply(rows, k, data, p)
	if err != nil {
		return nil, nil, err
	}
	return out, p, nil
}

// parseAttentionProj extracts the layer id and projection role (q, k, v or o)
// from an attention projection weight name.
func parseAttentionProj(name string) (uint32, string, bool) {
	m := attnProjRe.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	layer, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(layer), m[2], true
}
