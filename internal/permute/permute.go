// Package permute provides the column-permutation primitives shared by every
// permutation strategy: column energies, energy ordering and application.
package permute

import (
	"fmt"
	"math"
	"sort"
)

// Permutation maps output column i to input column p[i]. A valid permutation
// of width k is a bijection on [0, k).
type Permutation []int

// Identity returns the identity permutation of width k.
func Identity(k int) Permutation {
	p := make(Permutation, k)
	for i := range p {
		p[i] = i
	}
	return p
}

// Validate reports an error unless p is a bijection on [0, k).
func (p Permutation) Validate(k int) error {
	if len(p) != k {
		return fmt.Errorf("permutation has %d entries, expected %d", len(p), k)
	}
	seen := make([]bool, k)
	for i, src := range p {
		if src < 0 || src >= k {
			return fmt.Errorf("permutation[%d] = %d out of range [0, %d)", i, src, k)
		}
		if seen[src] {
			return fmt.Errorf("permutation[%d] = %d repeats an earlier index", i, src)
		}
		seen[src] = true
	}
	return nil
}

// Inverse returns q such that applying p then q restores the original order.
// p must be valid.
func (p Permutation) Inverse() Permutation {
	inv := make(Permutation, len(p))
	for i, src := range p {
		inv[src] = i
	}
	return inv
}

// Clone returns a copy of p.
func (p Permutation) Clone() Permutation {
	if p == nil {
		return nil
	}
	return append(Permutation(nil), p...)
}

// IsIdentity reports whether p leaves every column in place.
func (p Permutation) IsIdentity() bool {
	for i, src := range p {
		if i != src {
			return false
		}
	}
	return true
}

// ColumnEnergies returns the L2 norm of every column of a rows×k row-major
// matrix. Sums are accumulated in float64 and narrowed at the end.
func ColumnEnergies(rows, k int, data []float32) []float32 {
	sums := make([]float64, k)
	for r := 0; r < rows; r++ {
		row := data[r*k : (r+1)*k]
		for j, v := range row {
			fv := float64(v)
			sums[j] += fv * fv
		}
	}

	energies := make([]float32, k)
	for j, s := range sums {
		energies[j] = float32(math.Sqrt(s))
	}
	return energies
}

// OrderByEnergy returns column indices sorted by descending energy.
// The relative order of equal energies is not specified.
func OrderByEnergy(energies []float32) Permutation {
	p := Identity(len(energies))
	sort.Slice(p, func(a, b int) bool {
		return energies[p[a]] > energies[p[b]]
	})
	return p
}

// Apply builds a new rows×k matrix with out[r][i] = data[r][p[i]]. The input
// is never modified.
func Apply(rows, k int, data []float32, p Permutation) ([]float32, error) {
	if rows <= 0 || k <= 0 {
		return nil, fmt.Errorf("invalid matrix shape %dx%d", rows, k)
	}
	if len(data) != rows*k {
		return nil, fmt.Errorf("data length %d does not match %dx%d", len(data), rows, k)
	}
	if err := p.Validate(k); err != nil {
		return nil, err
	}

	out := make([]float32, rows*k)
	for r := 0; r < rows; r++ {
		src := data[r*k : (r+1)*k]
		dst := out[r*k : (r+1)*k]
		for j, from := range p {
			dst[j] = src[from]
		}
	}
	return out, nil
}
