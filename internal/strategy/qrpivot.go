package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/artem1984A/quantize-strategy/internal/logging"
	"github.com/artem1984A/quantize-strategy/internal/permute"
)

// Matrices smaller than this in either dimension are energy ordered; the
// factorization overhead buys nothing there.
const qrMinDim = 32

var errNumerical = errors.New("numerical failure in QR pivoting")

// QRPivot ranks columns with a partial Householder QR factorization with
// column pivoting. Only the first few hundred columns are pivoted on wide
// matrices; the remainder is ordered by residual norm.
type QRPivot struct {
	regularization float64
}

// NewQRPivot returns a QRPivot strategy. Columns whose residual norm falls
// below regularization are treated as eliminated. A non-positive value selects
// DefaultRegularization.
func NewQRPivot(regularization float64) *QRPivot {
	if regularization <= 0 {
		regularization = DefaultRegularization
	}
	return &QRPivot{regularization: regularization}
}

func (q *QRPivot) Name() string { return "QRPivot" }

// Apply never fails on a numerical problem: a factorization that produces
// non-finite values is discarded and the data is energy ordered instead.
func (q *QRPivot) Apply(data []float32, rows, k int, name string) ([]float32, permute.Permutation, error) {
	if err := checkShape(data, rows, k); err != nil {
		return nil, nil, err
	}
	if rows < qrMinDim || k < qrMinDim {
		return energyOrder(data, rows, k)
	}

	p, err := q.pivotOrder(data, rows, k)
	if err != nil {
		logging.WithTensor(name).WithError(err).Warn("QR pivoting failed, falling back to energy order")
		return energyOrder(data, rows, k)
	}

	out, err := permute.Apply(rows, k, data, p)
	if err != nil {
		return nil, nil, err
	}
	if strings.Contains(name, "layers.0.") {
		logging.WithTensor(name).Debugf("QR pivot order starts %v", p[:min(5, len(p))])
	}
	return out, p, nil
}

// pivotSteps returns how many columns get a full pivot step for width k.
func pivotSteps(k int) int {
	switch {
	case k <= 64:
		return k
	case k <= 256:
		return k * 3 / 4
	case k <= 512:
		return k / 2
	case k <= 1024:
		return k / 3
	case k <= 2048:
		return k / 4
	default:
		s := k / 8
		if s < 256 {
			s = 256
		}
		if s > 512 {
			s = 512
		}
		return s
	}
}

// pivotOrder computes the column order. The working matrix is a column-major
// float64 copy so that column swaps are slice swaps and every reflector
// update runs over contiguous memory.
func (q *QRPivot) pivotOrder(data []float32, rows, k int) (permute.Permutation, error) {
	cols := make([][]float64, k)
	backing := make([]float64, rows*k)
	for j := range cols {
		cols[j] = backing[j*rows : (j+1)*rows]
	}
	for r := 0; r < rows; r++ {
		for j, v := range data[r*k : (r+1)*k] {
			cols[j][r] = float64(v)
		}
	}

	norms := make([]float64, k)
	for j, c := range cols {
		norms[j] = floats.Dot(c, c)
		if !finite(norms[j]) {
			return nil, fmt.Errorf("%w: column %d has non-finite norm", errNumerical, j)
		}
	}

	perm := permute.Identity(k)
	steps := min(pivotSteps(k), rows)
	v := make([]float64, rows)

	for s := 0; s < steps; s++ {
		best := s
		for j := s + 1; j < k; j++ {
			if norms[j] > norms[best] {
				best = j
			}
		}
		if best != s {
			cols[s], cols[best] = cols[best], cols[s]
			perm[s], perm[best] = perm[best], perm[s]
			norms[s], norms[best] = norms[best], norms[s]
		}

		if math.Sqrt(norms[s]) < q.regularization {
			continue
		}
		if err := q.reflect(cols, norms, v[:rows-s], s); err != nil {
			return nil, fmt.Errorf("step %d: %w", s, err)
		}
	}

	if steps < k {
		rest := make([]int, k-steps)
		for i := range rest {
			rest[i] = steps + i
		}
		sort.SliceStable(rest, func(a, b int) bool {
			return norms[rest[a]] > norms[rest[b]]
		})
		tail := make([]int, len(rest))
		for i, j := range rest {
			tail[i] = perm[j]
		}
		copy(perm[steps:], tail)
	}

	return perm, nil
}

// reflect applies one Householder step on column s to every column right of
// it and refreshes their residual squared norms below row s. v is scratch of
// length rows-s.
func (q *QRPivot) reflect(cols [][]float64, norms, v []float64, s int) error {
	x := cols[s][s:]
	alpha := -math.Copysign(floats.Norm(x, 2), x[0])
	if math.Abs(alpha) < q.regularization {
		return nil
	}

	copy(v, x)
	v[0] -= alpha
	vv := floats.Dot(v, v)
	if vv < q.regularization {
		return nil
	}
	if !finite(vv) {
		return fmt.Errorf("%w: reflector norm %v", errNumerical, vv)
	}

	for j := s + 1; j < len(cols); j++ {
		y := cols[j][s:]
		f := 2 * floats.Dot(v, y) / vv
		floats.AddScaled(y, -f, v)

		tail := cols[j][s+1:]
		norms[j] = floats.Dot(tail, tail)
		if !finite(norms[j]) {
			return fmt.Errorf("%w: column %d norm %v", errNumerical, j, norms[j])
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
