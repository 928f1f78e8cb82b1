package pipeline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

// Metrics holds the reconstruction error of one quantized tensor measured
// with two different probe vectors.
type Metrics struct {
	// Uniform is the MSE of W·1, i.e. of every row sum.
	Uniform float64
	// Gradient is the MSE of W·g with g[i] = (i+1)/k.
	Gradient float64
}

// Divergence returns the absolute difference of the two MSEs.
func (m Metrics) Divergence() float64 {
	return math.Abs(m.Uniform - m.Gradient)
}

// Validate compares the quantized matvec against the float matrix it was
// built from, for both probes. data must be the exact matrix that was
// quantized (after any permutation).
func Validate(codec tensor.Codec, rows, k int, data []float32, blocks []byte) (Metrics, error) {
	uniform := make([]float32, k)
	gradient := make([]float32, k)
	for i := range uniform {
		uniform[i] = 1
		gradient[i] = float32(i+1) / float32(k)
	}

	var m Metrics
	var err error
	if m.Uniform, err = probeMSE(codec, rows, k, data, blocks, uniform); err != nil {
		return m, fmt.Errorf("uniform probe: %w", err)
	}
	if m.Gradient, err = probeMSE(codec, rows, k, data, blocks, gradient); err != nil {
		return m, fmt.Errorf("gradient probe: %w", err)
	}
	return m, nil
}

func probeMSE(codec tensor.Codec, rows, k int, data []float32, blocks []byte, probe []float32) (float64, error) {
	x := make([]float64, k)
	for i, v := range probe {
		x[i] = float64(v)
	}

	expected := make([]float64, rows)
	row := make([]float64, k)
	for r := range expected {
		for i, v := range data[r*k : (r+1)*k] {
			row[i] = float64(v)
		}
		expected[r] = floats.Dot(row, x)
	}

	out := make([]float32, rows)
	if err := tensor.MatVec(codec, rows, k, probe, blocks, out); err != nil {
		return 0, err
	}
	actual := make([]float64, rows)
	for r, v := range out {
		actual[r] = float64(v)
	}

	d := floats.Distance(expected, actual, 2)
	return d * d / float64(rows), nil
}
