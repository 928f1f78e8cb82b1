package tensor

import (
	"fmt"
)

// MatVec performs fused dequantization + matrix-vector multiplication over a
// block-quantized weight matrix.
//
// Parameters:
//   - c: codec that produced the blocks
//   - rows, k: shape of the quantized matrix (rows × k)
//   - x: Float32 input vector of length k
//   - blocks: encoded block stream, k/BlockWidth blocks per row
//   - out: Float32 output vector of length rows
//
// This is the (1, k, rows) matmul: out[r] = Σ_i dequant(W[r,i]) * x[i].
// Each block is dequantized into a pooled scratch buffer, so no full Float32
// copy of the matrix is ever allocated.
func MatVec(c Codec, rows, k int, x []float32, blocks []byte, out []float32) error {
	if c == nil {
		return fmt.Errorf("codec cannot be nil")
	}
	if err := matVecValidateDimensions(c, rows, k, x, blocks, out); err != nil {
		return err
	}

	width := c.BlockWidth()
	size := c.BlockSize()
	blocksPerRow := k / width
	buf, release := getScratch(width)
	defer release()

	for r := 0; r < rows; r++ {
		sum := 0.0
		for b := 0; b < blocksPerRow; b++ {
			offset := (r*blocksPerRow + b) * size
			if err := c.Dequantize(blocks[offset:offset+size], buf); err != nil {
				return fmt.Errorf("row %d block %d: %w", r, b, err)
			}
			xs := x[b*width : (b+1)*width]
			for i, w := range buf {
				sum += float64(w) * float64(xs[i])
			}
		}
		out[r] = float32(sum)
	}

	return nil
}

// matVecValidateDimensions checks that every buffer agrees with rows × k.
func matVecValidateDimensions(c Codec, rows, k int, x []float32, blocks []byte, out []float32) error {
	if rows <= 0 || k <= 0 {
		return fmt.Errorf("invalid matrix shape %dx%d", rows, k)
	}
	if k%c.BlockWidth() != 0 {
		return fmt.Errorf("inner dim %d not multiple of %d", k, c.BlockWidth())
	}
	if len(x) != k {
		return fmt.Errorf("input vector length %d, expected %d", len(x), k)
	}
	if len(out) != rows {
		return fmt.Errorf("output vector length %d, expected %d", len(out), rows)
	}
	if want := rows * (k / c.BlockWidth()) * c.BlockSize(); len(blocks) != want {
		return fmt.Errorf("block stream is %d bytes, expected %d", len(blocks), want)
	}
	return nil
}
