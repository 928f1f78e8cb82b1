package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Q8_K quantization constants
const (
	QK_K            = 256 // Elements per super-block
	Q8_K_BLOCK_SIZE = 292 // Total bytes per block: 4 + 256 + 32
)

// BlockQ8_K represents a Q8_K quantization block.
// Each block contains 256 quantized float32 values compressed to 292 bytes.
//
// Structure (based on llama.cpp ggml-quants.c):
//   - D: Block scale (4 bytes, float32)
//   - Qs: Quantized values (256 bytes, int8)
//   - Bsums: Sums of each group of 16 quantized values (32 bytes, int16)
//
// Values are reconstructed as:
//
//	original_value ≈ d * qs[i]
type BlockQ8_K struct {
	D     float32         // [4 bytes] Block scale
	Qs    [QK_K]int8      // [256 bytes] Quantized values
	Bsums [QK_K / 16]int16 // [32 bytes] Group sums
}

// QuantizeQ8_K quantizes float32 values to Q8_K format.
// The input length must be a multiple of QK_K.
//
// The scale maps the element with the largest magnitude to -128 so the full
// signed range is used; the rest are rounded to nearest and clamped to 127.
func QuantizeQ8_K(input []float32) ([]BlockQ8_K, error) {
	if len(input)%QK_K != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d", len(input), QK_K)
	}

	blocks := make([]BlockQ8_K, len(input)/QK_K)
	for blockIdx := range blocks {
		block := &blocks[blockIdx]
		x := input[blockIdx*QK_K : (blockIdx+1)*QK_K]

		var amax, maxv float32
		for _, v := range x {
			if ax := float32(math.Abs(float64(v))); ax > amax {
				amax = ax
				maxv = v
			}
		}
		if amax == 0 {
			continue
		}

		iscale := -128 / maxv
		for i, v := range x {
			q := int(math.RoundToEven(float64(iscale * v)))
			if q > 127 {
				q = 127
			}
			if q < -128 {
				q = -128
			}
			block.Qs[i] = int8(q)
		}
		for g := range block.Bsums {
			var sum int16
			for i := 0; i < 16; i++ {
				sum += int16(block.Qs[g*16+i])
			}
			block.Bsums[g] = sum
		}
		block.D = 1 / iscale
	}

	return blocks, nil
}

// DequantizeQ8_K converts Q8_K quantized blocks to float32 values.
func DequantizeQ8_K(blocks []BlockQ8_K, output []float32) error {
	expectedSize := len(blocks) * QK_K
	if len(output) != expectedSize {
		return fmt.Errorf("output size mismatch: got %d, expected %d", len(output), expectedSize)
	}

	for blockIdx, block := range blocks {
		out := output[blockIdx*QK_K : (blockIdx+1)*QK_K]
		for i, q := range block.Qs {
			out[i] = block.D * float32(q)
		}
	}

	return nil
}

// parseQ8_KBlock parses a BlockQ8_K from raw little-endian bytes.
func parseQ8_KBlock(data []byte) BlockQ8_K {
	if len(data) < Q8_K_BLOCK_SIZE {
		return BlockQ8_K{}
	}

	block := BlockQ8_K{}

	// Parse D (4 bytes, offset 0)
	block.D = math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))

	// Parse Qs (256 bytes, offset 4)
	for i := range block.Qs {
		block.Qs[i] = int8(data[4+i])
	}

	// Parse Bsums (32 bytes, offset 260)
	for i := range block.Bsums {
		block.Bsums[i] = int16(binary.LittleEndian.Uint16(data[260+2*i:]))
	}

	return block
}

// putQ8_KBlock writes a BlockQ8_K to dst using the same layout parseQ8_KBlock reads.
func putQ8_KBlock(dst []byte, block *BlockQ8_K) {
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(block.D))
	for i, q := range block.Qs {
		dst[4+i] = byte(q)
	}
	for i, s := range block.Bsums {
		binary.LittleEndian.PutUint16(dst[260+2*i:], uint16(s))
	}
}

type q8kCodec struct{}

func (q8kCodec) Type() DataType  { return Q8_K }
func (q8kCodec) BlockWidth() int { return QK_K }
func (q8kCodec) BlockSize() int  { return Q8_K_BLOCK_SIZE }

func (c q8kCodec) Quantize(src []float32, dst []byte) error {
	if err := checkCodecSizes(c, len(src), len(dst)); err != nil {
		return err
	}
	blocks, err := QuantizeQ8_K(src)
	if err != nil {
		return err
	}
	for i := range blocks {
		putQ8_KBlock(dst[i*Q8_K_BLOCK_SIZE:], &blocks[i])
	}
	return nil
}

func (c q8kCodec) Dequantize(src []byte, dst []float32) error {
	if err := checkCodecSizes(c, len(dst), len(src)); err != nil {
		return err
	}
	for i := 0; i < len(src)/Q8_K_BLOCK_SIZE; i++ {
		block := parseQ8_KBlock(src[i*Q8_K_BLOCK_SIZE : (i+1)*Q8_K_BLOCK_SIZE])
		out := dst[i*QK_K : (i+1)*QK_K]
		for j, q := range block.Qs {
			out[j] = block.D * float32(q)
		}
	}
	return nil
}
