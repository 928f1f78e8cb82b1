package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Q8_0 quantization constants
const (
	QK8_0           = 32 // Elements per block
	Q8_0_BLOCK_SIZE = 34 // Total bytes per block: 2 + 32
)

// BlockQ8_0 represents a Q8_0 quantization block: 32 int8 values sharing a
// float16 scale.
//
//	original_value ≈ d * qs[i]
type BlockQ8_0 struct {
	D  uint16      // [2 bytes] Scale (float16)
	Qs [QK8_0]int8 // [32 bytes] Quantized values
}

// QuantizeQ8_0 quantizes float32 values to Q8_0 format.
// The input length must be a multiple of QK8_0.
func QuantizeQ8_0(input []float32) ([]BlockQ8_0, error) {
	if len(input)%QK8_0 != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d", len(input), QK8_0)
	}

	blocks := make([]BlockQ8_0, len(input)/QK8_0)
	for blockIdx := range blocks {
		block := &blocks[blockIdx]
		x := input[blockIdx*QK8_0 : (blockIdx+1)*QK8_0]

		var amax float32
		for _, v := range x {
			if ax := float32(math.Abs(float64(v))); ax > amax {
				amax = ax
			}
		}

		d := amax / 127
		block.D = float16.Fromfloat32(d).Bits()
		if d == 0 {
			continue
		}

		id := 1 / d
		for i, v := range x {
			q := math.Round(float64(v * id))
			if q > 127 {
				q = 127
			}
			if q < -128 {
				q = -128
			}
			block.Qs[i] = int8(q)
		}
	}

	return blocks, nil
}

// DequantizeQ8_0 converts Q8_0 quantized blocks to float32 values.
func DequantizeQ8_0(blocks []BlockQ8_0, output []float32) error {
	expectedSize := len(blocks) * QK8_0
	if len(output) != expectedSize {
		return fmt.Errorf("output size mismatch: got %d, expected %d", len(output), expectedSize)
	}

	for blockIdx, block := range blocks {
		d := float16.Frombits(block.D).Float32()
		out := output[blockIdx*QK8_0 : (blockIdx+1)*QK8_0]
		for i, q := range block.Qs {
			out[i] = d * float32(q)
		}
	}

	return nil
}

// parseQ8_0Block parses a BlockQ8_0 from raw little-endian bytes.
func parseQ8_0Block(data []byte) BlockQ8_0 {
	if len(data) < Q8_0_BLOCK_SIZE {
		return BlockQ8_0{}
	}

	block := BlockQ8_0{D: binary.LittleEndian.Uint16(data[0:2])}
	for i := range block.Qs {
		block.Qs[i] = int8(data[2+i])
	}
	return block
}

func putQ8_0Block(dst []byte, block *BlockQ8_0) {
	binary.LittleEndian.PutUint16(dst[0:2], block.D)
	for i, q := range block.Qs {
		dst[2+i] = byte(q)
	}
}

type q80Codec struct{}

func (q80Codec) Type() DataType  { return Q8_0 }
func (q80Codec) BlockWidth() int { return QK8_0 }
func (q80Codec) BlockSize() int  { return Q8_0_BLOCK_SIZE }

func (c q80Codec) Quantize(src []float32, dst []byte) error {
	if err := checkCodecSizes(c, len(src), len(dst)); err != nil {
		return err
	}
	blocks, err := QuantizeQ8_0(src)
	if err != nil {
		return err
	}
	for i := range blocks {
		putQ8_0Block(dst[i*Q8_0_BLOCK_SIZE:], &blocks[i])
	}
	return nil
}

func (c q80Codec) Dequantize(src []byte, dst []float32) error {
	if err := checkCodecSizes(c, len(dst), len(src)); err != nil {
		return err
	}
	for i := 0; i < len(src)/Q8_0_BLOCK_SIZE; i++ {
		block := parseQ8_0Block(src[i*Q8_0_BLOCK_SIZE : (i+1)*Q8_0_BLOCK_SIZE])
		d := float16.Frombits(block.D).Float32()
		out := dst[i*QK8_0 : (i+1)*QK8_0]
		for j, q := range block.Qs {
			out[j] = d * float32(q)
		}
	}
	return nil
}
