package tensor

import "fmt"

// Codec converts runs of float32 values into fixed-size quantized blocks and
// back. Every block is serialized field by field in little-endian order, so
// encoded streams can be written to disk as-is.
type Codec interface {
	// Type returns the quantized data type produced by the codec
	Type() DataType

	// BlockWidth returns the number of values covered by one block
	BlockWidth() int

	// BlockSize returns the encoded size of one block in bytes
	BlockSize() int

	// Quantize encodes src into dst. len(src) must be a multiple of
	// BlockWidth and len(dst) exactly len(src)/BlockWidth*BlockSize.
	Quantize(src []float32, dst []byte) error

	// Dequantize decodes src into dst, the inverse of Quantize.
	Dequantize(src []byte, dst []float32) error
}

// NewCodec returns the block codec for a quantized data type.
func NewCodec(dt DataType) (Codec, error) {
	switch dt {
	case Q8_K:
		return q8kCodec{}, nil
	case Q8_0:
		return q80Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: no block codec for %s", ErrUnsupportedDType, dt)
	}
}

// QuantizeRows quantizes a rows×k row-major matrix row by row and returns the
// concatenated block stream (k/BlockWidth blocks per row).
func QuantizeRows(c Codec, rows, k int, data []float32) ([]byte, error) {
	if k%c.BlockWidth() != 0 {
		return nil, fmt.Errorf("inner dim %d not multiple of %d", k, c.BlockWidth())
	}
	if len(data) != rows*k {
		return nil, fmt.Errorf("data length %d does not match %dx%d", len(data), rows, k)
	}

	rowBytes := k / c.BlockWidth() * c.BlockSize()
	out := make([]byte, rows*rowBytes)
	for r := 0; r < rows; r++ {
		if err := c.Quantize(data[r*k:(r+1)*k], out[r*rowBytes:(r+1)*rowBytes]); err != nil {
			return nil, fmt.Errorf("quantizing row %d: %w", r, err)
		}
	}
	return out, nil
}

func checkCodecSizes(c Codec, values, encoded int) error {
	if values%c.BlockWidth() != 0 {
		return fmt.Errorf("%s: %d values is not a multiple of block width %d", c.Type(), values, c.BlockWidth())
	}
	if want := values / c.BlockWidth() * c.BlockSize(); encoded != want {
		return fmt.Errorf("%s: encoded size mismatch: got %d bytes, expected %d", c.Type(), encoded, want)
	}
	return nil
}
