package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// ErrUnsupportedDType is returned when a payload uses an element type that
// cannot be decoded to float32.
var ErrUnsupportedDType = errors.New("unsupported element type")

// DecodeElements converts a little-endian raw payload into float32 values in
// the same (row-major) order.
func DecodeElements(raw []byte, dtype DataType) ([]float32, error) {
	size := dtype.BytesPerElement()
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %s element size %d", len(raw), dtype, size)
	}

	switch dtype {
	case Float32:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil

	case Float16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, nil

	case BFloat16:
		return bfloat16.DecodeFloat32(raw), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
}
