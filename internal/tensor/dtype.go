package tensor

import (
	"fmt"
	"strings"
)

// DataType represents the element type of a raw tensor payload or of a
// quantized block stream.
type DataType int

const (
	Float32  DataType = iota // 32-bit floating point
	Float16                  // IEEE 754 half precision
	BFloat16                 // brain float 16
	Q8_0                     // 8-bit blocks of 32 with an f16 scale
	Q8_K                     // 8-bit k-quant super-blocks of 256
)

// Element-type tags stored in quantized artifact headers.
const (
	tagQ8_0 uint32 = 0x08
	tagQ8_K uint32 = 0x18
)

// String returns the name of the data type
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "f32"
	case Float16:
		return "f16"
	case BFloat16:
		return "bf16"
	case Q8_0:
		return "q8_0"
	case Q8_K:
		return "q8_k"
	default:
		return "unknown"
	}
}

// BytesPerElement returns the number of bytes per element for unquantized
// types. Quantized types return 0; use a Codec to size their payloads.
func (dt DataType) BytesPerElement() int {
	switch dt {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	default:
		return 0
	}
}

// Quantized reports whether values of this type are stored in blocks.
func (dt DataType) Quantized() bool {
	return dt == Q8_0 || dt == Q8_K
}

// Tag returns the artifact header tag for a quantized type.
func (dt DataType) Tag() uint32 {
	switch dt {
	case Q8_0:
		return tagQ8_0
	case Q8_K:
		return tagQ8_K
	default:
		return 0
	}
}

// DataTypeForTag returns the quantized type stored under an artifact header
// tag.
func DataTypeForTag(tag uint32) (DataType, error) {
	switch tag {
	case tagQ8_0:
		return Q8_0, nil
	case tagQ8_K:
		return Q8_K, nil
	default:
		return 0, fmt.Errorf("%w: tag 0x%x", ErrUnsupportedDType, tag)
	}
}

// ParseDataType parses a data type name. Both the lowercase names returned by
// String and the upper-case safetensors spellings ("F32", "BF16") are accepted.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32":
		return Float32, nil
	case "f16", "float16":
		return Float16, nil
	case "bf16", "bfloat16":
		return BFloat16, nil
	case "q8_0":
		return Q8_0, nil
	case "q8_k", "q8k":
		return Q8_K, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (dt DataType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so data types can be
// decoded straight out of configuration files.
func (dt *DataType) UnmarshalText(text []byte) error {
	v, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*dt = v
	return nil
}
