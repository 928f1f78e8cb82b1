package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic opens every quantized artifact ("88QK" on disk).
	Magic uint32 = 0x4B513838

	// Version is the only artifact layout version written and accepted.
	Version uint32 = 1

	// HeaderSize is the encoded size of Header in bytes.
	HeaderSize = 24
)

// Header is the fixed prefix of a quantized artifact. All fields are stored
// as little-endian uint32 in declaration order.
type Header struct {
	Magic        uint32
	Version      uint32
	Rows         uint32
	K            uint32
	BlocksPerRow uint32
	DType        uint32 // element-type tag, see tensor.DataType.Tag
}

func (h Header) encode(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, &h)
}

func decodeHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) < HeaderSize {
		return h, fmt.Errorf("%w: truncated header (%d bytes)", ErrFormat, len(raw))
	}
	if err := binary.Read(bytes.NewReader(raw[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("failed to read header: %w", err)
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("%w: invalid magic: expected 0x%x, got 0x%x", ErrFormat, Magic, h.Magic)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	return h, nil
}
