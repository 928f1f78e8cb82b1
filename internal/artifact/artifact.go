// Package artifact reads and writes quantized weight artifacts and their
// permutation sidecars.
//
// An artifact is a 24-byte Header followed by Rows×BlocksPerRow codec blocks
// with no padding. When the columns were permuted before quantization, a
// sidecar with the same base name and a ".perm" extension records the
// permutation so it can be undone at load time.
package artifact

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/artem1984A/quantize-strategy/internal/permute"
	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

// ErrFormat marks a file whose contents do not match the artifact or sidecar
// layout.
var ErrFormat = errors.New("invalid artifact format")

// Artifact is a loaded quantized tensor.
type Artifact struct {
	Path   string
	Header Header
	Blocks []byte

	// Perm is nil when no sidecar exists.
	Perm permute.Permutation
}

// Rows returns the number of rows in the quantized matrix
func (a *Artifact) Rows() int { return int(a.Header.Rows) }

// K returns the number of columns in the quantized matrix
func (a *Artifact) K() int { return int(a.Header.K) }

// Extension returns the artifact file extension for a codec type.
func Extension(dt tensor.DataType) string {
	switch dt {
	case tensor.Q8_0:
		return ".q80"
	default:
		return ".q8k"
	}
}

// Write stores a rows×k matrix quantized by codec. blocks must hold exactly
// rows × k/BlockWidth encoded blocks.
func Write(path string, rows, k int, codec tensor.Codec, blocks []byte) error {
	if rows <= 0 || k <= 0 || k%codec.BlockWidth() != 0 {
		return fmt.Errorf("invalid artifact shape %dx%d for %s", rows, k, codec.Type())
	}
	bpr := k / codec.BlockWidth()
	if want := rows * bpr * codec.BlockSize(); len(blocks) != want {
		return fmt.Errorf("block payload is %d bytes, expected %d", len(blocks), want)
	}

	hdr := Header{
		Magic:        Magic,
		Version:      Version,
		Rows:         uint32(rows),
		K:            uint32(k),
		BlocksPerRow: uint32(bpr),
		DType:        codec.Type().Tag(),
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := hdr.encode(w); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(blocks); err != nil {
		return fmt.Errorf("failed to write blocks: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return f.Close()
}

// ReadHeader reads and checks only the header of an artifact.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	raw := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Header{}, fmt.Errorf("failed to read header: %w", err)
	}
	return decodeHeader(raw[:n])
}

// Load reads an artifact written with codec and its sidecar, if any.
func Load(path string, codec tensor.Codec) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	hdr, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if hdr.DType != codec.Type().Tag() {
		return nil, fmt.Errorf("%w: %s: element tag 0x%x, expected 0x%x (%s)",
			ErrFormat, path, hdr.DType, codec.Type().Tag(), codec.Type())
	}
	if hdr.Rows == 0 {
		return nil, fmt.Errorf("%w: %s: header declares zero rows", ErrFormat, path)
	}
	if hdr.K == 0 || int(hdr.BlocksPerRow)*codec.BlockWidth() != int(hdr.K) {
		return nil, fmt.Errorf("%w: %s: %d blocks per row cannot hold k=%d",
			ErrFormat, path, hdr.BlocksPerRow, hdr.K)
	}

	payload := int64(hdr.Rows) * int64(hdr.BlocksPerRow) * int64(codec.BlockSize())
	if int64(len(raw)) != HeaderSize+payload {
		return nil, fmt.Errorf("%w: %s: size mismatch: got %d bytes, expected %d",
			ErrFormat, path, len(raw), HeaderSize+payload)
	}

	perm, err := LoadPermutation(path, int(hdr.K))
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Path:   path,
		Header: hdr,
		Blocks: raw[HeaderSize:],
		Perm:   perm,
	}, nil
}

// Restore dequantizes the artifact and undoes its column permutation,
// returning the matrix in its original column order.
func (a *Artifact) Restore(codec tensor.Codec) ([]float32, error) {
	rows, k := a.Rows(), a.K()
	out := make([]float32, rows*k)
	if err := codec.Dequantize(a.Blocks, out); err != nil {
		return nil, fmt.Errorf("failed to dequantize %s: %w", a.Path, err)
	}
	if a.Perm == nil || rows == 0 {
		return out, nil
	}
	return permute.Apply(rows, k, out, a.Perm.Inverse())
}
