// Package safetensors reads tensor checkpoints in the safetensors format: an
// 8-byte little-endian header length, a JSON header describing every tensor,
// then the raw tensor payloads.
package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/exp/maps"

	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

// maxHeaderSize bounds the JSON header so a corrupt length cannot trigger a
// huge allocation.
const maxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

// TensorInfo describes one tensor in a safetensors file
type TensorInfo struct {
	Name        string   `json:"-"`
	DType       string   `json:"dtype"`
	Shape       []uint64 `json:"shape"`
	DataOffsets []int64  `json:"data_offsets"`
}

// NumElements returns the product of the tensor's dimensions
func (ti *TensorInfo) NumElements() uint64 {
	n := uint64(1)
	for _, d := range ti.Shape {
		n *= d
	}
	return n
}

// Size returns the payload size in bytes
func (ti *TensorInfo) Size() int64 {
	return ti.DataOffsets[1] - ti.DataOffsets[0]
}

// DataType maps the safetensors dtype string to a tensor.DataType.
// Element types the decoder cannot handle return tensor.ErrUnsupportedDType.
func (ti *TensorInfo) DataType() (tensor.DataType, error) {
	dt, err := tensor.ParseDataType(ti.DType)
	if err != nil {
		return 0, err
	}
	if dt.Quantized() {
		return 0, fmt.Errorf("%w: %s", tensor.ErrUnsupportedDType, ti.DType)
	}
	return dt, nil
}

// File is a parsed safetensors checkpoint. Tensor payloads are read on
// demand.
type File struct {
	path       string
	dataOffset int64

	Metadata map[string]string
	Tensors  map[string]*TensorInfo
}

// Parse opens a safetensors file and parses its header
func Parse(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open safetensors file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat safetensors file: %w", err)
	}

	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}
	if n > maxHeaderSize || int64(n) > stat.Size()-8 {
		return nil, fmt.Errorf("invalid header length %d for %d-byte file", n, stat.Size())
	}

	b := bytes.NewBuffer(make([]byte, 0, n))
	if _, err := io.CopyN(b, f, int64(n)); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(b).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}

	st := &File{
		path:       path,
		dataOffset: 8 + int64(n),
		Metadata:   make(map[string]string),
		Tensors:    make(map[string]*TensorInfo, len(raw)),
	}
	dataSize := stat.Size() - st.dataOffset

	for key, msg := range raw {
		if key == metadataKey {
			if err := json.Unmarshal(msg, &st.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
			continue
		}

		info := &TensorInfo{Name: key}
		if err := json.Unmarshal(msg, info); err != nil {
			return nil, fmt.Errorf("failed to decode tensor %s: %w", key, err)
		}
		if err := info.validate(dataSize); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", key, err)
		}
		st.Tensors[key] = info
	}

	return st, nil
}

func (ti *TensorInfo) validate(dataSize int64) error {
	if ti.DType == "" {
		return errors.New("missing dtype")
	}
	if len(ti.DataOffsets) != 2 {
		return fmt.Errorf("expected 2 data offsets, got %d", len(ti.DataOffsets))
	}
	begin, end := ti.DataOffsets[0], ti.DataOffsets[1]
	if begin < 0 || end < begin || end > dataSize {
		return fmt.Errorf("data offsets [%d, %d) outside %d-byte payload", begin, end, dataSize)
	}
	if dt, err := tensor.ParseDataType(ti.DType); err == nil && dt.BytesPerElement() > 0 {
		if want := int64(ti.NumElements()) * int64(dt.BytesPerElement()); want != end-begin {
			return fmt.Errorf("payload is %d bytes, shape %v needs %d", end-begin, ti.Shape, want)
		}
	}
	return nil
}

// Path returns the file the checkpoint was parsed from
func (st *File) Path() string { return st.path }

// Names returns all tensor names in sorted order
func (st *File) Names() []string {
	keys := maps.Keys(st.Tensors)
	slices.Sort(keys)
	return keys
}

// Infos returns tensor descriptions in name order
func (st *File) Infos() []*TensorInfo {
	names := st.Names()
	infos := make([]*TensorInfo, len(names))
	for i, name := range names {
		infos[i] = st.Tensors[name]
	}
	return infos
}

// ReadTensor reads the raw payload of the named tensor
func (st *File) ReadTensor(name string) ([]byte, error) {
	info, ok := st.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found in safetensors file", name)
	}

	f, err := os.Open(st.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open safetensors file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, st.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return buf, nil
}
