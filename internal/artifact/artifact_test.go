package artifact

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artem1984A/quantize-strategy/internal/permute"
	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

func mustCodec(t *testing.T, dt tensor.DataType) tensor.Codec {
	t.Helper()
	c, err := tensor.NewCodec(dt)
	require.NoError(t, err)
	return c
}

func writeTestArtifact(t *testing.T, dir string, codec tensor.Codec, rows, k int) (string, []float32) {
	t.Helper()
	data := make([]float32, rows*k)
	for i := range data {
		data[i] = float32(math.Sin(float64(i) * 0.13))
	}
	blocks, err := tensor.QuantizeRows(codec, rows, k, data)
	require.NoError(t, err)

	path := filepath.Join(dir, "w"+Extension(codec.Type()))
	require.NoError(t, Write(path, rows, k, codec, blocks))
	return path, data
}

func TestRoundTrip(t *testing.T) {
	for _, dt := range []tensor.DataType{tensor.Q8_0, tensor.Q8_K} {
		t.Run(dt.String(), func(t *testing.T) {
			codec := mustCodec(t, dt)
			rows, k := 4, 2*codec.BlockWidth()
			path, _ := writeTestArtifact(t, t.TempDir(), codec, rows, k)

			a, err := Load(path, codec)
			require.NoError(t, err)
			assert.Equal(t, Magic, a.Header.Magic)
			assert.Equal(t, Version, a.Header.Version)
			assert.EqualValues(t, 4, a.Header.Rows)
			assert.EqualValues(t, k, a.Header.K)
			assert.EqualValues(t, 2, a.Header.BlocksPerRow)
			assert.Equal(t, dt.Tag(), a.Header.DType)
			assert.Equal(t, 8, len(a.Blocks)/codec.BlockSize())
			assert.Nil(t, a.Perm)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.EqualValues(t, HeaderSize+8*codec.BlockSize(), info.Size())

			hdr, err := ReadHeader(path)
			require.NoError(t, err)
			assert.Equal(t, a.Header, hdr)
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	codec := mustCodec(t, tensor.Q8_0)
	path, _ := writeTestArtifact(t, t.TempDir(), codec, 3, 64)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	want := []uint32{Magic, Version, 3, 64, 2, 0x08}
	for i, v := range want {
		assert.Equal(t, v, binary.LittleEndian.Uint32(raw[4*i:]), "header field %d", i)
	}
	assert.Equal(t, []byte("88QK"), raw[:4])
}

func TestLoad_Rejects(t *testing.T) {
	codec := mustCodec(t, tensor.Q8_0)

	tests := []struct {
		name    string
		corrupt func(raw []byte) []byte
	}{
		{"bad magic", func(raw []byte) []byte { raw[0] ^= 0xFF; return raw }},
		{"bad version", func(raw []byte) []byte { raw[4] = 9; return raw }},
		{"bad element tag", func(raw []byte) []byte { raw[20] = 0x18; return raw }},
		{"truncated header", func(raw []byte) []byte { return raw[:10] }},
		{"truncated blocks", func(raw []byte) []byte { return raw[:len(raw)-1] }},
		{"trailing bytes", func(raw []byte) []byte { return append(raw, 0) }},
		{"zero rows", func(raw []byte) []byte {
			binary.LittleEndian.PutUint32(raw[8:], 0)
			return raw[:HeaderSize]
		}},
		{"blocks per row disagree with k", func(raw []byte) []byte {
			binary.LittleEndian.PutUint32(raw[12:], 96)
			return raw
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, _ := writeTestArtifact(t, t.TempDir(), codec, 4, 64)
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.corrupt(raw), 0o644))

			_, err = Load(path, codec)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestLoad_WrongCodec(t *testing.T) {
	path, _ := writeTestArtifact(t, t.TempDir(), mustCodec(t, tensor.Q8_K), 2, 256)
	_, err := Load(path, mustCodec(t, tensor.Q8_0))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.q8k"), mustCodec(t, tensor.Q8_K))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFormat)
}

func TestWrite_RejectsBadPayload(t *testing.T) {
	codec := mustCodec(t, tensor.Q8_0)
	dir := t.TempDir()

	assert.Error(t, Write(filepath.Join(dir, "a.q80"), 2, 33, codec, nil))
	assert.Error(t, Write(filepath.Join(dir, "b.q80"), 2, 32, codec, make([]byte, 10)))
	assert.Error(t, Write(filepath.Join(dir, "c.q80"), 0, 32, codec, nil))
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "out/model.layers.0.self_attn.q_proj.weight.q8k.perm",
		SidecarPath("out/model.layers.0.self_attn.q_proj.weight.q8k"))
	assert.Equal(t, "w.q80.perm", SidecarPath("w.q80"))
	assert.NotEqual(t, SidecarPath("w.q8k"), SidecarPath("w.q80"))
}

func TestPermutationSidecar(t *testing.T) {
	codec := mustCodec(t, tensor.Q8_0)
	rows, k := 4, 64
	dir := t.TempDir()

	// Quantize a permuted matrix, persist both files, and check Restore
	// gives back the original column order.
	data := make([]float32, rows*k)
	for i := range data {
		data[i] = float32(i%k) / float32(k)
	}
	p := permute.Identity(k)
	for i, j := 0, k-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
	permuted, err := permute.Apply(rows, k, data, p)
	require.NoError(t, err)
	blocks, err := tensor.QuantizeRows(codec, rows, k, permuted)
	require.NoError(t, err)

	path := filepath.Join(dir, "w.q80")
	require.NoError(t, Write(path, rows, k, codec, blocks))
	require.NoError(t, WritePermutation(path, p))

	raw, err := os.ReadFile(SidecarPath(path))
	require.NoError(t, err)
	assert.Len(t, raw, 8+4*k)
	assert.Equal(t, []byte("PERM"), raw[:4])

	a, err := Load(path, codec)
	require.NoError(t, err)
	assert.Equal(t, p, a.Perm)

	restored, err := a.Restore(codec)
	require.NoError(t, err)
	require.Len(t, restored, rows*k)
	for i := range data {
		assert.InDelta(t, data[i], restored[i], 1.0/127, "index %d", i)
	}

	require.NoError(t, RemovePermutation(path))
	require.NoError(t, RemovePermutation(path), "removing an absent sidecar is not an error")
	a, err = Load(path, codec)
	require.NoError(t, err)
	assert.Nil(t, a.Perm)
}

func TestLoadPermutation_Absent(t *testing.T) {
	p, err := LoadPermutation(filepath.Join(t.TempDir(), "w.q8k"), 256)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLoadPermutation_Corrupt(t *testing.T) {
	encode := func(magic uint32, count uint32, idx ...uint32) []byte {
		buf := binary.LittleEndian.AppendUint32(nil, magic)
		buf = binary.LittleEndian.AppendUint32(buf, count)
		for _, v := range idx {
			buf = binary.LittleEndian.AppendUint32(buf, v)
		}
		return buf
	}

	tests := []struct {
		name string
		raw  []byte
	}{
		{"too small", []byte{1, 2, 3}},
		{"bad magic", encode(0x12345678, 3, 0, 1, 2)},
		{"count disagrees with length", encode(PermMagic, 4, 0, 1, 2)},
		{"count disagrees with k", encode(PermMagic, 2, 0, 1)},
		{"duplicate index", encode(PermMagic, 3, 0, 1, 1)},
		{"index out of range", encode(PermMagic, 3, 0, 1, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "w.q8k")
			require.NoError(t, os.WriteFile(SidecarPath(path), tt.raw, 0o644))

			_, err := LoadPermutation(path, 3)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestWritePermutation_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.q8k")
	assert.Error(t, WritePermutation(path, permute.Permutation{0, 0}))

	_, err := os.Stat(SidecarPath(path))
	assert.True(t, os.IsNotExist(err))
}
