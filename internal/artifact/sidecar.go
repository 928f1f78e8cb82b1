package artifact

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/artem1984A/quantize-strategy/internal/permute"
)

// PermMagic opens every permutation sidecar ("PERM" on disk).
const PermMagic uint32 = 0x4D524550

// SidecarPath returns the sidecar path for an artifact. The codec extension
// stays in the name, so artifacts of different codecs for the same tensor
// never share a sidecar.
func SidecarPath(artifactPath string) string {
	return artifactPath + ".perm"
}

// WritePermutation stores p next to the artifact at artifactPath.
func WritePermutation(artifactPath string, p permute.Permutation) error {
	if err := p.Validate(len(p)); err != nil {
		return fmt.Errorf("refusing to write permutation: %w", err)
	}

	f, err := os.Create(SidecarPath(artifactPath))
	if err != nil {
		return fmt.Errorf("failed to create permutation sidecar: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 8+4*len(p))
	binary.LittleEndian.PutUint32(buf[0:], PermMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(p)))
	for i, idx := range p {
		binary.LittleEndian.PutUint32(buf[8+4*i:], uint32(idx))
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write permutation sidecar: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write permutation sidecar: %w", err)
	}
	return f.Close()
}

// LoadPermutation reads the sidecar of the artifact at artifactPath. A missing
// sidecar yields a nil permutation and no error; a sidecar that exists but
// does not describe a bijection on [0, k) is an ErrFormat error.
func LoadPermutation(artifactPath string, k int) (permute.Permutation, error) {
	path := SidecarPath(artifactPath)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read permutation sidecar: %w", err)
	}

	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: %s: sidecar too small (%d bytes)", ErrFormat, path, len(raw))
	}
	if magic := binary.LittleEndian.Uint32(raw[0:]); magic != PermMagic {
		return nil, fmt.Errorf("%w: %s: invalid sidecar magic 0x%x", ErrFormat, path, magic)
	}
	count := int(binary.LittleEndian.Uint32(raw[4:]))
	if want := 8 + 4*count; len(raw) != want {
		return nil, fmt.Errorf("%w: %s: sidecar size mismatch: got %d bytes, expected %d",
			ErrFormat, path, len(raw), want)
	}
	if count != k {
		return nil, fmt.Errorf("%w: %s: sidecar holds %d indices, artifact has k=%d", ErrFormat, path, count, k)
	}

	p := make(permute.Permutation, count)
	for i := range p {
		p[i] = int(binary.LittleEndian.Uint32(raw[8+4*i:]))
	}
	if err := p.Validate(k); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	return p, nil
}

// RemovePermutation deletes a sidecar left over from an earlier run, so an
// artifact rewritten without a permutation is not paired with a stale one.
func RemovePermutation(artifactPath string) error {
	err := os.Remove(SidecarPath(artifactPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale permutation sidecar: %w", err)
	}
	return nil
}
