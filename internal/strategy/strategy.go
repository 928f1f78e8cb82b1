// Package strategy chooses the column permutation applied to a weight matrix
// before block quantization.
//
// A Strategy receives a rows×k row-major matrix together with the tensor name
// and returns the (possibly) permuted matrix plus the permutation that
// produced it. A nil permutation means the data was left in its original
// column order.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artem1984A/quantize-strategy/internal/permute"
)

// ErrUnknownStrategy is returned when a selector names no implemented strategy.
var ErrUnknownStrategy = errors.New("unknown permutation strategy")

// Strategy selects and applies a column permutation for one tensor.
type Strategy interface {
	// Apply returns the permuted matrix and the permutation used, or the
	// data unchanged and a nil permutation.
	Apply(data []float32, rows, k int, name string) ([]float32, permute.Permutation, error)

	// Name returns the strategy name used in logs and manifests
	Name() string
}

// Kind identifies one of the implemented strategies.
type Kind int

const (
	KindEnergy Kind = iota
	KindAttention
	KindQRPivot
	KindLearnable
)

// String returns the canonical configuration name of the kind
func (k Kind) String() string {
	switch k {
	case KindEnergy:
		return "energy"
	case KindAttention:
		return "attention"
	case KindQRPivot:
		return "qr"
	case KindLearnable:
		return "learnable"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses a strategy name. The long names used by older tooling
// (l2_norm, attention_aware, qr_pivot) are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "energy", "l2_norm", "l2norm":
		return KindEnergy, nil
	case "attention", "attention_aware":
		return KindAttention, nil
	case "qr", "qr_pivot", "qrpivot":
		return KindQRPivot, nil
	case "learnable":
		return KindLearnable, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Selector is the configured strategy choice and its tuning parameters.
// LearningRate and Iterations only apply to KindLearnable and are carried
// through unchanged; Regularization only applies to KindQRPivot.
type Selector struct {
	Kind           Kind
	LearningRate   float64
	Iterations     int
	Regularization float64
}

// DefaultRegularization is the norm below which a QR pivot column is
// treated as already eliminated.
const DefaultRegularization = 1e-6
