package strategy

import (
	"fmt"

	"github.com/artem1984A/quantize-strategy/internal/permute"
)

// New constructs the strategy named by sel. Each call gets its own
// LayerCache, so the cache lives exactly as long as the returned strategy.
func New(sel Selector) (Strategy, error) {
	switch sel.Kind {
	case KindEnergy:
		return NewEnergyOrder(), nil
	case KindAttention:
		return NewAttentionAware(NewLayerCache()), nil
	case KindQRPivot:
		return NewQRPivot(sel.Regularization), nil
	case KindLearnable:
		return &Learnable{LearningRate: sel.LearningRate, Iterations: sel.Iterations}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, sel.Kind)
	}
}

// Learnable accepts learned-permutation parameters but has no optimizer; it
// orders columns exactly like EnergyOrder.
type Learnable struct {
	LearningRate float64
	Iterations   int
}

func (l *Learnable) Name() string { return "Learnable" }

func (l *Learnable) Apply(data []float32, rows, k int, _ string) ([]float32, permute.Permutation, error) {
	return energyOrder(data, rows, k)
}
