package strategy

import (
	"fmt"

	"github.com/artem1984A/quantize-strategy/internal/permute"
)

// EnergyOrder orders columns by descending L2 energy. It is also the
// fallback used by every other strategy.
type EnergyOrder struct{}

// NewEnergyOrder returns the energy-ordering strategy.
func NewEnergyOrder() *EnergyOrder {
	return &EnergyOrder{}
}

// Apply ignores the tensor name.
func (EnergyOrder) Apply(data []float32, rows, k int, _ string) ([]float32, permute.Permutation, error) {
	return energyOrder(data, rows, k)
}

func (EnergyOrder) Name() string { return "EnergyOrder" }

func energyOrder(data []float32, rows, k int) ([]float32, permute.Permutation, error) {
	if err := checkShape(data, rows, k); err != nil {
		return nil, nil, err
	}
	p := energyPermutation(data, rows, k)
	out, err := permute.Apply(rows, k, data, p)
	if err != nil {
		return nil, nil, err
	}
	return out, p, nil
}

func energyPermutation(data []float32, rows, k int) permute.Permutation {
	return permute.OrderByEnergy(permute.ColumnEnergies(rows, k, data))
}

func checkShape(data []float32, rows, k int) error {
	if rows <= 0 || k <= 0 {
		return fmt.Errorf("invalid matrix shape %dx%d", rows, k)
	}
	if len(data) != rows*k {
		return fmt.Errorf("data length %d does not match %dx%d", len(data), rows, k)
	}
	return nil
}
