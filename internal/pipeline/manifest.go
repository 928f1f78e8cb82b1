package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFile is the name of the run manifest written to the output directory.
const ManifestFile = "manifest.json"

// Manifest records what a run produced so artifacts can be matched back to
// the checkpoint and the settings used.
type Manifest struct {
	RunID     string           `json:"run_id"`
	CreatedAt time.Time        `json:"created_at"`
	Source    string           `json:"source"`
	Codec     string           `json:"codec"`
	Strategy  string           `json:"strategy,omitempty"`
	Processed int              `json:"processed"`
	Skipped   int              `json:"skipped"`
	Tensors   []ManifestTensor `json:"tensors"`
}

// ManifestTensor describes one quantized tensor.
type ManifestTensor struct {
	Name        string  `json:"name"`
	File        string  `json:"file"`
	Rows        int     `json:"rows"`
	K           int     `json:"k"`
	Permuted    bool    `json:"permuted"`
	MSEUniform  float64 `json:"mse_uniform"`
	MSEGradient float64 `json:"mse_gradient"`
}

func (p *Pipeline) writeManifest(source string, res *Result) error {
	m := Manifest{
		RunID:     res.RunID,
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Codec:     p.opts.Codec.Type().String(),
		Processed: res.Processed,
		Skipped:   res.Skipped,
		Tensors:   make([]ManifestTensor, 0, len(res.Stats)),
	}
	if p.strategy != nil {
		m.Strategy = p.strategy.Name()
	}
	for _, s := range res.Stats {
		m.Tensors = append(m.Tensors, ManifestTensor{
			Name:        s.Name,
			File:        filepath.Base(s.File),
			Rows:        s.Rows,
			K:           s.K,
			Permuted:    s.Permuted,
			MSEUniform:  s.Metrics.Uniform,
			MSEGradient: s.Metrics.Gradient,
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.opts.OutputDir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from an output directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
