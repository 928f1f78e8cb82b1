// Package pipeline drives a checkpoint through permutation, block
// quantization, validation and persistence, one tensor at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/artem1984A/quantize-strategy/internal/artifact"
	"github.com/artem1984A/quantize-strategy/internal/logging"
	"github.com/artem1984A/quantize-strategy/internal/permute"
	"github.com/artem1984A/quantize-strategy/internal/safetensors"
	"github.com/artem1984A/quantize-strategy/internal/strategy"
	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

// Default validation thresholds.
const (
	DefaultLossyThreshold      = 1e-2
	DefaultDivergenceThreshold = 1e-6
)

// Source is a checkpoint the pipeline can read tensors from.
type Source interface {
	Path() string
	Infos() []*safetensors.TensorInfo
	ReadTensor(name string) ([]byte, error)
}

// Options configures a Pipeline.
type Options struct {
	OutputDir string
	Codec     tensor.Codec

	// Permute enables the column permutation step; Strategy is ignored
	// when it is false.
	Permute  bool
	Strategy strategy.Selector

	WeightSuffix string
	SkipPatterns []string

	// Workers bounds how many tensors are processed at once. Values below
	// one mean one.
	Workers  int
	Manifest bool

	LossyThreshold      float64
	DivergenceThreshold float64
}

// TensorStat is the outcome for one quantized tensor.
type TensorStat struct {
	Name     string
	File     string
	Rows     int
	K        int
	Permuted bool
	Metrics  Metrics

	// Lossy and Divergent record the validation warnings raised.
	Lossy     bool
	Divergent bool
}

// Result summarizes a run.
type Result struct {
	RunID     string
	Processed int
	Skipped   int
	Elapsed   time.Duration
	Stats     []TensorStat
}

// Pipeline quantizes eligible tensors of a checkpoint.
type Pipeline struct {
	opts     Options
	strategy strategy.Strategy
}

// New validates opts and resolves the permutation strategy. An unknown
// strategy fails here, before any tensor is touched.
func New(opts Options) (*Pipeline, error) {
	if opts.Codec == nil {
		return nil, errors.New("pipeline: codec is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("pipeline: output directory is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LossyThreshold <= 0 {
		opts.LossyThreshold = DefaultLossyThreshold
	}
	if opts.DivergenceThreshold <= 0 {
		opts.DivergenceThreshold = DefaultDivergenceThreshold
	}

	p := &Pipeline{opts: opts}
	if opts.Permute {
		s, err := strategy.New(opts.Strategy)
		if err != nil {
			return nil, err
		}
		p.strategy = s
	}
	return p, nil
}

// StrategyName returns the active strategy, or "none" when permutation is
// disabled.
func (p *Pipeline) StrategyName() string {
	if p.strategy == nil {
		return "none"
	}
	return p.strategy.Name()
}

// Check reports whether a tensor will be quantized. It returns the matrix
// shape when it will, or a human-readable skip reason when it won't.
func (p *Pipeline) Check(info *safetensors.TensorInfo) (rows, k int, reason string) {
	if len(info.Shape) != 2 {
		return 0, 0, fmt.Sprintf("rank %d", len(info.Shape))
	}
	// Names become file names in the output directory
	if strings.ContainsAny(info.Name, `/\`) || strings.Contains(info.Name, "..") {
		return 0, 0, "name is not a safe file name"
	}
	if !strings.HasSuffix(info.Name, p.opts.WeightSuffix) {
		return 0, 0, "not a weight"
	}
	for _, pat := range p.opts.SkipPatterns {
		if pat != "" && strings.Contains(info.Name, pat) {
			return 0, 0, fmt.Sprintf("matches skip pattern %q", pat)
		}
	}

	rows, k = int(info.Shape[0]), int(info.Shape[1])
	if rows == 0 || k == 0 {
		return 0, 0, "empty"
	}
	if w := p.opts.Codec.BlockWidth(); k%w != 0 {
		return 0, 0, fmt.Sprintf("k %% %d != 0", w)
	}
	if _, err := info.DataType(); err != nil {
		return 0, 0, err.Error()
	}
	return rows, k, ""
}

// ArtifactPath returns where the artifact for a tensor is written.
func (p *Pipeline) ArtifactPath(name string) string {
	return filepath.Join(p.opts.OutputDir, name+artifact.Extension(p.opts.Codec.Type()))
}

// Run processes every tensor of src. Tensors run concurrently up to
// Options.Workers; results keep checkpoint order. The context is checked
// before each tensor starts.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	log := logging.Get().WithField("run", res.RunID)

	if err := os.MkdirAll(p.opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	infos := src.Infos()
	log.WithFields(logrus.Fields{
		"tensors":  len(infos),
		"codec":    p.opts.Codec.Type(),
		"strategy": p.StrategyName(),
	}).Info("Starting quantization")

	stats := make([]*TensorStat, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for i, info := range infos {
		if gctx.Err() != nil {
			break
		}
		i, info := i, info
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := p.processTensor(src, info)
			if err != nil {
				return fmt.Errorf("tensor %s: %w", info.Name, err)
			}
			stats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, st := range stats {
		if st == nil {
			res.Skipped++
			continue
		}
		res.Processed++
		res.Stats = append(res.Stats, *st)
	}
	res.Elapsed = time.Since(start)

	if p.opts.Manifest {
		if err := p.writeManifest(src.Path(), res); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"processed": res.Processed,
		"skipped":   res.Skipped,
		"elapsed":   res.Elapsed.Round(time.Millisecond),
	}).Info("Quantization complete")
	return res, nil
}

// processTensor returns nil, nil for a skipped tensor.
func (p *Pipeline) processTensor(src Source, info *safetensors.TensorInfo) (*TensorStat, error) {
	log := logging.WithTensor(info.Name)

	rows, k, reason := p.Check(info)
	if reason != "" {
		log.WithField("reason", reason).Debug("Skipping tensor")
		return nil, nil
	}
	log.WithFields(logrus.Fields{"rows": rows, "k": k}).Info("Quantizing")

	dt, err := info.DataType()
	if err != nil {
		return nil, err
	}
	raw, err := src.ReadTensor(info.Name)
	if err != nil {
		return nil, err
	}
	data, err := tensor.DecodeElements(raw, dt)
	if err != nil {
		return nil, err
	}
	if len(data) != rows*k {
		return nil, fmt.Errorf("decoded %d values, shape needs %d", len(data), rows*k)
	}

	var perm permute.Permutation
	if p.strategy != nil {
		data, perm, err = p.strategy.Apply(data, rows, k, info.Name)
		if err != nil {
			return nil, fmt.Errorf("%s strategy: %w", p.strategy.Name(), err)
		}
	}

	blocks, err := tensor.QuantizeRows(p.opts.Codec, rows, k, data)
	if err != nil {
		return nil, err
	}

	m, err := Validate(p.opts.Codec, rows, k, data, blocks)
	if err != nil {
		return nil, err
	}
	st := &TensorStat{
		Name:     info.Name,
		File:     p.ArtifactPath(info.Name),
		Rows:     rows,
		K:        k,
		Permuted: perm != nil,
		Metrics:  m,
	}
	p.report(log, st)

	if err := artifact.Write(st.File, rows, k, p.opts.Codec, blocks); err != nil {
		return nil, err
	}
	if perm != nil {
		err = artifact.WritePermutation(st.File, perm)
	} else {
		err = artifact.RemovePermutation(st.File)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (p *Pipeline) report(log *logrus.Entry, st *TensorStat) {
	m := st.Metrics
	log = log.WithFields(logrus.Fields{
		"mse_uniform":  fmt.Sprintf("%.6e", m.Uniform),
		"mse_gradient": fmt.Sprintf("%.6e", m.Gradient),
	})
	log.Debug("Validated")

	if d := m.Divergence(); d > p.opts.DivergenceThreshold {
		st.Divergent = true
		log.Warnf("Validation probes differ by %.8e", d)
	}
	if m.Uniform > p.opts.LossyThreshold || m.Gradient > p.opts.LossyThreshold {
		st.Lossy = true
		log.Warn("High MSE detected, quantization may be lossy")
	}
}
