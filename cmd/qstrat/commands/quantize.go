package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/artem1984A/quantize-strategy/internal/pipeline"
	"github.com/artem1984A/quantize-strategy/internal/safetensors"
	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

var quantizeCmd = &cobra.Command{
	Use:   "quantize <input.safetensors> [output_dir]",
	Short: "Quantize the weight matrices of a checkpoint",
	Long: `Quantize every eligible 2-D weight matrix of a safetensors checkpoint.

Each tensor is written to its own artifact in the output directory. With
--permute the columns are reordered first and the order is stored in a
.perm sidecar next to the artifact.

Strategies:
  energy      sort columns by L2 norm (default)
  attention   share one order across q/k/v projections of a layer
  qr          greedy column-pivoted Householder QR
  learnable   placeholder, currently the same as energy`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuantize,
}

func init() {
	quantizeCmd.Flags().Bool("permute", false, "reorder columns before quantizing")
	quantizeCmd.Flags().String("strategy", "energy", "permutation strategy (energy, attention, qr, learnable)")
	quantizeCmd.Flags().Int("workers", 1, "tensors to quantize concurrently")

	rootCmd.AddCommand(quantizeCmd)
}

func runQuantize(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		cfg.Quantize.OutputDir = args[1]
	}

	src, err := safetensors.Parse(args[0])
	if err != nil {
		return err
	}

	p, err := newPipeline()
	if err != nil {
		return err
	}

	res, err := p.Run(cmd.Context(), src)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(res.Stats) > 0 {
		printStats(out, res.Stats)
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Quantized %d tensors (%d skipped) in %s\n",
		res.Processed, res.Skipped, res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Output: %s\n", cfg.Quantize.OutputDir)
	return nil
}

// newPipeline builds a pipeline from the loaded configuration.
func newPipeline() (*pipeline.Pipeline, error) {
	codec, err := tensor.NewCodec(cfg.Quantize.Codec)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		OutputDir:           cfg.Quantize.OutputDir,
		Codec:               codec,
		Permute:             cfg.Quantize.Permute,
		Strategy:            cfg.Selector(),
		WeightSuffix:        cfg.Quantize.WeightSuffix,
		SkipPatterns:        cfg.Quantize.SkipPatterns,
		Workers:             cfg.Quantize.Workers,
		Manifest:            cfg.Quantize.Manifest,
		LossyThreshold:      cfg.Validation.LossyThreshold,
		DivergenceThreshold: cfg.Validation.DivergenceThreshold,
	})
}

func printStats(w io.Writer, stats []pipeline.TensorStat) {
	var data [][]string
	for _, st := range stats {
		var flags string
		switch {
		case st.Lossy:
			flags = "lossy"
		case st.Divergent:
			flags = "divergent"
		}
		data = append(data, []string{
			st.Name,
			fmt.Sprintf("%dx%d", st.Rows, st.K),
			yesNo(st.Permuted),
			fmt.Sprintf("%.3e", st.Metrics.Uniform),
			fmt.Sprintf("%.3e", st.Metrics.Gradient),
			flags,
			filepath.Base(st.File),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TENSOR", "SHAPE", "PERMUTED", "MSE (UNIFORM)", "MSE (GRADIENT)", "FLAGS", "FILE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
