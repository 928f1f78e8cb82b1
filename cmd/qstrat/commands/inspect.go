package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/artem1984A/quantize-strategy/internal/artifact"
	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <artifact>",
	Short: "Show the header of a quantized artifact and restore it",
	Long: `Read a quantized artifact and its optional .perm sidecar, dequantize the
blocks and undo the column permutation. Prints the header fields and
summary statistics of the restored matrix.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	h, err := artifact.ReadHeader(path)
	if err != nil {
		return err
	}
	dt, err := tensor.DataTypeForTag(h.DType)
	if err != nil {
		return err
	}
	codec, err := tensor.NewCodec(dt)
	if err != nil {
		return err
	}

	a, err := artifact.Load(path, codec)
	if err != nil {
		return err
	}
	values, err := a.Restore(codec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:           %s\n", a.Path)
	fmt.Fprintf(out, "Version:        %d\n", a.Header.Version)
	fmt.Fprintf(out, "Type:           %s\n", dt)
	fmt.Fprintf(out, "Shape:          %d x %d\n", a.Rows(), a.K())
	fmt.Fprintf(out, "Blocks per row: %d\n", a.Header.BlocksPerRow)
	if a.Perm != nil {
		fmt.Fprintf(out, "Permutation:    %s\n", artifact.SidecarPath(path))
	} else {
		fmt.Fprintln(out, "Permutation:    none")
	}

	if len(values) == 0 {
		return nil
	}
	f64 := make([]float64, len(values))
	for i, v := range values {
		f64[i] = float64(v)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Min:            %.6g\n", floats.Min(f64))
	fmt.Fprintf(out, "Max:            %.6g\n", floats.Max(f64))
	fmt.Fprintf(out, "Mean:           %.6g\n", floats.Sum(f64)/float64(len(f64)))
	fmt.Fprintf(out, "L2 norm:        %.6g\n", floats.Norm(f64, 2))
	return nil
}
