package commands

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/artem1984A/quantize-strategy/internal/safetensors"
)

var tensorsCmd = &cobra.Command{
	Use:   "tensors <input.safetensors>",
	Short: "List the tensors of a checkpoint and what quantize would do with them",
	Args:  cobra.ExactArgs(1),
	RunE:  runTensors,
}

func init() {
	rootCmd.AddCommand(tensorsCmd)
}

func runTensors(cmd *cobra.Command, args []string) error {
	src, err := safetensors.Parse(args[0])
	if err != nil {
		return err
	}

	p, err := newPipeline()
	if err != nil {
		return err
	}

	var data [][]string
	eligible := 0
	for _, info := range src.Infos() {
		action := "quantize"
		if _, _, reason := p.Check(info); reason != "" {
			action = "skip: " + reason
		} else {
			eligible++
		}
		data = append(data, []string{info.Name, info.DType, fmt.Sprint(info.Shape), action})
	}

	out := cmd.OutOrStdout()
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE", "ACTION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(out, "\n%d of %d tensors eligible for %s\n", eligible, len(data), cfg.Quantize.Codec)
	return nil
}
