package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artem1984A/quantize-strategy/internal/config"
	"github.com/artem1984A/quantize-strategy/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "qstrat",
	Short: "Permutation-aware 8-bit block quantization for weight matrices",
	Long: `qstrat quantizes the 2-D weight matrices of a safetensors checkpoint
into 8-bit block formats (Q8_K or Q8_0).

Before quantization the columns of each matrix can be reordered so that
columns of similar magnitude share a block, which lowers quantization error.
The column order is stored next to each artifact so it can be undone when
the weights are loaded.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		if err := logging.Init(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Console); err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		return nil
	},
}

// ExecuteContext runs the root command
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.qstrat/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("codec", "q8_k", "block codec (q8_k, q8_0)")
}
