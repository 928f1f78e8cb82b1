package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/artem1984A/quantize-strategy/internal/strategy"
	"github.com/artem1984A/quantize-strategy/internal/tensor"
)

// Config represents the application configuration
type Config struct {
	Quantize   QuantizeConfig   `mapstructure:"quantize"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type QuantizeConfig struct {
	Permute      bool            `mapstructure:"permute"`
	OutputDir    string          `mapstructure:"output_dir"`
	Codec        tensor.DataType `mapstructure:"codec"`
	WeightSuffix string          `mapstructure:"weight_suffix"`
	SkipPatterns []string        `mapstructure:"skip_patterns"`
	Workers      int             `mapstructure:"workers"`
	Manifest     bool            `mapstructure:"manifest"`
}

type StrategyConfig struct {
	Kind           strategy.Kind `mapstructure:"kind"`
	Regularization float64       `mapstructure:"regularization"`
	LearningRate   float64       `mapstructure:"learning_rate"`
	Iterations     int           `mapstructure:"iterations"`
}

type ValidationConfig struct {
	LossyThreshold      float64 `mapstructure:"lossy_threshold"`
	DivergenceThreshold float64 `mapstructure:"divergence_threshold"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// Environment variables honored in addition to the QSTRAT_ prefixed ones.
const (
	EnvPermute  = "CANDLE_Q8K_PERMUTE"
	EnvStrategy = "CANDLE_Q8K_STRATEGY"
)

// FlagKeys maps command-line flag names to the configuration keys they
// override when set.
var FlagKeys = map[string]string{
	"permute":   "quantize.permute",
	"codec":     "quantize.codec",
	"workers":   "quantize.workers",
	"strategy":  "strategy.kind",
	"log-level": "logging.level",
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Quantize: QuantizeConfig{
			Permute:      false,
			OutputDir:    "./quantized",
			Codec:        tensor.Q8_K,
			WeightSuffix: ".weight",
			SkipPatterns: []string{"embed_tokens", "norm"},
			Workers:      1,
			Manifest:     true,
		},
		Strategy: StrategyConfig{
			Kind:           strategy.KindEnergy,
			Regularization: strategy.DefaultRegularization,
			LearningRate:   0.01,
			Iterations:     1000,
		},
		Validation: ValidationConfig{
			LossyThreshold:      1e-2,
			DivergenceThreshold: 1e-6,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "",
			Console: true,
		},
	}
}

// Load loads configuration from file, environment, and defaults. Flags
// listed in FlagKeys override everything else when they were set on the
// command line; flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// A .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	// Config file setup
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("finding home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".qstrat"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	// Environment variables
	v.SetEnvPrefix("QSTRAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("quantize.permute", "QSTRAT_QUANTIZE_PERMUTE", EnvPermute); err != nil {
		return nil, fmt.Errorf("binding %s: %w", EnvPermute, err)
	}
	if err := v.BindEnv("strategy.kind", "QSTRAT_STRATEGY_KIND", EnvStrategy); err != nil {
		return nil, fmt.Errorf("binding %s: %w", EnvStrategy, err)
	}

	// Command-line flags
	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is okay, use defaults
	}

	// Unmarshal into struct; codec and strategy names decode through
	// their UnmarshalText methods
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand paths
	cfg.ExpandPaths()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Quantize.OutputDir == "" {
		return errors.New("quantize.output_dir must not be empty")
	}
	if !c.Quantize.Codec.Quantized() {
		return fmt.Errorf("quantize.codec must be q8_k or q8_0, got %s", c.Quantize.Codec)
	}
	if c.Quantize.WeightSuffix == "" {
		return errors.New("quantize.weight_suffix must not be empty")
	}
	if c.Quantize.Workers < 1 {
		return errors.New("quantize.workers must be at least 1")
	}

	if c.Strategy.Regularization < 0 {
		return errors.New("strategy.regularization must not be negative")
	}
	if c.Strategy.LearningRate < 0 || c.Strategy.Iterations < 0 {
		return errors.New("strategy.learning_rate and strategy.iterations must not be negative")
	}

	if c.Validation.LossyThreshold <= 0 || c.Validation.DivergenceThreshold <= 0 {
		return errors.New("validation thresholds must be positive")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// Selector returns the strategy selection described by the configuration.
func (c *Config) Selector() strategy.Selector {
	return strategy.Selector{
		Kind:           c.Strategy.Kind,
		LearningRate:   c.Strategy.LearningRate,
		Iterations:     c.Strategy.Iterations,
		Regularization: c.Strategy.Regularization,
	}
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.Quantize.OutputDir = expandPath(c.Quantize.OutputDir)
	c.Logging.File = expandPath(c.Logging.File)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("quantize.permute", cfg.Quantize.Permute)
	v.SetDefault("quantize.output_dir", cfg.Quantize.OutputDir)
	v.SetDefault("quantize.codec", cfg.Quantize.Codec.String())
	v.SetDefault("quantize.weight_suffix", cfg.Quantize.WeightSuffix)
	v.SetDefault("quantize.skip_patterns", cfg.Quantize.SkipPatterns)
	v.SetDefault("quantize.workers", cfg.Quantize.Workers)
	v.SetDefault("quantize.manifest", cfg.Quantize.Manifest)

	v.SetDefault("strategy.kind", cfg.Strategy.Kind.String())
	v.SetDefault("strategy.regularization", cfg.Strategy.Regularization)
	v.SetDefault("strategy.learning_rate", cfg.Strategy.LearningRate)
	v.SetDefault("strategy.iterations", cfg.Strategy.Iterations)

	v.SetDefault("validation.lossy_threshold", cfg.Validation.LossyThreshold)
	v.SetDefault("validation.divergence_threshold", cfg.Validation.DivergenceThreshold)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}
