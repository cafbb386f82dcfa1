// Package cmd implements the CLI commands for nvarr.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/version"
)

// cfgFile holds the config file path from the --config flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "nvarr",
	Short:   "Network video recorder over an HLS media gateway",
	Version: version.Short(),
	Long: `nvarr records camera streams exposed by an HLS media gateway into an
on-disk archive with a queryable index.

It polls each camera's playlist, commits completed segments atomically,
indexes them for time-range playback, and enforces retention with
scheduled sweeps and disk-pressure emergency cleanup.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Global flags. These are NOT bound to viper: loadConfig checks
	// Changed() and only then overrides, which preserves the priority
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/nvarr, $HOME/.nvarr)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (json, text)")
}

// loadConfig reads the effective configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	applyFlagOverrides(cfg, rootCmd.PersistentFlags())

	// Flag overrides bypass Load's validation, so check once more.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyFlagOverrides lets explicitly-set flags win over file and env values.
func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		cfg.Logging.Level = strings.ToLower(level)
		// "warning" is a common alias.
		if cfg.Logging.Level == "warning" {
			cfg.Logging.Level = "warn"
		}
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}
}

// initLogger builds the redacting process logger and installs it as the
// slog default so library code without an injected logger still behaves.
func initLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)
	return logger
}
