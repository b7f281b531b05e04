// Package cli implements the picotelemetry command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/CristiGvl/picoTelemetry/internal/config"
	"github.com/CristiGvl/picoTelemetry/internal/logging"
	"github.com/CristiGvl/picoTelemetry/internal/memo"
	"github.com/CristiGvl/picoTelemetry/internal/platform"
	"github.com/CristiGvl/picoTelemetry/internal/process"
)

var (
	configPath string
	logLevel   string

	cfg      = config.Default()
	flushLog = func() {}
)

var rootCmd = &cobra.Command{
	Use:          "picotelemetry",
	Short:        "Processor and process telemetry",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}

		flush, err := logging.Setup(logging.Options{
			File:       cfg.Log.File,
			Level:      cfg.Log.Level,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
			JSON:       cfg.Log.JSON,
		})
		if err != nil {
			return err
		}
		flushLog = flush

		memo.SetDefaultExpiration(cfg.Cache.Expiration)
		return platform.ValidateSupport()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		flushLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		flushLog()
		os.Exit(1)
	}
}

// newRegistry builds the process registry described by the configuration.
func newRegistry() (*process.Registry, error) {
	names := process.NewNameResolver(cfg.Process.NameExpiration)
	return process.NewRegistry(cfg.Process.RegistrySize, process.NewDriver(), process.WithNameResolver(names))
}
