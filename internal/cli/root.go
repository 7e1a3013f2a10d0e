// Package cli implements the threatlens command line.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/config"
	"github.com/lvonguyen/threatlens/internal/observability"
)

// Version is set by cmd/threatlens from build flags.
var Version = "dev"

var (
	cfgFile  string
	logLevel string
	timeout  time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "threatlens",
	Short: "ThreatLens - multi-source threat intelligence for a product",
	Long: `ThreatLens queries public vulnerability and exploit sources for a product
name, filters and deduplicates what comes back, ranks it with four independent
scoring agents and annotates the top findings for analysts.

The result is printed as JSON for a report generator to consume.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "threatlens %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "overall analysis timeout (overrides server.analyze_timeout)")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if timeout > 0 {
		cfg.Server.AnalyzeTimeout = timeout
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays clean for JSON output.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	opts := cfg.TelemetryOptions()
	opts.ServiceVersion = Version
	return observability.NewLogger(opts)
}
