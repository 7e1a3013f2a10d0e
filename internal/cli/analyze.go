package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/threatlens/internal/engine"
)

var (
	outFile string
	compact bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <product>",
	Short: "Collect, rank and annotate threats for a product",
	Long: `Analyze queries every configured source for the product name and prints
the ranked, annotated findings with a summary as JSON.

Example:
  threatlens analyze "Apache Tomcat"
  threatlens analyze nginx --timeout 30s --output nginx.json
  threatlens analyze "Microsoft Exchange" --config threatlens.yaml --log-level debug`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&outFile, "output", "o", "", "output file path (default: stdout)")
	analyzeCmd.Flags().BoolVar(&compact, "compact", false, "print compact JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	product := strings.Join(args, " ")
	if _, err := engine.NormalizeProduct(product); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	eng, _, err := engine.FromConfig(cfg, logger, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.AnalyzeTimeout)
	defer cancel()

	report, err := eng.Analyze(ctx, product)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if outFile != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d findings for %q to %s\n", len(report.Threats), report.Query, outFile)
	}
	return nil
}
