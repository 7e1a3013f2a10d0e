package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/sources"
)

// sourcesCmd represents the sources command
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the connectors that would be queried",
	Long: `Sources prints every enabled connector in priority order with its
authority tier. Connectors that need credentials are listed only when the
configured environment variables are set.`,
	Args: cobra.NoArgs,
	RunE: runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	agg := sources.NewDefaultAggregator(cfg.Sources, zap.NewNop(), nil)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tAUTHORITY")
	for _, c := range agg.Connectors() {
		fmt.Fprintf(tw, "%s\t%s\n", c.Name(), c.Authority())
	}
	return tw.Flush()
}
