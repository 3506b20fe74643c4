package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentic-research/wikigraph/internal/pipeline"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the shard stores left in the temp directory into the final store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, "", false)
		if err != nil {
			return err
		}
		report, err := pipeline.Merge(cmd.Context(), cfg, newLogger(cmd))
		if err != nil {
			return fmt.Errorf("failed to merge DB: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Merged %d shard stores: %s articles, %s links\n",
			report.Merged.GetCardinality(), humanize.Comma(report.Articles()), humanize.Comma(report.Links()))
		return nil
	},
}
