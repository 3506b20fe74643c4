package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/wikigraph/internal/pipeline"
)

var splitCmd = &cobra.Command{
	Use:   "split <dump.xml>",
	Short: "Partition a dump into shard files without parsing it",
	Args:  dumpArg,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args[0], true)
		if err != nil {
			return err
		}
		shards, err := pipeline.Split(cmd.Context(), cfg, newLogger(cmd))
		if err != nil {
			return err
		}
		for _, s := range shards {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}
