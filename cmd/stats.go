package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentic-research/wikigraph/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats [db]",
	Short: "Print article and link counts of a store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := outputPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			cfg, err := loadConfig(cmd, "", false)
			if err != nil {
				return err
			}
			path = cfg.Output
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("stat store: %w", err)
		}

		s, err := store.OpenReadOnly(path)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		articles, links, err := s.Counts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s articles, %s links\n",
			path, humanize.Comma(articles), humanize.Comma(links))
		return nil
	},
}
