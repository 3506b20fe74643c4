package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentic-research/wikigraph/internal/config"
	"github.com/agentic-research/wikigraph/internal/pipeline"
)

var (
	configPath   string
	threads      int
	tempDir      string
	outputPath   string
	unparseables string
	budget       time.Duration
	allowPartial bool
	linkPolicy   string
	verbose      bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to an HCL config file")
	pf.IntVarP(&threads, "threads", "t", 0, "Number of shards and parsing workers (prompted when unset)")
	pf.StringVar(&tempDir, "temp-dir", "", "Directory for shard files and shard stores (default \"temp\")")
	pf.StringVarP(&outputPath, "output", "o", "", "Final SQLite store (default \"wikigraph.db\")")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	f := rootCmd.Flags()
	f.StringVar(&unparseables, "unparseables", "", "Append titles that failed to parse to this file (default \"unparseables.txt\")")
	f.DurationVar(&budget, "budget", 0, "Per-page parse time budget, 0 disables it (default 5s)")
	f.BoolVar(&allowPartial, "allow-partial", false, "Merge the shards whose workers succeeded when others fail")
	f.StringVar(&linkPolicy, "link-policy", "", "Handling of links into disallowed namespaces: drop-page or drop-edge")

	rootCmd.AddCommand(splitCmd, mergeCmd, statsCmd)
}

var rootCmd = &cobra.Command{
	Use:           "wikigraph <dump.xml>",
	Short:         "Build a SQLite link graph from a MediaWiki XML dump",
	Args:          dumpArg,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args[0], true)
		if err != nil {
			return err
		}
		logger := newLogger(cmd)

		report, err := pipeline.Run(cmd.Context(), cfg, logger)
		if report != nil {
			printReport(cmd, report)
		}
		if err != nil {
			return fmt.Errorf("failed to build %s: %w", cfg.Output, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "DB files successfully merged into %s\n", cfg.Output)
		return nil
	},
}

// dumpArg requires the dump path. Usage is silenced for runtime errors, so a
// missing argument carries the usage text itself.
func dumpArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one dump file, got %d arguments\n\n%s", len(args), cmd.UsageString())
	}
	return nil
}

// loadConfig layers defaults, the config file and explicit flags. The
// thread count is prompted for when needed and still unset.
func loadConfig(cmd *cobra.Command, input string, needThreads bool) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	cfg.Input = input

	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.Threads = threads
	}
	if flags.Changed("temp-dir") {
		cfg.TempDir = tempDir
	}
	if flags.Changed("output") {
		cfg.Output = outputPath
	}
	if flags.Changed("unparseables") {
		cfg.Unparseables = unparseables
	}
	if flags.Changed("budget") {
		cfg.ParseBudget = budget
	}
	if flags.Changed("allow-partial") {
		cfg.AllowPartial = allowPartial
	}
	if flags.Changed("link-policy") {
		cfg.LinkPolicy = linkPolicy
	}

	if needThreads && cfg.Threads == 0 {
		n, err := promptThreads(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return nil, err
		}
		cfg.Threads = n
	}
	if needThreads {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func printReport(cmd *cobra.Command, r *pipeline.Report) {
	out := cmd.OutOrStdout()
	var pages, written, unparseable int64
	for _, o := range r.Outcomes {
		pages += o.Stats.Pages
		written += o.Stats.Written
		unparseable += o.Stats.Unparseable
	}
	fmt.Fprintf(out, "Shards: %d (succeeded %d, failed %d, merged %d)\n",
		r.Shards, r.Succeeded.GetCardinality(), r.Failed.GetCardinality(), r.Merged.GetCardinality())
	fmt.Fprintf(out, "Pages: %s read, %s written, %s unparseable\n",
		humanize.Comma(pages), humanize.Comma(written), humanize.Comma(unparseable))
	if r.Merge.Merged != nil {
		fmt.Fprintf(out, "Merged: %s articles, %s links in %s\n",
			humanize.Comma(r.Merge.Articles()), humanize.Comma(r.Merge.Links()), r.Duration.Round(time.Millisecond))
	}
	if r.Partial() {
		fmt.Fprintf(out, "Partial run: shards %v were not merged\n", r.Failed.ToArray())
	}
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
