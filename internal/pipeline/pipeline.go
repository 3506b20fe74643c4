// Package pipeline runs a full conversion: partition the dump, extract every
// shard in parallel, then merge the shard stores into the final store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/wikigraph/internal/config"
	"github.com/agentic-research/wikigraph/internal/extract"
	"github.com/agentic-research/wikigraph/internal/filter"
	"github.com/agentic-research/wikigraph/internal/partition"
	"github.com/agentic-research/wikigraph/internal/store"
	"github.com/agentic-research/wikigraph/internal/wikitext"
)

var _ extract.PageWriter = (*store.Store)(nil)

// ShardOutcome is what one extraction worker produced.
type ShardOutcome struct {
	Index int // 1-based
	Input string
	Store string
	Stats extract.Stats
	Err   error
}

// Report summarises a run. Bitmaps hold 1-based shard indices.
type Report struct {
	Shards    int
	Outcomes  []ShardOutcome
	Succeeded *roaring.Bitmap
	Failed    *roaring.Bitmap
	Merged    *roaring.Bitmap
	Unmerged  *roaring.Bitmap
	Merge     store.MergeReport
	Duration  time.Duration

	partial bool
}

func newReport(n int) *Report {
	return &Report{
		Shards:    n,
		Outcomes:  make([]ShardOutcome, n),
		Succeeded: roaring.New(),
		Failed:    roaring.New(),
		Merged:    roaring.New(),
		Unmerged:  roaring.New(),
	}
}

// Partial reports whether failed workers were left out of the merge.
func (r *Report) Partial() bool { return r.partial }

// OK reports whether every shard was extracted and merged.
func (r *Report) OK() bool {
	return r.Failed.IsEmpty() && r.Unmerged.IsEmpty() && int(r.Merged.GetCardinality()) == r.Shards
}

// Split creates the temp directory and partitions the input. An existing
// temp directory is reused.
func Split(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) ([]string, error) {
	if err := os.Mkdir(cfg.TempDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	shards, err := partition.Partition(ctx, partition.Options{
		Input:  cfg.Input,
		Dir:    cfg.TempDir,
		Marker: cfg.Marker,
		Shards: cfg.Threads,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", cfg.Input, err)
	}
	return shards, nil
}

// Run executes the whole conversion. The returned report is non-nil once
// partitioning has succeeded, even when an error is returned.
func Run(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	shards, err := Split(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := RemoveShardStores(cfg.TempDir); err != nil {
		return nil, err
	}

	rec, err := extract.OpenFileRecorder(cfg.Unparseables)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rec.Close() }()

	report := newReport(len(shards))
	extractErr := extractAll(ctx, cfg, shards, rec, logger, report)
	if extractErr != nil && !cfg.AllowPartial {
		report.Duration = time.Since(start)
		return report, fmt.Errorf("extraction failed, not merging: %w", extractErr)
	}
	if extractErr != nil {
		report.partial = true
		logger.WithError(extractErr).WithField("failed", report.Failed.ToArray()).
			Warn("Merging only the shards whose workers succeeded")
	}

	order := report.Succeeded.ToArray()
	paths := make([]string, len(order))
	for i, idx := range order {
		paths[i] = cfg.ShardStorePath(int(idx))
	}
	mr, mergeErr := mergeInto(ctx, cfg, paths, logger)
	report.Merge = mr
	if mr.Merged != nil {
		for it := mr.Merged.Iterator(); it.HasNext(); {
			report.Merged.Add(order[it.Next()])
		}
		for it := mr.Failed.Iterator(); it.HasNext(); {
			report.Unmerged.Add(order[it.Next()])
		}
	}
	report.Duration = time.Since(start)
	if mergeErr != nil {
		return report, mergeErr
	}

	logger.WithFields(logrus.Fields{
		"articles": humanize.Comma(mr.Articles()),
		"links":    humanize.Comma(mr.Links()),
		"took":     report.Duration.Round(time.Millisecond),
	}).Info("Merged all shard stores")
	return report, nil
}

// extractAll runs one worker per shard and records every outcome. Without
// AllowPartial the first failure cancels the other workers.
func extractAll(ctx context.Context, cfg *config.Config, shards []string, rec extract.Recorder, logger logrus.FieldLogger, report *Report) error {
	flt := filter.New(cfg.DisallowedPrefixes)
	parser := wikitext.New(wikitext.Wikipedia)

	g, gctx := errgroup.WithContext(ctx)
	workCtx := gctx
	if cfg.AllowPartial {
		workCtx = ctx
	}
	for i, path := range shards {
		idx := i + 1
		g.Go(func() error {
			w := &extract.Worker{
				Filter: flt,
				Parser: parser,
				Budget: cfg.ParseBudget,
				Policy: cfg.LinkPolicy,
				Sink:   rec,
				Logger: logger.WithField("shard", idx),
			}
			storePath := cfg.ShardStorePath(idx)
			st, err := runShard(workCtx, w, path, storePath)
			report.Outcomes[i] = ShardOutcome{Index: idx, Input: path, Store: storePath, Stats: st, Err: err}
			if err != nil {
				w.Logger.WithError(err).Error("Worker failed")
				if cfg.AllowPartial {
					return nil
				}
				return err
			}
			w.Logger.WithFields(st.Fields()).Info("Worker finished")
			return nil
		})
	}
	_ = g.Wait()

	var errs *multierror.Error
	var cancelled *multierror.Error
	for _, o := range report.Outcomes {
		switch {
		case o.Err == nil:
			report.Succeeded.Add(uint32(o.Index))
		case errors.Is(o.Err, context.Canceled):
			report.Failed.Add(uint32(o.Index))
			cancelled = multierror.Append(cancelled, fmt.Errorf("shard %d: %w", o.Index, o.Err))
		default:
			report.Failed.Add(uint32(o.Index))
			errs = multierror.Append(errs, fmt.Errorf("shard %d: %w", o.Index, o.Err))
		}
	}
	// Cancelled siblings are noise next to the failure that caused them.
	if errs != nil {
		return errs
	}
	return cancelled.ErrorOrNil()
}

// shardStore is what a worker writes into. Tests swap createShardStore.
type shardStore interface {
	extract.PageWriter
	MarkComplete() error
	Close() error
}

var createShardStore = func(path string) (shardStore, error) { return store.Create(path) }

func runShard(ctx context.Context, w *extract.Worker, input, storePath string) (st extract.Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	f, err := os.Open(input)
	if err != nil {
		return st, fmt.Errorf("open shard: %w", err)
	}
	defer func() { _ = f.Close() }() // read-only

	s, err := createShardStore(storePath)
	if err != nil {
		return st, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close shard store: %w", cerr)
		}
	}()

	if st, err = w.Run(ctx, f, s); err != nil {
		return st, err
	}
	return st, s.MarkComplete()
}

// Merge folds every shard store left in the temp directory into the final
// store. It resumes a run whose merge failed. Stores of workers that did not
// finish are refused and reported as failed.
func Merge(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (store.MergeReport, error) {
	paths, err := ShardStores(cfg.TempDir)
	if err != nil {
		return store.MergeReport{}, err
	}
	if len(paths) == 0 {
		return store.MergeReport{}, fmt.Errorf("no shard stores in %s", cfg.TempDir)
	}
	return mergeInto(ctx, cfg, paths, logger)
}

func mergeInto(ctx context.Context, cfg *config.Config, paths []string, logger logrus.FieldLogger) (store.MergeReport, error) {
	final, err := store.Open(cfg.Output)
	if err != nil {
		return store.MergeReport{}, fmt.Errorf("open final store: %w", err)
	}
	defer func() { _ = final.Close() }()

	m := &store.Merger{Final: final, Retries: cfg.MergeRetries, Logger: logger}
	report, err := m.Merge(ctx, paths)
	if err != nil {
		return report, fmt.Errorf("merge into %s: %w", cfg.Output, err)
	}
	return report, nil
}

var shardStoreName = regexp.MustCompile(`^([0-9]+)\.db$`)

// ShardStores lists the <i>.db shard stores in dir ordered by index.
func ShardStores(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read temp dir: %w", err)
	}
	type indexed struct {
		n    int
		path string
	}
	var found []indexed
	for _, e := range entries {
		m := shardStoreName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, indexed{n, filepath.Join(dir, e.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

// RemoveShardStores deletes stale shard stores from an earlier run.
func RemoveShardStores(dir string) error {
	paths, err := ShardStores(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale shard store: %w", err)
		}
	}
	return nil
}
