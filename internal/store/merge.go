package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ShardResult is the outcome of folding one shard store into the final store.
type ShardResult struct {
	Path     string
	Articles int64
	Links    int64
	Err      error
}

// MergeReport records every shard the merger was handed, in input order.
// Merged and Failed hold positions into Shards.
type MergeReport struct {
	Shards []ShardResult
	Merged *roaring.Bitmap
	Failed *roaring.Bitmap
}

// Articles is the number of article rows merged across all shards.
func (r MergeReport) Articles() int64 {
	var n int64
	for _, s := range r.Shards {
		n += s.Articles
	}
	return n
}

// Links is the number of edge rows merged across all shards.
func (r MergeReport) Links() int64 {
	var n int64
	for _, s := range r.Shards {
		n += s.Links
	}
	return n
}

// Merger folds shard stores into Final, one transaction per shard.
type Merger struct {
	Final *Store
	// Retries bounds the attempts on SQLITE_BUSY / SQLITE_LOCKED.
	Retries int
	// Interval is the first backoff delay; zero uses the backoff default.
	Interval time.Duration
	Logger   logrus.FieldLogger
}

// Merge copies every shard in order. A failed shard leaves the final store
// as it was and keeps its file; the remaining shards are still merged. The
// returned error joins the per-shard failures.
func (m *Merger) Merge(ctx context.Context, shardPaths []string) (MergeReport, error) {
	logger := m.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	report := MergeReport{
		Shards: make([]ShardResult, len(shardPaths)),
		Merged: roaring.New(),
		Failed: roaring.New(),
	}
	var errs *multierror.Error
	for i, path := range shardPaths {
		slog := logger.WithFields(logrus.Fields{"shard": i + 1, "path": path})
		res := ShardResult{Path: path}

		if err := ctx.Err(); err != nil {
			res.Err = err
		} else {
			res.Articles, res.Links, res.Err = m.mergeWithRetry(ctx, path)
		}
		report.Shards[i] = res

		if res.Err != nil {
			report.Failed.Add(uint32(i))
			errs = multierror.Append(errs, fmt.Errorf("merge shard %d (%s): %w", i+1, path, res.Err))
			slog.WithError(res.Err).Error("Failed to merge shard")
			continue
		}
		report.Merged.Add(uint32(i))
		slog.WithFields(logrus.Fields{
			"articles": humanize.Comma(res.Articles),
			"links":    humanize.Comma(res.Links),
		}).Info("Merged shard")

		if err := os.Remove(path); err != nil {
			slog.WithError(err).Warn("Failed to remove merged shard store")
		}
	}
	return report, errs.ErrorOrNil()
}

func (m *Merger) mergeWithRetry(ctx context.Context, path string) (articles, links int64, err error) {
	eb := backoff.NewExponentialBackOff()
	if m.Interval > 0 {
		eb.InitialInterval = m.Interval
	}
	retries := m.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	err = backoff.Retry(func() error {
		a, l, err := m.mergeShard(ctx, path)
		if err != nil {
			if IsBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		articles, links = a, l
		return nil
	}, b)
	return articles, links, err
}

func (m *Merger) mergeShard(ctx context.Context, path string) (articles, links int64, err error) {
	// ATTACH on a missing file would create an empty database.
	if _, err := os.Stat(path); err != nil {
		return 0, 0, fmt.Errorf("shard store: %w", err)
	}

	conn, err := m.Final.db.Conn(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("pin connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS shard`, path); err != nil {
		return 0, 0, fmt.Errorf("attach: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), `DETACH DATABASE shard`) }()

	var version int
	if err := conn.QueryRowContext(ctx, `PRAGMA shard.user_version`).Scan(&version); err != nil {
		return 0, 0, fmt.Errorf("read shard version: %w", err)
	}
	if version != completeVersion {
		return 0, 0, ErrIncomplete
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO articles (Title) SELECT Title FROM shard.articles`)
	if err != nil {
		return 0, 0, fmt.Errorf("copy articles: %w", err)
	}
	if articles, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	res, err = tx.ExecContext(ctx, `INSERT INTO article_links (Linker, Linked) SELECT Linker, Linked FROM shard.article_links`)
	if err != nil {
		return 0, 0, fmt.Errorf("copy links: %w", err)
	}
	if links, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return articles, links, nil
}

// IsBusy reports whether err is a transient SQLite lock error.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
