package partition

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// PartitionError reports a shard whose end boundary could not be located.
type PartitionError struct {
	Shard  int
	Offset int64
	Err    error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition shard %d from offset %d: %v", e.Shard, e.Offset, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }

// Options configures a Partition call.
type Options struct {
	Input  string
	Dir    string
	Marker string
	Shards int
	// Window overrides the boundary scanner read size.
	Window int
	Logger logrus.FieldLogger
}

// ShardPaths returns the deterministic shard file names for input:
// <dir>/<base>-split<i>.xml for i in 1..n.
func ShardPaths(input, dir string, n int) []string {
	base := shardBase(input)
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%s-split%d.xml", base, i+1))
	}
	return paths
}

func shardBase(input string) string {
	return strings.TrimSuffix(filepath.Base(input), ".xml")
}

// Partition cuts opts.Input into opts.Shards contiguous shard files. When a
// complete set of shard files already exists it is returned untouched.
func Partition(ctx context.Context, opts Options) ([]string, error) {
	if opts.Shards < 1 {
		return nil, fmt.Errorf("shard count must be positive, got %d", opts.Shards)
	}
	if opts.Marker == "" {
		return nil, errors.New("empty boundary marker")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	paths := ShardPaths(opts.Input, opts.Dir, opts.Shards)
	if allExist(paths) {
		logger.WithField("shards", len(paths)).Info("Shard files already present, skipping split")
		return paths, nil
	}

	if err := removeStale(opts.Input, opts.Dir); err != nil {
		return nil, err
	}

	in, err := os.Open(opts.Input)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = in.Close() }() // read-only

	info, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	size := info.Size()
	splitSize := size / int64(opts.Shards)
	scanner := Scanner{Window: opts.Window}
	marker := []byte(opts.Marker)

	var last int64
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			removeAll(paths)
			return nil, err
		}

		end := size
		if i < len(paths)-1 {
			end, err = scanner.FindBoundary(in, last+splitSize, marker)
			if err != nil {
				removeAll(paths)
				return nil, &PartitionError{Shard: i + 1, Offset: last + splitSize, Err: err}
			}
		}

		if err := writeShard(path, in, last, end); err != nil {
			removeAll(paths)
			return nil, fmt.Errorf("write shard %d: %w", i+1, err)
		}
		logger.WithFields(logrus.Fields{
			"shard": i + 1,
			"path":  path,
			"from":  last,
			"to":    end,
		}).Infof("Wrote shard (%s)", humanize.Bytes(uint64(end-last)))
		last = end
	}
	return paths, nil
}

func writeShard(path string, src io.ReaderAt, from, to int64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := io.Copy(w, io.NewSectionReader(src, from, to-from)); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func allExist(paths []string) bool {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// removeStale deletes every shard file of input left in dir, whatever shard
// count produced it.
func removeStale(input, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read shard dir: %w", err)
	}
	prefix := shardBase(input) + "-split"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".xml") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale shard %s: %w", name, err)
		}
	}
	return nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p) // may not exist yet
	}
}
