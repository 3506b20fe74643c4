// Package config holds the run configuration shared by every stage of the
// pipeline. A Config is built once, validated, and then only read.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Link policies applied when a page links into a disallowed namespace.
const (
	// DropPage discards the whole page, including links found before the
	// offending target.
	DropPage = "drop-page"
	// DropEdge discards only the offending link.
	DropEdge = "drop-edge"
)

// DefaultPrefixes are the namespaces excluded from the link graph.
var DefaultPrefixes = []string{"Wikipedia:", "Draft:", "Template:", "Category:", "File:"}

// Config is the explicit configuration threaded through partitioning,
// extraction and merging.
type Config struct {
	Input        string
	TempDir      string
	Output       string
	Unparseables string

	// Marker is the record-closing tag shards are aligned on.
	Marker string
	// Threads is the shard count and the number of extraction workers.
	Threads int

	ParseBudget        time.Duration
	DisallowedPrefixes []string
	LinkPolicy         string

	// AllowPartial merges the shards whose workers succeeded instead of
	// halting the run when any worker fails.
	AllowPartial bool
	MergeRetries int
}

// Default returns the configuration used when neither a config file nor
// flags override anything.
func Default() *Config {
	return &Config{
		TempDir:            "temp",
		Output:             "wikigraph.db",
		Unparseables:       "unparseables.txt",
		Marker:             "</page>",
		ParseBudget:        5000 * time.Millisecond,
		DisallowedPrefixes: append([]string(nil), DefaultPrefixes...),
		LinkPolicy:         DropPage,
		MergeRetries:       3,
	}
}

// ShardStorePath is the per-worker store for shard i (1-based).
func (c *Config) ShardStorePath(i int) string {
	return filepath.Join(c.TempDir, fmt.Sprintf("%d.db", i))
}

// Validate checks the configuration before any work begins.
func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("%w: thread count must be a positive integer, got %d", ErrInvalid, c.Threads)
	}
	if limit := MaxThreads(); limit > 0 && c.Threads > limit {
		return fmt.Errorf("%w: thread count %d exceeds the file descriptor budget (max %d)",
			ErrInvalid, c.Threads, limit)
	}
	if c.Marker == "" {
		return fmt.Errorf("%w: boundary marker is empty", ErrInvalid)
	}
	if c.ParseBudget < 0 {
		return fmt.Errorf("%w: parse budget is negative", ErrInvalid)
	}
	switch c.LinkPolicy {
	case DropPage, DropEdge:
	default:
		return fmt.Errorf("%w: unknown link policy %q", ErrInvalid, c.LinkPolicy)
	}
	if c.MergeRetries < 0 {
		return fmt.Errorf("%w: merge retries is negative", ErrInvalid)
	}
	if c.TempDir == "" || c.Output == "" {
		return fmt.Errorf("%w: temp dir and output must be set", ErrInvalid)
	}
	return nil
}
