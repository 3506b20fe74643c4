//go:build linux || darwin

package config

import "golang.org/x/sys/unix"

// Each worker holds its shard file, its shard store and the store's journal.
const (
	fdsPerWorker = 3
	fdReserve    = 16
)

// MaxThreads derives the largest worker count the soft RLIMIT_NOFILE can
// sustain. Zero means the limit could not be read.
func MaxThreads() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}
	if rl.Cur == unix.RLIM_INFINITY {
		return 0
	}
	n := (int64(rl.Cur) - fdReserve) / fdsPerWorker
	if n < 1 {
		return 1
	}
	return int(n)
}
