//go:build !linux && !darwin

package config

// MaxThreads reports no limit on platforms without RLIMIT_NOFILE.
func MaxThreads() int { return 0 }
