package extract

import (
	"fmt"
	"os"
	"sync"
)

// FileRecorder appends titles to a text file, one per line, each prefixed
// with a newline. It is shared by every worker.
type FileRecorder struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileRecorder opens path for appending, creating it if needed. Existing
// content is never truncated.
func OpenFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open unparseable log: %w", err)
	}
	return &FileRecorder{f: f}, nil
}

func (r *FileRecorder) Record(title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.f.WriteString("\n" + title)
	return err
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// MemoryRecorder keeps titles in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	titles []string
}

func (r *MemoryRecorder) Record(title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

// Titles returns a copy of the recorded titles.
func (r *MemoryRecorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

var (
	_ Recorder = (*FileRecorder)(nil)
	_ Recorder = (*MemoryRecorder)(nil)
)
