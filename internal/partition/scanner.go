// Package partition splits a dump into shard files whose boundaries always
// fall immediately after a record-closing marker.
package partition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultWindow is the read size used when scanning for a boundary.
const DefaultWindow = 1024

// ErrBoundaryNotFound is returned when EOF is reached before the marker.
var ErrBoundaryNotFound = errors.New("boundary marker not found")

// Scanner locates marker occurrences by reading fixed-size windows. The last
// len(marker)-1 bytes of each window are carried into the next one, so a
// marker split across a window seam is still found.
type Scanner struct {
	Window int
}

// FindBoundary uses a Scanner with the default window.
func FindBoundary(r io.ReaderAt, start int64, marker []byte) (int64, error) {
	return Scanner{}.FindBoundary(r, start, marker)
}

// FindBoundary returns the offset immediately after the first occurrence of
// marker that begins at or after start.
func (s Scanner) FindBoundary(r io.ReaderAt, start int64, marker []byte) (int64, error) {
	if len(marker) == 0 {
		return 0, errors.New("empty boundary marker")
	}
	if start < 0 {
		return 0, fmt.Errorf("negative start offset %d", start)
	}
	window := s.Window
	if window <= 0 {
		window = DefaultWindow
	}

	keep := len(marker) - 1
	buf := make([]byte, keep+window)
	carried := 0
	off := start
	for {
		n, err := r.ReadAt(buf[carried:carried+window], off)
		if n > 0 {
			data := buf[:carried+n]
			if i := bytes.Index(data, marker); i >= 0 {
				// data[0] sits at file offset off-carried.
				return off - int64(carried) + int64(i+len(marker)), nil
			}
			off += int64(n)
			if len(data) > keep {
				copy(buf, data[len(data)-keep:])
				carried = keep
			} else {
				carried = len(data)
			}
		}
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w after offset %d", ErrBoundaryNotFound, start)
		}
		if err != nil {
			return 0, fmt.Errorf("read at offset %d: %w", off, err)
		}
	}
}
