package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// promptThreads asks for a positive integer until it gets one.
func promptThreads(in io.Reader, out io.Writer) (int, error) {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Number of parsing threads: ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, fmt.Errorf("read thread count: %w", err)
			}
			return 0, errors.New("no thread count given")
		}
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err == nil && n > 0 {
			return n, nil
		}
		fmt.Fprintln(out, "Please enter a positive integer")
	}
}
