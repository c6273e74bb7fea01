// Package logs reads the tail of fleetcheck's own log file.
package logs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// MaxLines bounds a single Tail request
const MaxLines = 10000

const chunkSize = 4096

// Tail returns the last n lines of the file at path, oldest first. Carriage
// returns are dropped and empty lines are skipped.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("lines must be greater than 0")
	}
	if n > MaxLines {
		return nil, fmt.Errorf("lines cannot exceed %d", MaxLines)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	data, err := readTail(f, stat.Size(), n)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// readTail reads backwards in chunks until the buffer holds more than n
// line breaks or the start of the file is reached
func readTail(r io.ReaderAt, size int64, n int) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, chunkSize)
	pos := size

	for pos > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		readSize := int64(chunkSize)
		if pos < readSize {
			readSize = pos
		}
		pos -= readSize

		if _, err := r.ReadAt(chunk[:readSize], pos); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read log file: %w", err)
		}
		buf = append(append([]byte(nil), chunk[:readSize]...), buf...)
	}

	// Drop a partial first line unless the whole file was read
	if pos > 0 {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}
	return buf, nil
}
