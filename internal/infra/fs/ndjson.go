package fs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTruncatedTail marks a final line without its newline, left by a crash mid-append
var ErrTruncatedTail = errors.New("truncated trailing line")

// AppendLine appends one line to an NDJSON file under an exclusive flock and
// fsyncs it before returning. A newly created file also syncs its directory.
func AppendLine(path string, line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return fmt.Errorf("append %s: line contains a newline", path)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("append %s: create dir: %w", path, err)
	}
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("append %s: open: %w", path, err)
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		return fmt.Errorf("append %s: lock: %w", path, err)
	}
	defer flockUnlock(f)

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("append %s: write: %w", path, err)
	}
	if err := FsyncFile(f); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	if created {
		if err := FsyncDir(dir); err != nil {
			return fmt.Errorf("append %s: %w", path, err)
		}
	}
	return nil
}

// ReadLines returns the complete lines of an NDJSON file and the byte offset
// just past the last complete line. A trailing partial line is reported with
// ErrTruncatedTail alongside the complete lines. Blank lines are skipped.
func ReadLines(path string) ([][]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var (
		lines  [][]byte
		offset int64
	)
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return lines, offset, ErrTruncatedTail
			}
			return lines, offset, nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", path, err)
		}
		offset += int64(len(line))
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
}

// TruncateTo cuts path back to size bytes and fsyncs it.
// Used to drop a partial line before appending after a crash.
func TruncateTo(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	defer f.Close()
	if err := flockExclusive(f); err != nil {
		return fmt.Errorf("truncate %s: lock: %w", path, err)
	}
	defer flockUnlock(f)
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return FsyncFile(f)
}
