package supervisor

import (
	"fmt"
	"io"
	"os"
)

// DefaultTailWindow is how many trailing bytes each poll scans.
const DefaultTailWindow = 4096

// LogCursor reads bounded trailing windows of a growing log file. It
// remembers the size it last saw so unchanged files are skipped, and starts
// over when the file shrinks.
type LogCursor struct {
	path   string
	window int64
	offset int64
}

// NewLogCursor returns a cursor over path scanning window bytes per poll.
func NewLogCursor(path string, window int64) *LogCursor {
	if window <= 0 {
		window = DefaultTailWindow
	}
	return &LogCursor{path: path, window: window}
}

// Offset returns the file size observed by the last Poll.
func (c *LogCursor) Offset() int64 { return c.offset }

// Reset forgets the last observed size.
func (c *LogCursor) Reset() { c.offset = 0 }

// Poll returns the last window of the file. changed is false when the file
// has not grown since the previous call, in which case tail is empty.
func (c *LogCursor) Poll() (tail string, changed bool, err error) {
	f, err := os.Open(c.path)
	if err != nil {
		return "", false, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("stat log: %w", err)
	}
	size := info.Size()
	if size < c.offset {
		c.offset = 0
	}
	if size == c.offset {
		return "", false, nil
	}

	start := size - c.window
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	n, err := f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return "", false, fmt.Errorf("reading log tail: %w", err)
	}
	c.offset = start + int64(n)
	return string(buf[:n]), true, nil
}
