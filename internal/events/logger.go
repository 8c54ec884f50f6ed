package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultLogPath is the default location for the diagnostics log.
	DefaultLogPath = "/var/log/gnbdash/diagnostics.jsonl"

	// DefaultRetentionDays is how long entries are kept.
	DefaultRetentionDays = 14

	// pruneEvery spaces retention sweeps.
	pruneEvery = 24 * time.Hour

	// maxLine bounds a single JSONL entry when pruning.
	maxLine = 1 << 20
)

// Logger appends events to a JSONL file and drops entries older than the
// retention window, on open and then at most once a day.
// All methods are safe on a nil *Logger, which is what a disabled sink is.
type Logger struct {
	path      string
	retention time.Duration
	errLog    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	file        *os.File
	nextPrune   time.Time
	writeFailed bool
}

// LoggerOptions configures the event logger.
type LoggerOptions struct {
	Path          string
	RetentionDays int
	Enabled       bool
	// ErrorLog receives write and pruning failures. Defaults to discarding them.
	ErrorLog *slog.Logger
	// Clock overrides time.Now.
	Clock func() time.Time
}

// DefaultOptions returns the default logger options.
func DefaultOptions() LoggerOptions {
	return LoggerOptions{
		Path:          DefaultLogPath,
		RetentionDays: DefaultRetentionDays,
		Enabled:       true,
	}
}

// NewLogger opens the diagnostics file. It returns a nil Logger and no
// error when opts.Enabled is false.
func NewLogger(opts LoggerOptions) (*Logger, error) {
	if !opts.Enabled {
		return nil, nil
	}
	if opts.Path == "" {
		opts.Path = DefaultLogPath
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.ErrorLog == nil {
		opts.ErrorLog = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l := &Logger{
		path:      resolvePath(opts.Path),
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		errLog:    opts.ErrorLog,
		now:       opts.Clock,
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("creating diagnostics directory: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.prune(); err != nil {
		l.errLog.Warn("diagnostics pruning failed", "path", l.path, "error", err)
	}
	if l.file == nil {
		f, err := openAppend(l.path)
		if err != nil {
			return nil, fmt.Errorf("opening diagnostics file: %w", err)
		}
		l.file = f
	}
	return l, nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends event. A zero timestamp is set to the current time. After
// Close it does nothing.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}

	now := l.now()
	if event.Timestamp.IsZero() {
		event.Timestamp = now.UTC()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		if !l.writeFailed {
			l.writeFailed = true
			l.errLog.Warn("diagnostics write failed", "path", l.path, "error", err)
		}
		return fmt.Errorf("writing %s event: %w", event.Type, err)
	}
	l.writeFailed = false

	if !now.Before(l.nextPrune) {
		if err := l.prune(); err != nil {
			l.errLog.Warn("diagnostics pruning failed", "path", l.path, "error", err)
		}
	}
	return nil
}

// LogEvent builds and appends an event. data may be one of the *Data types
// or a map.
func (l *Logger) LogEvent(eventType EventType, run string, data interface{}) error {
	if l == nil {
		return nil
	}
	return l.Log(&Event{Type: eventType, Run: run, Data: ToMap(data)})
}

// Emit is LogEvent for callers that must not be affected by the sink.
func (l *Logger) Emit(eventType EventType, run string, data interface{}) {
	_ = l.LogEvent(eventType, run, data)
}

// Close closes the file. Further events are dropped.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// prune rewrites the file without expired entries and reopens it. Callers
// hold mu.
func (l *Logger) prune() error {
	now := l.now()
	l.nextPrune = now.Add(pruneEvery)

	src, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	var kept bytes.Buffer
	dropped, err := keepSince(src, &kept, now.Add(-l.retention))
	if err != nil || dropped == 0 {
		return err
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, kept.Bytes(), 0644); err != nil {
		return err
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	renameErr := os.Rename(tmp, l.path)
	if renameErr != nil {
		os.Remove(tmp)
	}
	f, err := openAppend(l.path)
	if err != nil {
		return err
	}
	l.file = f
	if renameErr != nil {
		return renameErr
	}
	l.errLog.Debug("diagnostics pruned", "path", l.path, "dropped", dropped)
	return nil
}

// keepSince copies the lines of r whose timestamp is at or after cutoff to
// w and returns how many were dropped. Lines that do not parse are kept.
func keepSince(r io.Reader, w io.Writer, cutoff time.Time) (dropped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var head struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if json.Unmarshal(line, &head) == nil && head.Timestamp.Before(cutoff) {
			dropped++
			continue
		}
		if _, err := w.Write(line); err != nil {
			return dropped, err
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return dropped, err
		}
	}
	return dropped, sc.Err()
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// resolvePath expands a leading ~/ to the home directory.
func resolvePath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
