// Package watcher reports debounced changes to individual files using
// fsnotify, with a stat-polling fallback where inotify is unavailable.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by AddFile after Close.
var ErrClosed = errors.New("watcher: closed")

// DefaultPollInterval is the stat interval in polling mode.
const DefaultPollInterval = time.Second

// Op is a bit set of file operations.
type Op uint32

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
	Chmod

	All = Create | Write | Remove | Rename | Chmod
)

func (o Op) String() string {
	if o == 0 {
		return "none"
	}
	names := []string{"create", "write", "remove", "rename", "chmod"}
	var out string
	for i, n := range names {
		if o&(1<<i) != 0 {
			if out != "" {
				out += "|"
			}
			out += n
		}
	}
	return out
}

func opFromFsnotify(op fsnotify.Op) Op {
	var o Op
	if op.Has(fsnotify.Create) {
		o |= Create
	}
	if op.Has(fsnotify.Write) {
		o |= Write
	}
	if op.Has(fsnotify.Remove) {
		o |= Remove
	}
	if op.Has(fsnotify.Rename) {
		o |= Rename
	}
	if op.Has(fsnotify.Chmod) {
		o |= Chmod
	}
	return o
}

// Change is one observed operation on a watched file.
type Change struct {
	Path string
	Op   Op
}

// Handler receives the changes coalesced within one debounce window.
type Handler func(changes []Change)

// ErrorHandler receives watch errors.
type ErrorHandler func(err error)

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
	mode    os.FileMode
}

// Watcher watches a set of files. Each file is watched through its parent
// directory so editors that replace the file by rename keep being observed.
type Watcher struct {
	handler      Handler
	errorHandler ErrorHandler
	debouncer    *Debouncer
	ops          Op
	polling      bool
	pollInterval time.Duration

	fs     *fsnotify.Watcher
	stopCh chan struct{}

	mu      sync.Mutex
	files   map[string]fileState
	dirs    map[string]int
	pending []Change
	closed  bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debouncer = NewDebouncer(d) }
}

// WithOps restricts delivered changes to the given operations.
func WithOps(ops Op) Option {
	return func(w *Watcher) { w.ops = ops }
}

// WithErrorHandler installs an error callback.
func WithErrorHandler(h ErrorHandler) Option {
	return func(w *Watcher) { w.errorHandler = h }
}

// WithPolling forces stat polling at the given interval.
func WithPolling(interval time.Duration) Option {
	return func(w *Watcher) {
		w.polling = true
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// New starts a watcher. When fsnotify cannot be initialised the watcher
// falls back to polling and reports the cause to the error handler.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watcher: nil handler")
	}
	w := &Watcher{
		handler:      handler,
		debouncer:    NewDebouncer(DefaultDebounce),
		ops:          All,
		pollInterval: DefaultPollInterval,
		stopCh:       make(chan struct{}),
		files:        make(map[string]fileState),
		dirs:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}

	if !w.polling {
		fs, err := fsnotify.NewWatcher()
		if err != nil {
			w.reportError(fmt.Errorf("fsnotify unavailable, polling instead: %w", err))
			w.polling = true
		} else {
			w.fs = fs
		}
	}

	if w.polling {
		go w.poll()
	} else {
		go w.run()
	}
	return w, nil
}

// AddFile starts watching path. The file itself need not exist yet, but its
// directory must.
func (w *Watcher) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("watcher: %s is not a directory", dir)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, ok := w.files[abs]; ok {
		return nil
	}
	if !w.polling && w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[abs] = statFile(abs)
	return nil
}

// Files returns the watched paths, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for p := range w.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close stops the watcher. Pending changes are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.debouncer.Cancel()
	close(w.stopCh)
	if w.fs != nil {
		return w.fs.Close()
	}
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			_, watched := w.files[abs]
			if watched {
				w.files[abs] = statFile(abs)
			}
			w.mu.Unlock()
			if watched {
				w.queue(Change{Path: abs, Op: opFromFsnotify(ev.Op)})
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.pollOnce()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) pollOnce() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		cur := statFile(p)
		w.mu.Lock()
		prev, ok := w.files[p]
		if ok {
			w.files[p] = cur
		}
		w.mu.Unlock()
		if !ok {
			continue
		}
		if op := diffState(prev, cur); op != 0 {
			w.queue(Change{Path: p, Op: op})
		}
	}
}

func diffState(prev, cur fileState) Op {
	switch {
	case !prev.exists && cur.exists:
		return Create
	case prev.exists && !cur.exists:
		return Remove
	case !cur.exists:
		return 0
	}
	var op Op
	if !cur.modTime.Equal(prev.modTime) || cur.size != prev.size {
		op |= Write
	}
	if cur.mode != prev.mode {
		op |= Chmod
	}
	return op
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size(), mode: info.Mode()}
}

func (w *Watcher) queue(c Change) {
	if c.Op&w.ops == 0 {
		return
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, c)
	w.mu.Unlock()

	w.debouncer.Trigger(w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(batch) > 0 {
		w.handler(batch)
	}
}

func (w *Watcher) reportError(err error) {
	if w.errorHandler != nil {
		w.errorHandler(err)
	}
}
