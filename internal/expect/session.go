package expect

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/gnb-webdashboard/gnbdash/internal/proc"
)

// readChunk is the size of each read from the child.
const readChunk = 4096

// maxEscapeHold bounds how many trailing bytes may be held back while
// waiting for the rest of a split escape sequence.
const maxEscapeHold = 64

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("expect: session closed")

// Option configures a Session.
type Option func(*Session)

// WithProcess attaches the child process so Close terminates it.
func WithProcess(p *proc.Process) Option {
	return func(s *Session) { s.proc = p }
}

// WithLogger sets the logger used for debug traces of traffic.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGracePeriod sets how long Close waits after SIGTERM before SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Session) { s.grace = d }
}

// WithTranscript copies every chunk of raw child output to w.
func WithTranscript(w io.Writer) Option {
	return func(s *Session) { s.transcript = w }
}

// Session is a live connection to an interactive child. One goroutine reads
// the child's output into a buffer; Expect consumes from that buffer.
// Expect and Send must not be called concurrently with each other.
type Session struct {
	rw         io.ReadWriteCloser
	proc       *proc.Process
	logger     *slog.Logger
	grace      time.Duration
	transcript io.Writer

	mu      sync.Mutex
	buf     strings.Builder // ANSI-stripped, unconsumed output
	pending []byte          // raw tail that may be a partial escape sequence
	eof     bool
	readErr error
	notify  chan struct{}

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New wraps rw, typically a pty master, and starts the reader goroutine.
func New(rw io.ReadWriteCloser, opts ...Option) *Session {
	s := &Session{
		rw:     rw,
		logger: slog.New(slog.DiscardHandler),
		grace:  proc.DefaultGracePeriod,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	return s
}

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	Dir  string
	Env  []string
	Rows uint16
	Cols uint16
}

// Spawn starts name with args on a new pseudo-terminal.
func Spawn(name string, args []string, sopts SpawnOptions, opts ...Option) (*Session, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = sopts.Dir
	if len(sopts.Env) > 0 {
		cmd.Env = append(os.Environ(), sopts.Env...)
	}
	size := &pty.Winsize{Rows: sopts.Rows, Cols: sopts.Cols}
	if size.Rows == 0 {
		size.Rows = 40
	}
	if size.Cols == 0 {
		size.Cols = 200
	}

	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	p, err := proc.Watch(cmd)
	if err != nil {
		_ = ptmx.Close()
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	return New(ptmx, append([]Option{WithProcess(p)}, opts...)...), nil
}

func (s *Session) readLoop() {
	chunk := make([]byte, readChunk)
	for {
		n, err := s.rw.Read(chunk)
		if n > 0 {
			if s.transcript != nil {
				_, _ = s.transcript.Write(chunk[:n])
			}
			s.append(chunk[:n])
		}
		if err != nil {
			s.mu.Lock()
			s.flushPending()
			s.eof = true
			// A pty master returns EIO once the slave side is gone.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, fs.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				s.readErr = err
			}
			s.mu.Unlock()
			s.signal()
			return
		}
	}
}

func (s *Session) append(p []byte) {
	s.mu.Lock()
	data := append(s.pending, p...)
	s.pending = nil
	if i := partialEscapeAt(data); i >= 0 {
		s.pending = append([]byte(nil), data[i:]...)
		data = data[:i]
	}
	s.buf.WriteString(StripANSI(string(data)))
	s.mu.Unlock()
	s.signal()
}

// partialEscapeAt returns where an unfinished escape sequence starts in the
// last maxEscapeHold bytes of data, or -1. Complete sequences are skipped.
func partialEscapeAt(data []byte) int {
	for i := max(0, len(data)-maxEscapeHold); i < len(data); i++ {
		if data[i] != 0x1b {
			continue
		}
		if loc := ansiEscapeRegex.FindIndex(data[i:]); loc != nil && loc[0] == 0 {
			i += loc[1] - 1
			continue
		}
		if unfinishedEscape(data[i:]) {
			return i
		}
	}
	return -1
}

// flushPending must be called with mu held.
func (s *Session) flushPending() {
	if len(s.pending) > 0 {
		s.buf.WriteString(StripANSI(string(s.pending)))
		s.pending = nil
	}
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Expect waits until one of patterns matches the buffered output, the
// timeout elapses, or the child's output ends. Patterns are evaluated in
// list order; the first that matches anywhere wins, and the buffer is
// consumed through the end of the match. Timeout and EOF are always
// possible results whether or not the sentinels appear in patterns.
// A non-positive timeout checks the current buffer once.
func (s *Session) Expect(timeout time.Duration, patterns ...Pattern) Result {
	deadline := time.Now().Add(timeout)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		s.mu.Lock()
		buf := s.buf.String()
		if idx, start, end := Match(buf, patterns); idx >= 0 {
			s.buf.Reset()
			s.buf.WriteString(buf[end:])
			s.mu.Unlock()
			r := Result{Kind: KindMatch, Index: idx, Text: buf[start:end], Before: buf[:start]}
			s.logger.Debug("expect matched", "pattern", patterns[idx].Description, "text", r.Text)
			return r
		}
		if s.eof {
			s.buf.Reset()
			s.mu.Unlock()
			s.logger.Debug("expect eof", "remaining", len(buf))
			return Result{Kind: KindEOF, Index: sentinelIndex(patterns, kindEOF), Before: buf}
		}
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.Debug("expect timeout", "timeout", timeout, "pending", len(buf))
			return Result{Kind: KindTimeout, Index: sentinelIndex(patterns, kindTimeout), Before: buf}
		}
		if timer == nil {
			timer = time.NewTimer(remaining)
		} else {
			timer.Reset(remaining)
		}
		select {
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Send writes text to the child verbatim.
func (s *Session) Send(text string) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.logger.Debug("expect send", "text", text)
	if _, err := io.WriteString(s.rw, text); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendLine writes text followed by a newline.
func (s *Session) SendLine(text string) error {
	return s.Send(text + "\n")
}

// SendControl writes the control character for c, so SendControl('u')
// sends Ctrl-U (0x15).
func (s *Session) SendControl(c byte) error {
	switch {
	case c >= 'a' && c <= 'z':
		c -= 'a' - 'A'
	case c < '@' || c > '_':
		return fmt.Errorf("send control: invalid character %q", c)
	}
	return s.Send(string([]byte{c & 0x1f}))
}

// Buffer returns the unconsumed output.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// ReadErr returns the read error that ended the stream, if it was anything
// other than a normal end of file.
func (s *Session) ReadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

// Process returns the attached child process, or nil.
func (s *Session) Process() *proc.Process { return s.proc }

// ExitCode returns the child's exit code, or -1 if it is unknown or the
// child is still running.
func (s *Session) ExitCode() int {
	if s.proc == nil {
		return -1
	}
	return s.proc.ExitCode()
}

// Close closes the transport and terminates the child. Only the first call
// has any effect; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		err := s.rw.Close()
		if errors.Is(err, fs.ErrClosed) {
			err = nil
		}
		if s.proc != nil {
			if terr := s.proc.Terminate(s.grace); err == nil {
				err = terr
			}
		}
		s.closeErr = err
	})
	return s.closeErr
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
