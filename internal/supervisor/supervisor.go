// Package supervisor runs gNB control commands with their output captured
// to a log file. Start-class actions are watched for a success marker under
// a deadline; the child is always gone by the time Run returns.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gnb-webdashboard/gnbdash/internal/events"
	"github.com/gnb-webdashboard/gnbdash/internal/proc"
)

// ErrUnknownAction is returned by Run for names missing from the catalog.
var ErrUnknownAction = errors.New("unknown action")

const (
	// DefaultMarker is the log text that means the cell came up.
	DefaultMarker = "CELL_IS_UP"
	// DefaultDeadline bounds a start-class run.
	DefaultDeadline = 120 * time.Second
	// DefaultPollInterval spaces log tail checks.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultLogDir holds action logs.
	DefaultLogDir = "/webdashboard/logdump"
	// FallbackLogDir is used, relative to the working directory, when
	// DefaultLogDir cannot be created.
	FallbackLogDir = "logs"
	// DefaultStartLog is truncated by each start-class run.
	DefaultStartLog = "setup_log.txt"
	// DefaultOneshotLog is where stop and status append. It is the start
	// log, so one file holds the whole start/stop history.
	DefaultOneshotLog = DefaultStartLog
)

// Options tunes supervision. Zero fields take the defaults above.
type Options struct {
	LogDir       string
	StartLog     string
	OneshotLog   string
	Marker       string
	Deadline     time.Duration
	PollInterval time.Duration
	TailWindow   int64
	GracePeriod  time.Duration
	Policy       Policy
}

func (o Options) withDefaults() Options {
	if o.LogDir == "" {
		o.LogDir = DefaultLogDir
	}
	if o.StartLog == "" {
		o.StartLog = DefaultStartLog
	}
	if o.OneshotLog == "" {
		o.OneshotLog = DefaultOneshotLog
	}
	if o.Marker == "" {
		o.Marker = DefaultMarker
	}
	if o.Deadline <= 0 {
		o.Deadline = DefaultDeadline
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.TailWindow <= 0 {
		o.TailWindow = DefaultTailWindow
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = proc.DefaultGracePeriod
	}
	if o.Policy == "" {
		o.Policy = PolicyReject
	}
	return o
}

// Recorder receives run metrics.
type Recorder interface {
	ActionStarted(action, class string)
	ActionFinished(action, class, outcome string, duration time.Duration)
	ActionRejected(action string)
}

type nopRecorder struct{}

func (nopRecorder) ActionStarted(string, string)                         {}
func (nopRecorder) ActionFinished(string, string, string, time.Duration) {}
func (nopRecorder) ActionRejected(string)                                {}

// Request names an action to run.
type Request struct {
	Action string
	// Deadline overrides the configured deadline when positive.
	Deadline time.Duration
}

// Supervisor runs catalog actions.
type Supervisor struct {
	mu       sync.RWMutex
	catalog  Catalog
	opts     Options
	logDir   string
	guard    *Guard
	logger   *slog.Logger
	diag     *events.Logger
	recorder Recorder
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDiagnostics sets the diagnostics sink. A nil sink is allowed.
func WithDiagnostics(d *events.Logger) Option {
	return func(s *Supervisor) { s.diag = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.recorder = r
		}
	}
}

// New returns a supervisor for catalog. The log directory is created here;
// if that fails the supervisor falls back to ./logs.
func New(catalog Catalog, opts Options, options ...Option) *Supervisor {
	s := &Supervisor{
		catalog:  catalog,
		opts:     opts.withDefaults(),
		logger:   slog.New(slog.DiscardHandler),
		recorder: nopRecorder{},
	}
	for _, o := range options {
		o(s)
	}
	s.guard = NewGuard(s.opts.Policy)
	s.logDir = s.resolveLogDir()
	return s
}

func (s *Supervisor) resolveLogDir() string {
	dir := s.opts.LogDir
	err := os.MkdirAll(dir, 0755)
	if err == nil {
		return dir
	}
	s.logger.Warn("log directory unavailable, using fallback", "dir", dir, "fallback", FallbackLogDir, "error", err)
	if err := os.MkdirAll(FallbackLogDir, 0755); err != nil {
		s.logger.Error("creating fallback log directory", "error", err)
	}
	return FallbackLogDir
}

// Catalog returns the configured actions.
func (s *Supervisor) Catalog() Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// SetCatalog replaces the action catalog. Runs already in flight keep the
// action they started with.
func (s *Supervisor) SetCatalog(c Catalog) {
	s.mu.Lock()
	s.catalog = c
	s.mu.Unlock()
}

// Guard returns the single-flight guard.
func (s *Supervisor) Guard() *Guard { return s.guard }

// LogPath returns the log file used by actions of class.
func (s *Supervisor) LogPath(class Class) string {
	if class == ClassStart {
		return filepath.Join(s.logDir, s.opts.StartLog)
	}
	return filepath.Join(s.logDir, s.opts.OneshotLog)
}

// Run executes the requested action and reports how it ended. The error is
// non-nil only when the run never started: ErrUnknownAction, ErrBusy, or the
// context ending while queued.
func (s *Supervisor) Run(ctx context.Context, req Request) (Outcome, error) {
	act, ok := s.Catalog().Lookup(req.Action)
	if !ok {
		return Outcome{}, fmt.Errorf("%w %q", ErrUnknownAction, req.Action)
	}

	release, err := s.guard.Acquire(ctx, act.Class)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			s.recorder.ActionRejected(act.Name)
			s.diag.Emit(events.EventActionBusy, "", events.ActionData{Action: act.Name, Class: string(act.Class)})
			s.logger.Warn("action rejected, class busy", "action", act.Name, "class", act.Class)
		}
		return Outcome{}, err
	}
	defer release()

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = s.opts.Deadline
	}

	s.recorder.ActionStarted(act.Name, string(act.Class))
	out := s.execute(ctx, act, deadline)
	s.recorder.ActionFinished(act.Name, string(act.Class), out.Kind.String(), out.Duration)

	s.diag.Emit(events.EventActionOutcome, out.RunID, events.ActionData{
		Action:   act.Name,
		Class:    string(act.Class),
		Outcome:  out.Kind.String(),
		ExitCode: out.ExitCode,
		LogFile:  out.LogFile,
		Duration: out.Duration.String(),
	})
	level := slog.LevelInfo
	if !out.OK() {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "action finished", "run", out.RunID, "action", act.Name,
		"outcome", out.Kind.String(), "exit_code", out.ExitCode, "duration", out.Duration)
	return out, nil
}

func (s *Supervisor) execute(ctx context.Context, act Action, deadline time.Duration) Outcome {
	out := Outcome{
		RunID:     uuid.NewString(),
		Action:    act.Name,
		Class:     act.Class,
		LogFile:   s.LogPath(act.Class),
		StartedAt: time.Now(),
	}
	log := s.logger.With("run", out.RunID, "action", act.Name)
	finish := func(kind OutcomeKind, exitCode int, output, details string) Outcome {
		out.Kind = kind
		out.ExitCode = exitCode
		out.Output = output
		out.Details = details
		out.Duration = time.Since(out.StartedAt)
		return out
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if act.Class == ClassStart {
		// A marker left over from an earlier run must not count.
		flags |= os.O_TRUNC
	}
	logFile, err := os.OpenFile(out.LogFile, flags, 0644)
	if err != nil {
		return finish(ExecutionError, -2, "", fmt.Sprintf("opening log file: %v", err))
	}
	defer logFile.Close()

	header := fmt.Sprintf("=== %s command started at %s ===\n", act.Name, out.StartedAt.Format("2006-01-02 15:04:05"))
	if _, err := logFile.WriteString(header); err != nil {
		return finish(ExecutionError, -2, "", fmt.Sprintf("writing log header: %v", err))
	}

	log.Info("starting action", "command", act.String(), "class", act.Class, "log", out.LogFile, "deadline", deadline)
	s.diag.Emit(events.EventActionStart, out.RunID, events.ActionData{
		Action:  act.Name,
		Class:   string(act.Class),
		LogFile: out.LogFile,
	})

	cmd := exec.Command(act.Command[0], act.Command[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	p, err := proc.Start(cmd)
	if err != nil {
		return finish(ExecutionError, -2, "", err.Error())
	}
	defer func() {
		if err := p.Terminate(s.opts.GracePeriod); err != nil {
			log.Error("terminating action process", "pid", p.Pid(), "error", err)
		}
	}()

	if act.Class == ClassOneshot {
		return s.waitOneshot(ctx, p, out.LogFile, deadline, log, finish)
	}
	return s.pollStart(ctx, p, out.LogFile, deadline, log, finish)
}

type finishFunc func(kind OutcomeKind, exitCode int, output, details string) Outcome

// waitOneshot blocks until the process exits or the deadline passes. Exit
// codes are reported as 0 either way.
func (s *Supervisor) waitOneshot(ctx context.Context, p *proc.Process, path string, deadline time.Duration, log *slog.Logger, finish finishFunc) Outcome {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	kind := Completed
	details := ""
	select {
	case <-p.Done():
		log.Info("action completed", "real_exit_code", p.ExitCode())
	case <-timer.C:
		log.Warn("action timed out, terminating", "deadline", deadline)
		kind = Timeout
		details = fmt.Sprintf("no exit within %s", deadline)
	case <-ctx.Done():
		log.Warn("action cancelled, terminating", "error", ctx.Err())
		kind = Timeout
		details = fmt.Sprintf("cancelled: %v", ctx.Err())
	}
	if kind != Completed {
		if err := p.Terminate(s.opts.GracePeriod); err != nil {
			log.Error("terminating action process", "error", err)
		}
	}

	output, err := readLog(path)
	if err != nil {
		return finish(ExecutionError, -2, "", err.Error())
	}
	return finish(kind, 0, output, details)
}

// pollStart watches the log for the marker until the process exits or the
// deadline passes.
func (s *Supervisor) pollStart(ctx context.Context, p *proc.Process, path string, deadline time.Duration, log *slog.Logger, finish finishFunc) Outcome {
	marker := s.opts.Marker
	cursor := NewLogCursor(path, s.opts.TailWindow)
	start := time.Now()

	for {
		if time.Since(start) >= deadline || ctx.Err() != nil {
			details := fmt.Sprintf("No %s in %s", marker, deadline)
			if ctx.Err() != nil {
				details = fmt.Sprintf("cancelled before %s: %v", marker, ctx.Err())
			}
			log.Warn("action timed out, terminating", "details", details)
			if err := p.Terminate(s.opts.GracePeriod); err != nil {
				log.Error("terminating action process", "error", err)
			}
			output, err := readLog(path)
			if err != nil {
				return finish(ExecutionError, -2, "", err.Error())
			}
			return finish(Timeout, -1, output, details)
		}

		if p.Exited() {
			output, err := readLog(path)
			if err != nil {
				return finish(ExecutionError, -2, "", err.Error())
			}
			if strings.Contains(output, marker) {
				log.Info("marker found after exit", "marker", marker)
				return finish(Success, 0, output, "")
			}
			code := p.ExitCode()
			log.Warn("process exited before marker", "exit_code", code)
			return finish(TerminatedUnexpectedly, code, output,
				fmt.Sprintf("Process terminated (code %d) before %s was detected.", code, marker))
		}

		tail, changed, err := cursor.Poll()
		switch {
		case err != nil:
			log.Warn("reading log tail", "error", err)
		case changed && strings.Contains(tail, marker):
			log.Info("marker found, detaching", "marker", marker, "offset", cursor.Offset())
			if err := p.Terminate(s.opts.GracePeriod); err != nil {
				log.Error("terminating action process", "error", err)
			}
			output, err := readLog(path)
			if err != nil {
				return finish(ExecutionError, -2, "", err.Error())
			}
			return finish(Success, 0, output, "")
		}

		wait := s.opts.PollInterval
		if remaining := deadline - time.Since(start); remaining < wait {
			wait = max(remaining, 0)
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-p.Done():
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

func readLog(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading log: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
