// Package commission generates the gNB device configuration by driving the
// interactive commissioning tool through its prompt sequence.
package commission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gnb-webdashboard/gnbdash/internal/events"
	"github.com/gnb-webdashboard/gnbdash/internal/expect"
)

// Session is the part of an expect session the automaton drives.
type Session interface {
	Expect(timeout time.Duration, patterns ...expect.Pattern) expect.Result
	Send(text string) error
	Close() error
}

// SpawnFunc starts the generator and returns a session connected to it.
// transcript, when non-nil, should receive the raw child output.
type SpawnFunc func(ctx context.Context, command string, opts Options, transcript io.Writer) (Session, error)

// Recorder receives run metrics.
type Recorder interface {
	CommissionFinished(result string, steps int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CommissionFinished(string, int, time.Duration) {}

// Result describes a generation run. It is returned on failure too, with
// whatever progress was made.
type Result struct {
	RunID      string        `json:"run_id"`
	State      State         `json:"-"`
	StateName  string        `json:"state"`
	Steps      int           `json:"steps"`
	Sent       []string      `json:"sent"`
	Warnings   []string      `json:"warnings,omitempty"`
	ConfigPath string        `json:"config_path"`
	Injected   bool          `json:"injected"`
	Duration   time.Duration `json:"duration"`
}

// Automaton runs the generation state machine. It holds no per-run state
// and may be reused, but runs must not overlap on the same config path.
type Automaton struct {
	opts     Options
	prompts  prompts
	logger   *slog.Logger
	diag     *events.Logger
	recorder Recorder
	spawn    SpawnFunc
}

// Option configures an Automaton.
type Option func(*Automaton)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Automaton) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDiagnostics sets the diagnostics sink. A nil sink is allowed.
func WithDiagnostics(d *events.Logger) Option {
	return func(a *Automaton) { a.diag = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Automaton) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithSpawner replaces the pty spawner, mainly for tests.
func WithSpawner(fn SpawnFunc) Option {
	return func(a *Automaton) { a.spawn = fn }
}

// New validates opts and returns an automaton.
func New(opts Options, options ...Option) (*Automaton, error) {
	opts = opts.withDefaults()
	p, err := compilePrompts(opts)
	if err != nil {
		return nil, err
	}
	a := &Automaton{
		opts:     opts,
		prompts:  p,
		logger:   slog.New(slog.DiscardHandler),
		recorder: nopRecorder{},
		spawn:    spawnPTY,
	}
	for _, o := range options {
		o(a)
	}
	return a, nil
}

// Options returns the effective options.
func (a *Automaton) Options() Options { return a.opts }

func spawnPTY(_ context.Context, command string, opts Options, transcript io.Writer) (Session, error) {
	name, args := command, []string(nil)
	if opts.Interpreter != "" {
		name, args = opts.Interpreter, []string{command}
	}
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Dir(command)
	}
	sopts := []expect.Option{expect.WithGracePeriod(opts.GracePeriod)}
	if transcript != nil {
		sopts = append(sopts, expect.WithTranscript(transcript))
	}
	sess, err := expect.Spawn(name, args, expect.SpawnOptions{Dir: dir}, sopts...)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Generate runs the commissioning tool at command until it exits, answering
// its prompts, then verifies that the configuration file exists and injects
// the default field if it is missing. The returned error, if any, is a
// *GenerationError.
func (a *Automaton) Generate(ctx context.Context, command string) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID:      uuid.NewString(),
		ConfigPath: a.opts.ConfigPath,
		Sent:       []string{},
	}
	log := a.logger.With("run", res.RunID)

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	log.Info("starting config generation", "command", command, "config", a.opts.ConfigPath)
	a.diag.Emit(events.EventCommissionStart, res.RunID, map[string]interface{}{
		"command": command,
		"config":  a.opts.ConfigPath,
	})

	transcript := a.openTranscript(log)
	err := a.generate(ctx, command, res, transcript, log)
	if transcript != nil {
		if cerr := transcript.Close(); cerr != nil {
			log.Warn("closing transcript", "error", cerr)
		}
	}

	res.Duration = time.Since(start)
	res.StateName = res.State.String()
	result := "done"
	if err != nil {
		result = KindOf(err).String()
		log.Error("config generation failed", "error", err, "steps", res.Steps)
		a.diag.Emit(events.EventError, res.RunID, events.ErrorData{ErrorType: result, Message: err.Error()})
	} else {
		log.Info("config generation finished", "steps", res.Steps, "duration", res.Duration, "injected", res.Injected)
	}
	a.diag.Emit(events.EventCommissionDone, res.RunID, map[string]interface{}{
		"result":   result,
		"steps":    res.Steps,
		"duration": res.Duration.String(),
	})
	a.recorder.CommissionFinished(result, res.Steps, res.Duration)
	return res, err
}

func (a *Automaton) openTranscript(log *slog.Logger) *os.File {
	if a.opts.TranscriptPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.opts.TranscriptPath), 0755); err != nil {
		log.Warn("transcript unavailable", "path", a.opts.TranscriptPath, "error", err)
		return nil
	}
	f, err := os.OpenFile(a.opts.TranscriptPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("transcript unavailable", "path", a.opts.TranscriptPath, "error", err)
		return nil
	}
	return f
}

func (a *Automaton) generate(ctx context.Context, command string, res *Result, transcript *os.File, log *slog.Logger) error {
	var tw io.Writer
	if transcript != nil {
		tw = transcript
	}
	sess, err := a.spawn(ctx, command, a.opts, tw)
	if err != nil {
		res.State = StateFailed
		return &GenerationError{Kind: KindSpawn, State: StateAwaitingTrigger, Err: err}
	}

	r := &run{a: a, ctx: ctx, sess: sess, res: res, log: log}
	err = r.drive()
	if cerr := sess.Close(); cerr != nil {
		log.Warn("closing generator session", "error", cerr)
	}
	if err != nil {
		res.State = StateFailed
		return err
	}

	if err := a.postCheck(res, log); err != nil {
		res.State = StateFailed
		return err
	}
	return nil
}

// run carries the state of one pass through the state machine.
type run struct {
	a     *Automaton
	ctx   context.Context
	sess  Session
	res   *Result
	log   *slog.Logger
	state State
}

func (r *run) fail(kind Kind, err error) error {
	return &GenerationError{Kind: kind, State: r.state, Step: r.res.Steps, Err: err}
}

func (r *run) drive() error {
	p := r.a.prompts
	opts := r.a.opts
	r.state = StateAwaitingTrigger

	for r.state != StateDone {
		if r.res.Steps >= opts.StepBudget {
			return r.fail(KindStepBudgetExceeded, fmt.Errorf("no terminal prompt within %d steps", opts.StepBudget))
		}
		if err := r.ctx.Err(); err != nil {
			return r.fail(KindDeadlineExceeded, err)
		}
		r.res.Steps++
		r.res.State = r.state

		switch r.state {
		case StateAwaitingTrigger:
			m := r.expect(opts.StepTimeout, p.trigger, p.colon, expect.Timeout, expect.EOF)
			switch {
			case m.Kind == expect.KindEOF:
				return r.fail(KindPrematureEOF, errors.New("generator exited before the trigger prompt"))
			case m.Matched() && m.Index == 0:
				if err := r.send(""); err != nil {
					return err
				}
				r.state = StateAutomating
			}
			// Earlier prompts are left unanswered.

		case StateAutomating:
			m := r.expect(opts.StepTimeout, p.final, p.colon, expect.Timeout, expect.EOF)
			if m.Kind == expect.KindEOF {
				return r.fail(KindPrematureEOF, errors.New("generator exited before the final prompt"))
			}
			if err := r.send(""); err != nil {
				return err
			}
			if m.Matched() && m.Index == 0 {
				r.state = StateAwaitingFilenamePrompt
			}

		case StateAwaitingFilenamePrompt:
			m := r.expect(opts.FilenameTimeout, p.filename, expect.Timeout, expect.EOF)
			if m.Matched() {
				if err := r.sendRaw(opts.clearSequence()); err != nil {
					return err
				}
				if err := r.sendRaw(opts.Filename); err != nil {
					return err
				}
				if err := r.send(""); err != nil {
					return err
				}
			} else {
				msg := fmt.Sprintf("filename prompt not seen (%s); generator default name assumed", m.Kind)
				r.res.Warnings = append(r.res.Warnings, msg)
				r.log.Warn(msg, "kind", KindFilenamePromptMissing.String())
				r.a.diag.Emit(events.EventCommissionWarning, r.res.RunID, map[string]interface{}{
					"kind":    KindFilenamePromptMissing.String(),
					"message": msg,
				})
			}
			r.state = StateDrainingTail

		case StateDrainingTail:
			m := r.expect(opts.StepTimeout, p.colon, expect.Timeout, expect.EOF)
			if m.Kind == expect.KindEOF {
				r.state = StateDone
			}
		}
	}
	r.res.State = StateDone
	return nil
}

// expect bounds the wait by the overall deadline and records the step.
func (r *run) expect(timeout time.Duration, patterns ...expect.Pattern) expect.Result {
	if dl, ok := r.ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}
	m := r.sess.Expect(timeout, patterns...)

	desc := ""
	if m.Index >= 0 && m.Index < len(patterns) {
		desc = patterns[m.Index].Description
	}
	r.log.Debug("expect step", "step", r.res.Steps, "state", r.state.String(), "outcome", m.Kind.String(), "pattern", desc)
	r.a.diag.Emit(events.EventCommissionStep, r.res.RunID, events.StepData{
		Step:    r.res.Steps,
		State:   r.state.String(),
		Outcome: m.Kind.String(),
		Pattern: desc,
	})
	return m
}

// send writes text followed by a newline.
func (r *run) send(text string) error {
	return r.sendRaw(text + "\n")
}

func (r *run) sendRaw(text string) error {
	r.res.Sent = append(r.res.Sent, text)
	r.a.diag.Emit(events.EventCommissionSend, r.res.RunID, events.SendData{
		Step:  r.res.Steps,
		State: r.state.String(),
		Text:  text,
	})
	if err := r.sess.Send(text); err != nil {
		// The child is gone; that is an early exit from the automaton's view.
		return r.fail(KindPrematureEOF, err)
	}
	return nil
}
