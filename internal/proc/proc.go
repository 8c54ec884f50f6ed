// Package proc owns the lifecycle of child processes spawned by gnbdash.
//
// Every process started through this package is reaped exactly once by a
// background waiter, so callers can poll liveness (Exited, Done) without
// racing exec.Cmd.Wait, and Terminate can be called from any exit path,
// any number of times.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long Terminate waits after SIGTERM before
// escalating to SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// ErrNotStarted is returned when a command has no OS process.
var ErrNotStarted = errors.New("proc: process not started")

// Process is a started child process with a single background reaper.
type Process struct {
	cmd       *exec.Cmd
	startedAt time.Time

	done    chan struct{}
	waitErr error
	state   *os.ProcessState

	termOnce sync.Once
	termErr  error
}

// Start configures cmd to run in its own process group and starts it.
// The group lets Terminate reach grandchildren (shell pipelines, wrapper
// scripts) that would otherwise survive their parent.
func Start(cmd *exec.Cmd) (*Process, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	if !cmd.SysProcAttr.Setsid {
		cmd.SysProcAttr.Setpgid = true
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	return Watch(cmd)
}

// Watch adopts a command that was already started elsewhere (for example
// by a pty helper) and begins reaping it.
func Watch(cmd *exec.Cmd) (*Process, error) {
	if cmd.Process == nil {
		return nil, ErrNotStarted
	}
	p := &Process{
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.waitErr = err
	p.state = p.cmd.ProcessState
	close(p.done)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was adopted.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or timeout elapses. It reports
// whether the process exited. A non-positive timeout waits forever.
func (p *Process) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-p.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// ExitCode returns the exit status once the process has exited, or -1 while
// it is still running. A process killed by a signal reports the negated
// signal number (SIGTERM -> -15).
func (p *Process) ExitCode() int {
	if !p.Exited() || p.state == nil {
		return -1
	}
	if ws, ok := p.state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return p.state.ExitCode()
}

// WaitErr returns the error reported by exec.Cmd.Wait, once exited.
func (p *Process) WaitErr() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// Signal delivers sig to the process group, falling back to the process
// itself when the group is gone.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.Exited() {
		return nil
	}
	pid := p.Pid()
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %v to pid %d: %w", sig, pid, err)
	}
	return nil
}

// Terminate stops the process: SIGTERM, then SIGKILL if it is still alive
// after grace. It always returns with the process reaped. Repeated calls
// are no-ops that return the first result.
func (p *Process) Terminate(grace time.Duration) error {
	p.termOnce.Do(func() {
		p.termErr = p.terminate(grace)
	})
	return p.termErr
}

func (p *Process) terminate(grace time.Duration) error {
	if p.Exited() {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	if err := p.Signal(syscall.SIGTERM); err != nil {
		return p.kill(err)
	}
	if p.Wait(grace) {
		return nil
	}
	return p.kill(nil)
}

func (p *Process) kill(cause error) error {
	if err := p.Signal(syscall.SIGKILL); err != nil {
		if cause != nil {
			return fmt.Errorf("%w (and kill failed: %v)", cause, err)
		}
		return err
	}
	<-p.done
	return cause
}

// Alive reports whether pid still names a live process. It is meant for
// tests and diagnostics; a reaped pid may be reused by the OS.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
