// Package telemetry reads host statistics and gNB node status for the
// dashboard.
package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// Options configures a Prober.
type Options struct {
	DULog           string
	DUReadyLine     string
	RFStatusCommand []string
	RFStatusTimeout time.Duration
	PingTimeout     time.Duration
	DiskPath        string
	HistorySize     int
	SampleInterval  time.Duration
	// CPUInterval is the window CPU usage is measured over.
	CPUInterval time.Duration
}

// DefaultOptions returns the probe settings used on the gNB host.
func DefaultOptions() Options {
	return Options{
		DULog:           "/logdump/du_log.txt",
		DUReadyLine:     "CELL_IS_UP, CELL_ID:1",
		RFStatusCommand: []string{"/raptor/bin/utility", "--getRfmgrStatus"},
		RFStatusTimeout: 3 * time.Second,
		PingTimeout:     300 * time.Millisecond,
		DiskPath:        "/",
		HistorySize:     20,
		SampleInterval:  5 * time.Second,
		CPUInterval:     100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DULog == "" {
		o.DULog = d.DULog
	}
	if o.DUReadyLine == "" {
		o.DUReadyLine = d.DUReadyLine
	}
	if len(o.RFStatusCommand) == 0 {
		o.RFStatusCommand = d.RFStatusCommand
	}
	if o.RFStatusTimeout <= 0 {
		o.RFStatusTimeout = d.RFStatusTimeout
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.PingTimeout
	}
	if o.DiskPath == "" {
		o.DiskPath = d.DiskPath
	}
	if o.HistorySize <= 0 {
		o.HistorySize = d.HistorySize
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = d.SampleInterval
	}
	if o.CPUInterval <= 0 {
		o.CPUInterval = d.CPUInterval
	}
	return o
}

// Runner runs an external command and returns its combined output. A
// non-zero exit is reported as an error alongside the output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Prober collects host statistics and node status.
type Prober struct {
	opts   Options
	host   HostReader
	runner Runner
	logger *slog.Logger
	now    func() time.Time

	cpu *History
	ram *History
}

// Option configures a Prober.
type Option func(*Prober)

// WithHostReader replaces the gopsutil-backed host reader.
func WithHostReader(h HostReader) Option {
	return func(p *Prober) { p.host = h }
}

// WithRunner replaces the os/exec command runner.
func WithRunner(r Runner) Option {
	return func(p *Prober) { p.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the wall clock used for board date and time.
func WithClock(now func() time.Time) Option {
	return func(p *Prober) { p.now = now }
}

// New returns a Prober.
func New(opts Options, options ...Option) *Prober {
	p := &Prober{
		opts:   opts.withDefaults(),
		runner: ExecRunner{},
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	p.host = NewHostReader(p.opts.CPUInterval)
	for _, o := range options {
		o(p)
	}
	p.cpu = NewHistory(p.opts.HistorySize)
	p.ram = NewHistory(p.opts.HistorySize)
	return p
}

// Options returns the effective options.
func (p *Prober) Options() Options { return p.opts }

// Run samples CPU and RAM usage every SampleInterval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.SampleInterval)
	defer ticker.Stop()
	for {
		if err := p.Sample(ctx); err != nil && ctx.Err() == nil {
			p.logger.Debug("telemetry sample failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample records one CPU and RAM reading in the usage histories.
func (p *Prober) Sample(ctx context.Context) error {
	cpu, err := p.host.CPUPercent(ctx)
	if err != nil {
		return err
	}
	mem, err := p.host.Memory(ctx)
	if err != nil {
		return err
	}
	p.cpu.Add(round(cpu, 1))
	p.ram.Add(round(mem.UsedPercent, 1))
	return nil
}
