// Package config loads the gnbdash TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gnb-webdashboard/gnbdash/internal/commission"
	"github.com/gnb-webdashboard/gnbdash/internal/devconfig"
	"github.com/gnb-webdashboard/gnbdash/internal/events"
	"github.com/gnb-webdashboard/gnbdash/internal/expect"
	"github.com/gnb-webdashboard/gnbdash/internal/supervisor"
	"github.com/gnb-webdashboard/gnbdash/internal/telemetry"
	"github.com/gnb-webdashboard/gnbdash/internal/util"
)

// SystemPath is the config location used when $GNBDASH_CONFIG is unset.
const SystemPath = "/etc/gnbdash/config.toml"

// DefaultGenerator is the commissioning script run when the device
// config is missing.
const DefaultGenerator = "/opt/ste/active/commissioning/GNBCommission"

// Config is the full gnbdash configuration.
type Config struct {
	Server      ServerConfig            `toml:"server"`
	Logging     LoggingConfig           `toml:"logging"`
	Diagnostics DiagnosticsConfig       `toml:"diagnostics"`
	Device      DeviceConfig            `toml:"device"`
	Commission  CommissionConfig        `toml:"commission"`
	Supervisor  SupervisorConfig        `toml:"supervisor"`
	Telemetry   TelemetryConfig         `toml:"telemetry"`
	Actions     map[string]ActionConfig `toml:"actions"`
	Downloads   map[string]string       `toml:"downloads"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Listen          string        `toml:"listen"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	ShutdownTimeout util.Duration `toml:"shutdown_timeout"`
	Metrics         bool          `toml:"metrics"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// DiagnosticsConfig controls the JSONL diagnostics sink.
type DiagnosticsConfig struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// DeviceConfig locates the device JSON configuration.
type DeviceConfig struct {
	ConfigPath string `toml:"config_path"`
}

// CommissionConfig drives the interactive config generator.
type CommissionConfig struct {
	Generator       string        `toml:"generator"`
	Interpreter     string        `toml:"interpreter"`
	Dir             string        `toml:"dir"`
	TriggerPrompt   string        `toml:"trigger_prompt"`
	FinalPrompt     string        `toml:"final_prompt"`
	FilenamePrompt  string        `toml:"filename_prompt"`
	ColonPrompt     string        `toml:"colon_prompt"`
	Filename        string        `toml:"filename"`
	ClearBackspaces int           `toml:"clear_backspaces"`
	DefaultField    string        `toml:"default_field"`
	DefaultValue    string        `toml:"default_value"`
	StepTimeout     util.Duration `toml:"step_timeout"`
	FilenameTimeout util.Duration `toml:"filename_timeout"`
	Timeout         util.Duration `toml:"timeout"`
	StepBudget      int           `toml:"step_budget"`
	GracePeriod     util.Duration `toml:"grace_period"`
	TranscriptPath  string        `toml:"transcript_path"`
}

// SupervisorConfig controls action supervision.
type SupervisorConfig struct {
	LogDir       string        `toml:"log_dir"`
	StartLog     string        `toml:"start_log"`
	OneshotLog   string        `toml:"oneshot_log"`
	Marker       string        `toml:"marker"`
	Deadline     util.Duration `toml:"deadline"`
	PollInterval util.Duration `toml:"poll_interval"`
	TailWindow   int64         `toml:"tail_window"`
	GracePeriod  util.Duration `toml:"grace_period"`
	Policy       string        `toml:"policy"`
}

// ActionConfig adds or overrides one supervised action.
type ActionConfig struct {
	Command []string `toml:"command"`
	Class   string   `toml:"class"`
}

// TelemetryConfig controls host and node status probes.
type TelemetryConfig struct {
	DULog           string        `toml:"du_log"`
	DUReadyLine     string        `toml:"du_ready_line"`
	RFStatusCommand []string      `toml:"rf_status_command"`
	RFStatusTimeout util.Duration `toml:"rf_status_timeout"`
	PingTimeout     util.Duration `toml:"ping_timeout"`
	DiskPath        string        `toml:"disk_path"`
	HistorySize     int           `toml:"history_size"`
	SampleInterval  util.Duration `toml:"sample_interval"`
}

// DefaultPath returns $GNBDASH_CONFIG, or SystemPath when unset.
func DefaultPath() string {
	if p := os.Getenv("GNBDASH_CONFIG"); p != "" {
		return p
	}
	return SystemPath
}

// DefaultDownloads maps download keys to the log files served by default.
func DefaultDownloads() map[string]string {
	return map[string]string{
		"cu_log":    "/logdump/cu_log.txt",
		"du_log":    "/logdump/du_log.txt",
		"setup_log": filepath.Join(supervisor.DefaultLogDir, supervisor.DefaultStartLog),
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	co := commission.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Listen:          ":5000",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: util.D(10 * time.Second),
			Metrics:         true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Diagnostics: DiagnosticsConfig{
			Enabled:       false,
			Path:          events.DefaultLogPath,
			RetentionDays: events.DefaultRetentionDays,
		},
		Device: DeviceConfig{ConfigPath: devconfig.DefaultPath},
		Commission: CommissionConfig{
			Generator:       DefaultGenerator,
			Interpreter:     co.Interpreter,
			TriggerPrompt:   co.TriggerPrompt,
			FinalPrompt:     co.FinalPrompt,
			FilenamePrompt:  co.FilenamePrompt,
			ColonPrompt:     co.ColonPrompt,
			Filename:        co.Filename,
			DefaultField:    co.DefaultField,
			DefaultValue:    co.DefaultValue,
			StepTimeout:     util.D(co.StepTimeout),
			FilenameTimeout: util.D(co.FilenameTimeout),
			Timeout:         util.D(co.Timeout),
			StepBudget:      co.StepBudget,
			GracePeriod:     util.D(co.GracePeriod),
		},
		Supervisor: SupervisorConfig{
			LogDir:       supervisor.DefaultLogDir,
			StartLog:     supervisor.DefaultStartLog,
			OneshotLog:   supervisor.DefaultOneshotLog,
			Marker:       supervisor.DefaultMarker,
			Deadline:     util.D(supervisor.DefaultDeadline),
			PollInterval: util.D(supervisor.DefaultPollInterval),
			TailWindow:   supervisor.DefaultTailWindow,
			GracePeriod:  util.D(5 * time.Second),
			Policy:       string(supervisor.PolicyReject),
		},
		Telemetry: TelemetryConfig{
			DULog:           "/logdump/du_log.txt",
			DUReadyLine:     "CELL_IS_UP, CELL_ID:1",
			RFStatusCommand: []string{"/raptor/bin/utility", "--getRfmgrStatus"},
			RFStatusTimeout: util.D(3 * time.Second),
			PingTimeout:     util.D(300 * time.Millisecond),
			DiskPath:        "/",
			HistorySize:     20,
			SampleInterval:  util.D(5 * time.Second),
		},
	}
}

// Load reads the config at path (DefaultPath when empty). Keys absent from
// the file keep their defaults. GNBDASH_LISTEN and GNBDASH_LOG_LEVEL
// override the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing config: unknown keys: %s", strings.Join(keys, ", "))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does
// not exist. Any other error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GNBDASH_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("GNBDASH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate reports every problem found in cfg.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Listen == "" {
		add("server.listen: must not be empty")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format: must be text or json, got %q", c.Logging.Format)
	}
	if c.Device.ConfigPath == "" {
		add("device.config_path: must not be empty")
	}

	cm := c.Commission
	if cm.Generator == "" {
		add("commission.generator: must not be empty")
	}
	for name, expr := range map[string]string{
		"trigger_prompt":  cm.TriggerPrompt,
		"final_prompt":    cm.FinalPrompt,
		"filename_prompt": cm.FilenamePrompt,
		"colon_prompt":    cm.ColonPrompt,
	} {
		if expr == "" {
			continue
		}
		if _, err := expect.Compile(expr); err != nil {
			add("commission.%s: %v", name, err)
		}
	}
	if cm.StepBudget < 0 {
		add("commission.step_budget: must not be negative")
	}
	if cm.ClearBackspaces < 0 {
		add("commission.clear_backspaces: must not be negative")
	}

	sv := c.Supervisor
	if sv.Marker == "" {
		add("supervisor.marker: must not be empty")
	}
	if sv.TailWindow < 0 {
		add("supervisor.tail_window: must not be negative")
	}
	if !supervisor.Policy(sv.Policy).Valid() {
		add("supervisor.policy: must be %q or %q, got %q", supervisor.PolicyReject, supervisor.PolicyQueue, sv.Policy)
	}
	if err := c.Catalog().Validate(); err != nil {
		add("actions: %v", err)
	}

	if c.Telemetry.HistorySize < 0 {
		add("telemetry.history_size: must not be negative")
	}

	return errors.Join(errs...)
}

// Catalog returns the built-in actions overlaid with [actions.*].
func (c *Config) Catalog() supervisor.Catalog {
	cat := supervisor.DefaultCatalog(c.Device.ConfigPath)
	for name, a := range c.Actions {
		class := supervisor.Class(a.Class)
		if existing, ok := cat[name]; ok {
			if len(a.Command) == 0 {
				a.Command = existing.Command
			}
			if class == "" {
				class = existing.Class
			}
		}
		if class == "" {
			class = supervisor.ClassOneshot
		}
		cat[name] = supervisor.Action{Name: name, Command: a.Command, Class: class}
	}
	return cat
}

// DownloadPaths returns the built-in download keys overlaid with
// [downloads]. An empty path in the file removes a built-in key.
func (c *Config) DownloadPaths() map[string]string {
	out := DefaultDownloads()
	out["setup_log"] = filepath.Join(c.Supervisor.LogDir, c.Supervisor.StartLog)
	for k, v := range c.Downloads {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// CommissionOptions converts the [commission] section.
func (c *Config) CommissionOptions() commission.Options {
	cm := c.Commission
	return commission.Options{
		Interpreter:     cm.Interpreter,
		Dir:             cm.Dir,
		ConfigPath:      c.Device.ConfigPath,
		TriggerPrompt:   cm.TriggerPrompt,
		FinalPrompt:     cm.FinalPrompt,
		FilenamePrompt:  cm.FilenamePrompt,
		ColonPrompt:     cm.ColonPrompt,
		Filename:        cm.Filename,
		ClearBackspaces: cm.ClearBackspaces,
		DefaultField:    cm.DefaultField,
		DefaultValue:    cm.DefaultValue,
		StepTimeout:     cm.StepTimeout.Duration,
		FilenameTimeout: cm.FilenameTimeout.Duration,
		Timeout:         cm.Timeout.Duration,
		StepBudget:      cm.StepBudget,
		GracePeriod:     cm.GracePeriod.Duration,
		TranscriptPath:  cm.TranscriptPath,
	}
}

// SupervisorOptions converts the [supervisor] section.
func (c *Config) SupervisorOptions() supervisor.Options {
	sv := c.Supervisor
	return supervisor.Options{
		LogDir:       sv.LogDir,
		StartLog:     sv.StartLog,
		OneshotLog:   sv.OneshotLog,
		Marker:       sv.Marker,
		Deadline:     sv.Deadline.Duration,
		PollInterval: sv.PollInterval.Duration,
		TailWindow:   sv.TailWindow,
		GracePeriod:  sv.GracePeriod.Duration,
		Policy:       supervisor.Policy(sv.Policy),
	}
}

// TelemetryOptions converts the [telemetry] section.
func (c *Config) TelemetryOptions() telemetry.Options {
	t := c.Telemetry
	return telemetry.Options{
		DULog:           t.DULog,
		DUReadyLine:     t.DUReadyLine,
		RFStatusCommand: append([]string(nil), t.RFStatusCommand...),
		RFStatusTimeout: t.RFStatusTimeout.Duration,
		PingTimeout:     t.PingTimeout.Duration,
		DiskPath:        t.DiskPath,
		HistorySize:     t.HistorySize,
		SampleInterval:  t.SampleInterval.Duration,
	}
}

// DiagnosticsOptions converts the [diagnostics] section.
func (c *Config) DiagnosticsOptions(errorLog *slog.Logger) events.LoggerOptions {
	return events.LoggerOptions{
		Path:          c.Diagnostics.Path,
		RetentionDays: c.Diagnostics.RetentionDays,
		Enabled:       c.Diagnostics.Enabled,
		ErrorLog:      errorLog,
	}
}

// CreateDefault writes the default config to path (DefaultPath when
// empty). It refuses to overwrite an existing file.
func CreateDefault(path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("config file already exists: %s", path)
		}
		return "", err
	}
	defer f.Close()

	if err := Print(Default(), f); err != nil {
		return "", err
	}
	return path, nil
}

// Print writes cfg as a commented TOML file.
func Print(cfg *Config, w io.Writer) error {
	p := &printer{w: w}

	p.line("# gnbdash configuration")
	p.line("# Durations accept 500ms, 30s, 2m or a bare number of seconds.")
	p.line("")

	p.line("[server]")
	p.kv("listen", cfg.Server.Listen)
	p.line("# Origins allowed to call /api/* from a browser")
	p.list("allowed_origins", cfg.Server.AllowedOrigins)
	p.kv("shutdown_timeout", cfg.Server.ShutdownTimeout.String())
	p.line("# Serve Prometheus metrics on /metrics")
	p.printf("metrics = %t\n", cfg.Server.Metrics)
	p.line("")

	p.line("[logging]")
	p.line("# debug, info, warn or error (env: GNBDASH_LOG_LEVEL)")
	p.kv("level", cfg.Logging.Level)
	p.line("# text or json")
	p.kv("format", cfg.Logging.Format)
	p.line("")

	p.line("[diagnostics]")
	p.line("# Append-only JSONL record of commissioning steps and action outcomes")
	p.printf("enabled = %t\n", cfg.Diagnostics.Enabled)
	p.kv("path", cfg.Diagnostics.Path)
	p.printf("retention_days = %d\n", cfg.Diagnostics.RetentionDays)
	p.line("")

	p.line("[device]")
	p.line("# JSON config produced by the commissioning script")
	p.kv("config_path", cfg.Device.ConfigPath)
	p.line("")

	cm := cfg.Commission
	p.line("[commission]")
	p.line("# Script run when the device config is missing")
	p.kv("generator", cm.Generator)
	p.kv("interpreter", cm.Interpreter)
	if cm.Dir != "" {
		p.kv("dir", cm.Dir)
	} else {
		p.line("# dir = \"\"  # defaults to the generator's directory")
	}
	p.line("# Prompt patterns (Go regular expressions)")
	p.kv("trigger_prompt", cm.TriggerPrompt)
	p.kv("final_prompt", cm.FinalPrompt)
	p.kv("filename_prompt", cm.FilenamePrompt)
	p.kv("colon_prompt", cm.ColonPrompt)
	p.kv("filename", cm.Filename)
	p.line("# >0 clears the pre-filled filename with backspaces instead of Ctrl-U")
	p.printf("clear_backspaces = %d\n", cm.ClearBackspaces)
	p.line("# Field injected into the generated config when missing")
	p.kv("default_field", cm.DefaultField)
	p.kv("default_value", cm.DefaultValue)
	p.kv("step_timeout", cm.StepTimeout.String())
	p.kv("filename_timeout", cm.FilenameTimeout.String())
	p.kv("timeout", cm.Timeout.String())
	p.printf("step_budget = %d\n", cm.StepBudget)
	p.kv("grace_period", cm.GracePeriod.String())
	if cm.TranscriptPath != "" {
		p.kv("transcript_path", cm.TranscriptPath)
	} else {
		p.line("# transcript_path = \"/var/log/gnbdash/commission.log\"")
	}
	p.line("")

	sv := cfg.Supervisor
	p.line("[supervisor]")
	p.line("# Falls back to ./logs when not writable")
	p.kv("log_dir", sv.LogDir)
	p.kv("start_log", sv.StartLog)
	p.kv("oneshot_log", sv.OneshotLog)
	p.line("# Readiness marker searched for in the start log")
	p.kv("marker", sv.Marker)
	p.kv("deadline", sv.Deadline.String())
	p.kv("poll_interval", sv.PollInterval.String())
	p.line("# Bytes of log tail scanned on each poll")
	p.printf("tail_window = %d\n", sv.TailWindow)
	p.kv("grace_period", sv.GracePeriod.String())
	p.line("# reject: concurrent runs of the same class get 409; queue: they wait")
	p.kv("policy", sv.Policy)
	p.line("")

	tl := cfg.Telemetry
	p.line("[telemetry]")
	p.kv("du_log", tl.DULog)
	p.kv("du_ready_line", tl.DUReadyLine)
	p.list("rf_status_command", tl.RFStatusCommand)
	p.kv("rf_status_timeout", tl.RFStatusTimeout.String())
	p.kv("ping_timeout", tl.PingTimeout.String())
	p.kv("disk_path", tl.DiskPath)
	p.line("# CPU and RAM samples kept for the usage charts")
	p.printf("history_size = %d\n", tl.HistorySize)
	p.kv("sample_interval", tl.SampleInterval.String())
	p.line("")

	p.line("# Extra or overriding actions for POST /api/setup_script, e.g.")
	p.line("# [actions.reboot]")
	p.line("# command = [\"systemctl\", \"reboot\"]")
	p.line("# class = \"oneshot\"")
	for _, name := range sortedKeys(cfg.Actions) {
		a := cfg.Actions[name]
		p.printf("[actions.%s]\n", name)
		p.list("command", a.Command)
		p.kv("class", a.Class)
		p.line("")
	}

	p.line("# Extra files for GET /api/download/<key>; an empty path removes a built-in key")
	if len(cfg.Downloads) > 0 {
		p.line("[downloads]")
		for _, k := range sortedKeys(cfg.Downloads) {
			p.kv(k, cfg.Downloads[k])
		}
	} else {
		p.line("# [downloads]")
		p.line("# phy_log = \"/logdump/phy_log.txt\"")
	}

	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) line(s string) { p.printf("%s\n", s) }

func (p *printer) kv(key, value string) { p.printf("%s = %q\n", key, value) }

func (p *printer) list(key string, values []string) {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	p.printf("%s = [%s]\n", key, strings.Join(quoted, ", "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
