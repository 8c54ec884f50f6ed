package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gnb-webdashboard/gnbdash/internal/output"
	"github.com/gnb-webdashboard/gnbdash/internal/supervisor"
	"github.com/gnb-webdashboard/gnbdash/internal/telemetry"
)

// resetFlags restores every flag in the tree to its default between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	resetFlags(rootCmd)
	cfg = nil
	var out, errb bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errb)
	rootCmd.SetArgs(args)
	err = Execute()
	return out.String(), errb.String(), err
}

// writeTestConfig writes a config whose logs and device file live under a
// temp dir, and returns its path.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := `[logging]
level = "error"

[device]
config_path = "` + filepath.Join(dir, "configs", "device.json") + `"

[supervisor]
log_dir = "` + filepath.Join(dir, "logs") + `"
poll_interval = "50ms"
grace_period = "1s"
` + extra
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecuteHelp(t *testing.T) {
	out, _, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("Execute() with --help failed: %v", err)
	}
	for _, sub := range []string{"serve", "run", "commission", "status", "config"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help missing %q", sub)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default version", []string{"version"}, "gnbdash version dev"},
		{"short version", []string{"version", "--short"}, "dev\n"},
		{"json version", []string{"version", "--json"}, `"version": "dev"`},
		{"yaml version", []string{"version", "--format", "yaml"}, "version: dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("Execute() failed: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want it to contain %q", out, tt.want)
			}
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, stderr, err := execute(t, "version", "--format", "xml")
	if err == nil {
		t.Fatal("expected error for --format xml")
	}
	if got := ExitCode(err); got != 2 {
		t.Errorf("ExitCode = %d, want 2", got)
	}
	if !strings.Contains(stderr, "xml") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestConfigPathCmd(t *testing.T) {
	t.Setenv("GNBDASH_CONFIG", "/tmp/from-env.toml")
	out, _, err := execute(t, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "/tmp/from-env.toml" {
		t.Errorf("config path = %q", out)
	}

	out, _, err = execute(t, "config", "path", "--config", "/etc/other.toml")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "/etc/other.toml" {
		t.Errorf("config path with --config = %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("GNBDASH_LISTEN", "")
	t.Setenv("GNBDASH_LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "gnbdash", "config.toml")

	out, _, err := execute(t, "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("init output = %q", out)
	}

	if _, _, err := execute(t, "config", "init", "--config", path); err == nil {
		t.Error("second config init should fail")
	}

	out, _, err = execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[server]") || !strings.Contains(out, `listen = ":5000"`) {
		t.Errorf("config show text = %q", out)
	}

	out, _, err = execute(t, "config", "show", "--config", path, "--json")
	if err != nil {
		t.Fatalf("config show --json: %v", err)
	}
	var view configView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if view.Path != path || view.Listen != ":5000" || view.Policy != "reject" {
		t.Errorf("view = %+v", view)
	}
	if len(view.Actions) != 4 {
		t.Errorf("actions = %+v, want the four built-ins", view.Actions)
	}
}

func TestConfigLoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, stderr, err := execute(t, "run", "--list", "--config", path)
	if err == nil {
		t.Fatal("expected config error")
	}
	ce := output.AsCLIError(err)
	if ce.Code != "CONFIG" || ce.Hint != output.HintConfigInvalid {
		t.Errorf("error = %+v", ce)
	}
	if !strings.Contains(stderr, "server.port") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunList(t *testing.T) {
	path := writeTestConfig(t, `
[actions.hello]
command = ["/bin/sh", "-c", "echo hello"]
`)
	out, _, err := execute(t, "run", "--list", "--config", path, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var infos []actionInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	if got := strings.Join(names, ","); got != "hello,setupv2,start,status,stop" {
		t.Errorf("actions = %s", got)
	}
	if infos[0].Class != string(supervisor.ClassOneshot) {
		t.Errorf("hello class = %q, want oneshot", infos[0].Class)
	}

	out, _, err = execute(t, "run", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "  ACTION") || !strings.Contains(out, "echo hello") {
		t.Errorf("table = %q", out)
	}
}

func TestRunAction(t *testing.T) {
	path := writeTestConfig(t, `
[actions.hello]
command = ["/bin/sh", "-c", "echo hello from script"]

[actions.crash]
command = ["/bin/sh", "-c", "exit 1"]
class = "start"
`)

	out, _, err := execute(t, "run", "hello", "--config", path, "--json")
	if err != nil {
		t.Fatalf("run hello: %v", err)
	}
	var resp supervisor.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if resp.Status != "completed" || !strings.Contains(resp.Output, "hello from script") {
		t.Errorf("response = %+v", resp)
	}

	out, _, err = execute(t, "run", "hello", "--config", path)
	if err != nil {
		t.Fatalf("run hello (text): %v", err)
	}
	if !strings.HasPrefix(out, "completed hello: completed") || !strings.Contains(out, "  hello from script") {
		t.Errorf("text = %q", out)
	}

	out, stderr, err := execute(t, "run", "crash", "--config", path, "--json")
	if got := ExitCode(err); got != 1 {
		t.Fatalf("crash ExitCode = %d (err %v)", got, err)
	}
	if strings.Contains(stderr, "exit status") {
		t.Errorf("exit error should not be printed: %q", stderr)
	}
	if !strings.Contains(out, "process_terminated_unexpectedly") {
		t.Errorf("crash output = %q", out)
	}
}

func TestRunErrors(t *testing.T) {
	path := writeTestConfig(t, "")
	tests := []struct {
		name     string
		args     []string
		wantCode string
		wantExit int
	}{
		{"unknown action", []string{"run", "reboot"}, "UNKNOWN_ACTION", 2},
		{"bad timeout", []string{"run", "status", "--timeout", "soon"}, "USAGE", 2},
		{"negative timeout", []string{"run", "status", "--timeout", "-5s"}, "USAGE", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append(tt.args, "--config", path)...)
			if err == nil {
				t.Fatal("expected error")
			}
			ce := output.AsCLIError(err)
			if ce.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", ce.Code, tt.wantCode)
			}
			if got := ExitCode(err); got != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", got, tt.wantExit)
			}
		})
	}
}

func TestCommissionCheck(t *testing.T) {
	path := writeTestConfig(t, "")
	dev := filepath.Join(filepath.Dir(path), "configs", "device.json")

	out, _, err := execute(t, "commission", "--check", "--config", path, "--json")
	if got := ExitCode(err); got != 1 {
		t.Fatalf("missing config ExitCode = %d", got)
	}
	var report commissionReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if report.Present || report.ConfigPath != dev {
		t.Errorf("report = %+v", report)
	}

	if err := os.MkdirAll(filepath.Dir(dev), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dev, []byte(`{"ngc_ip":"10.0.0.1"}`), 0644); err != nil {
		t.Fatal(err)
	}
	out, _, err = execute(t, "commission", "--check", "--config", path)
	if err != nil {
		t.Fatalf("present config: %v", err)
	}
	if !strings.Contains(out, "ok "+dev) {
		t.Errorf("text = %q", out)
	}

	// Nothing is generated when the file exists.
	out, _, err = execute(t, "commission", "--config", path)
	if err != nil {
		t.Fatalf("commission: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("text = %q", out)
	}

	_, _, err = execute(t, "commission", "--check", "--force", "--config", path)
	if got := ExitCode(err); got != 2 {
		t.Errorf("--check --force ExitCode = %d, want 2", got)
	}
}

func TestCommissionMissingGenerator(t *testing.T) {
	path := writeTestConfig(t, `
[commission]
generator = "/nonexistent/GNBCommission"
`)
	_, _, err := execute(t, "commission", "--config", path)
	if err == nil {
		t.Fatal("expected error")
	}
	ce := output.AsCLIError(err)
	if ce.Code != "SPAWN_ERROR" || ce.Hint != output.HintGenerator {
		t.Errorf("error = %+v", ce)
	}
	if !strings.Contains(ce.Cause, "generator not found") {
		t.Errorf("cause = %q", ce.Cause)
	}
}

func TestSkipsConfig(t *testing.T) {
	find := func(args ...string) *cobra.Command {
		cmd, _, err := rootCmd.Find(args)
		if err != nil {
			t.Fatalf("Find(%v): %v", args, err)
		}
		return cmd
	}
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"version"}, true},
		{[]string{"config", "path"}, true},
		{[]string{"config", "init"}, true},
		{[]string{"config", "show"}, false},
		{[]string{"serve"}, false},
		{[]string{"run"}, false},
		{[]string{"status"}, false},
	}
	for _, tt := range tests {
		if got := skipsConfig(find(tt.args...)); got != tt.want {
			t.Errorf("skipsConfig(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"reported", &exitError{code: 1}, 1},
		{"busy", output.BusyError("start"), 3},
		{"unknown", output.UnknownActionError("x", nil), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	err := writeStatus(&buf, statusReport{
		Node: telemetry.NodeStatus{State: telemetry.StateInitialising, DUReady: true},
		Host: telemetry.HostStats{
			CPUUsage:   12.5,
			CPUTemp:    -1,
			RAMUsage:   40,
			RAMTotal:   7.7,
			DriveTotal: 100,
			DriveUsed:  25.5,
			DriveFree:  74.5,
			BoardDate:  "19 October 2026",
			BoardTime:  "10:00:00",
		},
		CoreIP:         "10.0.0.1",
		CoreConnection: telemetry.ConnectionDown,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{
		"Node:   INITIALISING (DU ready: yes, RF: down)",
		"Core:   10.0.0.1 DOWN",
		"12.5%",
		"40.0% of 7.7 GiB",
		"25.50 GiB used, 74.50 GiB free of 100.00 GiB",
		"19 October 2026 10:00:00",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "CPU temp") {
		t.Errorf("unavailable temperature should be omitted:\n%s", got)
	}
}
