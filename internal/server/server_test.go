package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gnb-webdashboard/gnbdash/internal/commission"
	"github.com/gnb-webdashboard/gnbdash/internal/devconfig"
	"github.com/gnb-webdashboard/gnbdash/internal/supervisor"
	"github.com/gnb-webdashboard/gnbdash/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeActions struct {
	mu   sync.Mutex
	reqs []supervisor.Request
	out  supervisor.Outcome
	err  error
}

func (f *fakeActions) Run(_ context.Context, req supervisor.Request) (supervisor.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return supervisor.Outcome{}, f.err
	}
	out := f.out
	out.Action = req.Action
	return out, nil
}

type fakeEnsurer struct {
	path     string
	body     string
	err      error
	commands []string
}

func (f *fakeEnsurer) EnsureConfig(_ context.Context, command string) (*commission.Result, error) {
	f.commands = append(f.commands, command)
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(f.path); err == nil {
		return nil, nil
	}
	if err := os.WriteFile(f.path, []byte(f.body), 0644); err != nil {
		return nil, err
	}
	return &commission.Result{ConfigPath: f.path}, nil
}

type fakeProbe struct {
	status  telemetry.NodeStatus
	host    telemetry.HostStats
	hostErr error
	pinged  []string
}

func (f *fakeProbe) NodeStatus(context.Context) telemetry.NodeStatus { return f.status }

func (f *fakeProbe) Host(context.Context) (telemetry.HostStats, error) { return f.host, f.hostErr }

func (f *fakeProbe) Ping(_ context.Context, host string) telemetry.Connection {
	f.pinged = append(f.pinged, host)
	if host == "10.0.0.2" {
		return telemetry.ConnectionUp
	}
	return telemetry.ConnectionDown
}

const deviceJSON = `{
    "gNBId": "0x19B",
    "gNBIdLength": 22,
    "band": "n78",
    "scs": 30,
    "txMaxPower": 20,
    "dl_centre_freq": 3750000,
    "n2_local_ip": "10.0.0.1",
    "n2_remote_ip": "10.0.0.2",
    "n3_remote_ip": "10.0.0.3",
    "MCC": "001",
    "MNC": "01",
    "cellLocalId": 1,
    "nrTAC": 1,
    "sst": 1,
    "sd": "000001"
}`

type harness struct {
	srv     *Server
	actions *fakeActions
	ensurer *fakeEnsurer
	probe   *fakeProbe
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		actions: &fakeActions{},
		ensurer: &fakeEnsurer{path: filepath.Join(dir, "gnb_webdashboard.json"), body: deviceJSON},
		probe:   &fakeProbe{},
		dir:     dir,
	}
	h.srv = New(Options{
		AllowedOrigins: []string{"*"},
		ConfigPath:     h.ensurer.path,
		Generator:      "/opt/ste/active/commissioning/GNBCommission",
		Downloads:      map[string]string{"du_log": filepath.Join(dir, "du_log.txt")},
	}, h.actions, h.ensurer, h.probe, WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("gnbdash_up 1\n"))
	})))
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
	}
	return m
}

func TestSetupScript(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		out        supervisor.Outcome
		err        error
		wantStatus int
		wantKey    string
		wantValue  any
	}{
		{
			name:       "success",
			body:       `{"action":"start"}`,
			out:        supervisor.Outcome{Kind: supervisor.Success, Class: supervisor.ClassStart, Output: "CELL_IS_UP"},
			wantStatus: http.StatusOK,
			wantKey:    "status",
			wantValue:  "ok",
		},
		{
			name:       "timeout",
			body:       `{"action":"start"}`,
			out:        supervisor.Outcome{Kind: supervisor.Timeout, Class: supervisor.ClassStart, ExitCode: -1},
			wantStatus: http.StatusGatewayTimeout,
			wantKey:    "error",
			wantValue:  "timeout",
		},
		{
			name:       "terminated",
			body:       `{"action":"start"}`,
			out:        supervisor.Outcome{Kind: supervisor.TerminatedUnexpectedly, Class: supervisor.ClassStart, ExitCode: 3},
			wantStatus: http.StatusInternalServerError,
			wantKey:    "error",
			wantValue:  "process_terminated_unexpectedly",
		},
		{
			name:       "unknown action",
			body:       `{"action":"reboot"}`,
			err:        supervisor.ErrUnknownAction,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "Unknown action 'reboot'",
		},
		{
			name:       "empty body",
			body:       "",
			err:        supervisor.ErrUnknownAction,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "Unknown action ''",
		},
		{
			name:       "busy",
			body:       `{"action":"start"}`,
			err:        supervisor.ErrBusy,
			wantStatus: http.StatusConflict,
			wantKey:    "status",
			wantValue:  "busy",
		},
		{
			name:       "cancelled while queued",
			body:       `{"action":"start"}`,
			err:        context.Canceled,
			wantStatus: http.StatusServiceUnavailable,
			wantKey:    "error",
			wantValue:  "context canceled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.actions.out = tt.out
			h.actions.err = tt.err

			w := h.do(t, http.MethodPost, "/api/setup_script", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decode(t, w)[tt.wantKey]; got != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, got, tt.wantValue)
			}
		})
	}
}

func TestSetupScriptTimeout(t *testing.T) {
	h := newHarness(t)
	h.actions.out = supervisor.Outcome{Kind: supervisor.Completed, Class: supervisor.ClassOneshot}

	w := h.do(t, http.MethodPost, "/api/setup_script", `{"action":"status","timeout":"30s"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := h.actions.reqs[0].Deadline; got != 30*time.Second {
		t.Errorf("Deadline = %v, want 30s", got)
	}

	w = h.do(t, http.MethodPost, "/api/setup_script", `{"action":"status","timeout":"soon"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad timeout status = %d, want 400", w.Code)
	}
	if len(h.actions.reqs) != 1 {
		t.Errorf("bad timeout still ran the action")
	}
}

func TestNodeStatus(t *testing.T) {
	h := newHarness(t)
	h.probe.status = telemetry.NodeStatus{State: telemetry.StateInitialising, DUReady: true}

	w := h.do(t, http.MethodGet, "/api/node_status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode(t, w)["node_status"]; got != "INITIALISING" {
		t.Errorf("node_status = %v", got)
	}
}

func TestAttributes(t *testing.T) {
	h := newHarness(t)
	h.probe.host = telemetry.HostStats{CPUUsage: 12.5, CPUUsageHistory: []float64{12.5}, BoardDate: "07 March 2025"}

	w := h.do(t, http.MethodGet, "/api/attributes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	m := decode(t, w)
	want := map[string]any{
		"gnb_id":              "0x19B",
		"gnb_id_length":       "22",
		"nr_band":             "n78",
		"tx_power":            "20",
		"frequency_down_link": "3750000",
		"ip_address_ngc":      "10.0.0.2",
		"MCC":                 "001",
		"cell_id":             "1",
		"cpu_usage":           12.5,
		"board_date":          "07 March 2025",
		"core_connection":     "UP",
		"profile":             "",
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %#v, want %#v", k, m[k], v)
		}
	}
	if len(h.ensurer.commands) != 1 || h.ensurer.commands[0] != "/opt/ste/active/commissioning/GNBCommission" {
		t.Errorf("EnsureConfig commands = %v", h.ensurer.commands)
	}
	if len(h.probe.pinged) != 1 || h.probe.pinged[0] != "10.0.0.2" {
		t.Errorf("pinged = %v", h.probe.pinged)
	}
}

func TestAttributesErrors(t *testing.T) {
	t.Run("ensure fails", func(t *testing.T) {
		h := newHarness(t)
		h.ensurer.err = &commission.GenerationError{Kind: commission.KindPostCheckMissingArtifact}
		w := h.do(t, http.MethodGet, "/api/attributes", "")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", w.Code)
		}
		if msg, _ := decode(t, w)["error"].(string); !strings.HasPrefix(msg, "Failed to get attributes") {
			t.Errorf("error = %q", msg)
		}
	})
	t.Run("host fails", func(t *testing.T) {
		h := newHarness(t)
		h.probe.hostErr = errors.New("statfs failed")
		w := h.do(t, http.MethodGet, "/api/attributes", "")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestSetConfig(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/config", `{"field":"tx_power","value":23}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	m := decode(t, w)
	if m["status"] != "success" || m["message"] != "Updated tx_power to 23" {
		t.Errorf("body = %v", m)
	}
	doc, err := devconfig.Read(h.ensurer.path)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.String("txMaxPower"); got != "23" {
		t.Errorf("txMaxPower = %q, want 23", got)
	}

	w = h.do(t, http.MethodPost, "/api/config", `{"field":"MCC","value":"999"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("string value status = %d", w.Code)
	}
	doc, _ = devconfig.Read(h.ensurer.path)
	if got := doc.String("MCC"); got != "999" {
		t.Errorf("MCC = %q", got)
	}
}

func TestSetConfigErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"unknown field", `{"field":"warp_drive","value":"on"}`, http.StatusBadRequest},
		{"missing field", `{"value":"1"}`, http.StatusBadRequest},
		{"missing value", `{"field":"MCC"}`, http.StatusBadRequest},
		{"object value", `{"field":"MCC","value":{"a":1}}`, http.StatusBadRequest},
		{"not json", `field=MCC`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(t, http.MethodPost, "/api/config", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if decode(t, w)["status"] != "error" {
				t.Errorf("status field not error: %s", w.Body.String())
			}
		})
	}
}

func TestRawValue(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`"abc"`, "abc", false},
		{`42`, "42", false},
		{` 3.5 `, "3.5", false},
		{`true`, "true", false},
		{`null`, "", true},
		{``, "", true},
		{`[1]`, "", true},
	}
	for _, tt := range tests {
		got, err := rawValue(json.RawMessage(tt.in))
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("rawValue(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDownload(t *testing.T) {
	h := newHarness(t)
	logPath := filepath.Join(h.dir, "du_log.txt")

	w := h.do(t, http.MethodGet, "/api/download/du_log", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing file status = %d", w.Code)
	}
	if msg, _ := decode(t, w)["error"].(string); !strings.Contains(msg, "File not found on server") {
		t.Errorf("error = %q", msg)
	}

	if err := os.WriteFile(logPath, []byte("CELL_IS_UP, CELL_ID:1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	w = h.do(t, http.MethodGet, "/api/download/du_log", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "du_log.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("CELL_IS_UP")) {
		t.Errorf("body = %q", w.Body.String())
	}

	w = h.do(t, http.MethodGet, "/api/download/cu_log", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown key status = %d", w.Code)
	}
	if msg, _ := decode(t, w)["error"].(string); msg != "Unknown file key 'cu_log'" {
		t.Errorf("error = %q", msg)
	}

	h.srv.SetDownloads(map[string]string{"cu_log": logPath})
	if w := h.do(t, http.MethodGet, "/api/download/cu_log", ""); w.Code != http.StatusOK {
		t.Errorf("after SetDownloads status = %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/download/du_log", ""); w.Code != http.StatusNotFound {
		t.Errorf("removed key status = %d", w.Code)
	}
}

func TestMetricsAndCORS(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "gnbdash_up") {
		t.Errorf("metrics = %d %q", w.Code, w.Body.String())
	}

	r := httptest.NewRequest(http.MethodOptions, "/api/node_status", nil)
	r.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSAllowList(t *testing.T) {
	handler := gin.New()
	handler.Use(cors([]string{"http://ok.local"}))
	handler.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for origin, want := range map[string]string{"http://ok.local": "http://ok.local", "http://evil.local": ""} {
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		r.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: Allow-Origin = %q, want %q", origin, got, want)
		}
	}
}

func TestRunShutsDown(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, &fakeActions{}, &fakeEnsurer{}, &fakeProbe{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// slowActions finishes after delay unless its context ends first.
type slowActions struct {
	delay time.Duration
	seen  chan error
}

func (f *slowActions) Run(ctx context.Context, req supervisor.Request) (supervisor.Outcome, error) {
	select {
	case <-time.After(f.delay):
		f.seen <- nil
		return supervisor.Outcome{Action: req.Action, Class: supervisor.ClassStart, Kind: supervisor.Success}, nil
	case <-ctx.Done():
		f.seen <- ctx.Err()
		return supervisor.Outcome{Action: req.Action, Class: supervisor.ClassStart, Kind: supervisor.Timeout}, nil
	}
}

func TestSetupScriptOutlivesClient(t *testing.T) {
	actions := &slowActions{delay: 200 * time.Millisecond, seen: make(chan error, 1)}
	srv := New(Options{}, actions, &fakeEnsurer{}, &fakeProbe{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodPost, "/api/setup_script", strings.NewReader(`{"action":"start"}`)).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(httptest.NewRecorder(), r)

	if err := <-actions.seen; err != nil {
		t.Errorf("run ended with %v after the client left, want it to finish", err)
	}
}

func TestShutdownCancelsRunningAction(t *testing.T) {
	actions := &slowActions{delay: 10 * time.Second, seen: make(chan error, 1)}
	srv := New(Options{}, actions, &fakeEnsurer{}, &fakeProbe{})

	r := httptest.NewRequest(http.MethodPost, "/api/setup_script", strings.NewReader(`{"action":"start"}`))
	r.Header.Set("Content-Type", "application/json")
	go srv.Handler().ServeHTTP(httptest.NewRecorder(), r)

	time.Sleep(50 * time.Millisecond)
	srv.stop()
	select {
	case err := <-actions.seen:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run ended with %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not reach the running action")
	}
}

// blockingEnsurer reports whether its context ended while generating.
type blockingEnsurer struct {
	fakeEnsurer
	delay time.Duration
	seen  chan error
}

func (f *blockingEnsurer) EnsureConfig(ctx context.Context, command string) (*commission.Result, error) {
	select {
	case <-time.After(f.delay):
		f.seen <- nil
	case <-ctx.Done():
		f.seen <- ctx.Err()
		return nil, ctx.Err()
	}
	return f.fakeEnsurer.EnsureConfig(ctx, command)
}

func TestConfigGenerationOutlivesClient(t *testing.T) {
	dir := t.TempDir()
	ensurer := &blockingEnsurer{
		fakeEnsurer: fakeEnsurer{path: filepath.Join(dir, "gnb_webdashboard.json"), body: deviceJSON},
		delay:       200 * time.Millisecond,
		seen:        make(chan error, 1),
	}
	srv := New(Options{ConfigPath: ensurer.path}, &fakeActions{}, ensurer, &fakeProbe{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodGet, "/api/attributes", nil).WithContext(ctx)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), r)

	if err := <-ensurer.seen; err != nil {
		t.Errorf("generation ended with %v after the client left", err)
	}
	if _, err := os.Stat(ensurer.path); err != nil {
		t.Errorf("config not generated: %v", err)
	}
}
