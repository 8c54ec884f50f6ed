package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeHost struct {
	mu      sync.Mutex
	cpu     []float64
	calls   int
	mem     Memory
	disk    Disk
	temp    float64
	tempErr error
	diskErr error
	path    string
}

func (f *fakeHost) CPUPercent(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.cpu[f.calls%len(f.cpu)]
	f.calls++
	return v, nil
}

func (f *fakeHost) Memory(context.Context) (Memory, error) { return f.mem, nil }

func (f *fakeHost) Disk(_ context.Context, path string) (Disk, error) {
	f.path = path
	return f.disk, f.diskErr
}

func (f *fakeHost) Temperature(context.Context) (float64, error) { return f.temp, f.tempErr }

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	out   string
	err   error
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name, args})
	return []byte(f.out), f.err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "du_log.txt")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCombineState(t *testing.T) {
	tests := []struct {
		du, rf bool
		want   NodeState
	}{
		{true, true, StateRunning},
		{true, false, StateInitialising},
		{false, true, StateInitialising},
		{false, false, StateOff},
	}
	for _, tt := range tests {
		if got := CombineState(tt.du, tt.rf); got != tt.want {
			t.Errorf("CombineState(%v, %v) = %s, want %s", tt.du, tt.rf, got, tt.want)
		}
	}
}

func TestLastLine(t *testing.T) {
	long := strings.Repeat("x", 10000) + "\nlast line\n"
	tests := []struct {
		name string
		body string
		want string
	}{
		{"single", "CELL_IS_UP, CELL_ID:1", "CELL_IS_UP, CELL_ID:1"},
		{"trailing newlines", "a\nb\n\n\n", "b"},
		{"crlf", "a\r\nCELL_IS_UP, CELL_ID:1\r\n", "CELL_IS_UP, CELL_ID:1"},
		{"empty", "", ""},
		{"longer than window", long, "last line"},
		{"padded", "a\n  b  \n", "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LastLine(writeFile(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("LastLine() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := LastLine(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LastLine(missing) = %v, want ErrNotExist", err)
	}
}

func TestDUReady(t *testing.T) {
	tests := []struct {
		name string
		body *string
		want bool
	}{
		{"ready", ptr("boot\nCELL_IS_UP, CELL_ID:1\n"), true},
		{"not last line", ptr("CELL_IS_UP, CELL_ID:1\nCELL_DOWN\n"), false},
		{"other cell", ptr("CELL_IS_UP, CELL_ID:2\n"), false},
		{"missing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "du_log.txt")
			if tt.body != nil {
				path = writeFile(t, *tt.body)
			}
			p := New(Options{DULog: path}, WithHostReader(&fakeHost{cpu: []float64{0}}), WithRunner(&fakeRunner{}))
			got, err := p.DUReady()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DUReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestRFUp(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
		want bool
	}{
		{"status output", "rfmgr: state=ACTIVE\n", nil, true},
		{"error response", "Error Response Received from rfmgr\n", nil, false},
		{"error response with exit status", "error response received", errors.New("exit status 1"), false},
		{"not runnable", "", errors.New("executable file not found"), false},
		{"non-zero with output", "state=ACTIVE", errors.New("exit status 2"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{out: tt.out, err: tt.err}
			p := New(Options{}, WithHostReader(&fakeHost{cpu: []float64{0}}), WithRunner(r))
			if got := p.RFUp(context.Background()); got != tt.want {
				t.Errorf("RFUp() = %v, want %v", got, tt.want)
			}
			if len(r.calls) != 1 || r.calls[0].name != "/raptor/bin/utility" || r.calls[0].args[0] != "--getRfmgrStatus" {
				t.Errorf("calls = %+v", r.calls)
			}
		})
	}
}

func TestNodeStatus(t *testing.T) {
	path := writeFile(t, "CELL_IS_UP, CELL_ID:1\n")
	r := &fakeRunner{out: "error response received"}
	p := New(Options{DULog: path}, WithHostReader(&fakeHost{cpu: []float64{0}}), WithRunner(r))

	got := p.NodeStatus(context.Background())
	want := NodeStatus{State: StateInitialising, DUReady: true, RFUp: false}
	if got != want {
		t.Errorf("NodeStatus() = %+v, want %+v", got, want)
	}

	r.out = "ok"
	if got := p.NodeStatus(context.Background()); got.State != StateRunning {
		t.Errorf("NodeStatus().State = %s, want RUNNING", got.State)
	}
}

func TestPing(t *testing.T) {
	r := &fakeRunner{}
	p := New(Options{PingTimeout: 300 * time.Millisecond}, WithHostReader(&fakeHost{cpu: []float64{0}}), WithRunner(r))

	if got := p.Ping(context.Background(), "10.0.0.1"); got != ConnectionUp {
		t.Errorf("Ping() = %s, want UP", got)
	}
	want := call{"ping", []string{"-c", "1", "-W", "0.3", "10.0.0.1"}}
	if !reflect.DeepEqual(r.calls[0], want) {
		t.Errorf("ping call = %+v, want %+v", r.calls[0], want)
	}

	r.err = errors.New("exit status 1")
	if got := p.Ping(context.Background(), "10.0.0.1"); got != ConnectionDown {
		t.Errorf("Ping() = %s, want DOWN", got)
	}
	if got := p.Ping(context.Background(), ""); got != ConnectionDown {
		t.Errorf("Ping(\"\") = %s, want DOWN", got)
	}
	if len(r.calls) != 2 {
		t.Errorf("empty host ran ping")
	}
}

func TestHost(t *testing.T) {
	host := &fakeHost{
		cpu:  []float64{12.34, 56.78},
		mem:  Memory{UsedPercent: 41.26, Total: 8 << 30},
		disk: Disk{Total: 100 << 30, Used: 25 << 30, Free: 75 << 30},
		temp: 54.321,
	}
	clock := func() time.Time { return time.Date(2025, time.March, 7, 9, 5, 3, 0, time.UTC) }
	p := New(Options{DiskPath: "/data", HistorySize: 3}, WithHostReader(host), WithRunner(&fakeRunner{}), WithClock(clock))

	got, err := p.Host(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := HostStats{
		CPUUsage:        12.3,
		CPUUsageHistory: []float64{12.3},
		CPUTemp:         54.3,
		RAMUsage:        41.3,
		RAMUsageHistory: []float64{41.3},
		RAMTotal:        8,
		DriveTotal:      100,
		DriveUsed:       25,
		DriveFree:       75,
		BoardDate:       "07 March 2025",
		BoardTime:       "09:05:03",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Host() =\n%+v\nwant\n%+v", got, want)
	}
	if host.path != "/data" {
		t.Errorf("disk path = %q", host.path)
	}

	got, err = p.Host(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.CPUUsageHistory, []float64{12.3, 56.8}) {
		t.Errorf("cpu history = %v", got.CPUUsageHistory)
	}
}

func TestHostTemperatureUnavailable(t *testing.T) {
	host := &fakeHost{cpu: []float64{1}, tempErr: ErrNoTemperature}
	p := New(Options{}, WithHostReader(host), WithRunner(&fakeRunner{}))
	got, err := p.Host(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.CPUTemp != -1 {
		t.Errorf("CPUTemp = %v, want -1", got.CPUTemp)
	}
}

func TestHostDiskError(t *testing.T) {
	host := &fakeHost{cpu: []float64{1}, diskErr: errors.New("statfs failed")}
	p := New(Options{}, WithHostReader(host), WithRunner(&fakeRunner{}))
	if _, err := p.Host(context.Background()); err == nil {
		t.Fatal("Host() succeeded with disk error")
	}
}

func TestRunSamples(t *testing.T) {
	host := &fakeHost{cpu: []float64{10, 20, 30}, mem: Memory{UsedPercent: 50}}
	p := New(Options{SampleInterval: 10 * time.Millisecond, HistorySize: 5}, WithHostReader(host), WithRunner(&fakeRunner{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(80 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if n := p.cpu.Len(); n < 2 {
		t.Errorf("cpu history has %d samples, want >= 2", n)
	}
	if n := p.ram.Len(); n != p.cpu.Len() {
		t.Errorf("ram history %d samples, cpu %d", n, p.cpu.Len())
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	if got := h.Values(); len(got) != 0 {
		t.Errorf("empty Values() = %v", got)
	}
	h.Add(1)
	h.Add(2)
	if got := h.Values(); !reflect.DeepEqual(got, []float64{1, 2}) {
		t.Errorf("Values() = %v", got)
	}
	h.Add(3)
	h.Add(4)
	h.Add(5)
	if got := h.Values(); !reflect.DeepEqual(got, []float64{3, 4, 5}) {
		t.Errorf("Values() after wrap = %v", got)
	}
	if h.Len() != 3 {
		t.Errorf("Len() = %d", h.Len())
	}

	if NewHistory(0).Len() != 0 {
		t.Error("NewHistory(0) not empty")
	}
}

func TestDefaults(t *testing.T) {
	p := New(Options{}, WithRunner(&fakeRunner{}))
	o := p.Options()
	if o.DUReadyLine != "CELL_IS_UP, CELL_ID:1" || o.DULog != "/logdump/du_log.txt" {
		t.Errorf("options = %+v", o)
	}
	if o.HistorySize != 20 || o.PingTimeout != 300*time.Millisecond {
		t.Errorf("options = %+v", o)
	}
}
