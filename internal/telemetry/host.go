package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

const gib = 1 << 30

// ErrNoTemperature is returned when no temperature sensor can be read.
var ErrNoTemperature = errors.New("no temperature sensor readable")

// Memory is a RAM reading.
type Memory struct {
	UsedPercent float64
	Total       uint64
}

// Disk is a filesystem usage reading in bytes.
type Disk struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// HostReader reads raw host statistics.
type HostReader interface {
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (Memory, error)
	Disk(ctx context.Context, path string) (Disk, error)
	Temperature(ctx context.Context) (float64, error)
}

type psHost struct {
	interval time.Duration
}

// NewHostReader returns a HostReader backed by gopsutil. CPU usage is
// measured over interval.
func NewHostReader(interval time.Duration) HostReader {
	return psHost{interval: interval}
}

func (h psHost) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, h.interval, false)
	if err != nil {
		return 0, fmt.Errorf("reading cpu usage: %w", err)
	}
	if len(pct) == 0 {
		return 0, errors.New("reading cpu usage: no samples")
	}
	return pct[0], nil
}

func (psHost) Memory(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, fmt.Errorf("reading memory: %w", err)
	}
	return Memory{UsedPercent: vm.UsedPercent, Total: vm.Total}, nil
}

func (psHost) Disk(ctx context.Context, path string) (Disk, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Disk{}, fmt.Errorf("reading disk usage of %s: %w", path, err)
	}
	return Disk{Total: u.Total, Used: u.Used, Free: u.Free}, nil
}

// Temperature returns the first hwmon reading, preferring CPU package and
// SoC sensors. gopsutil reports partial failures as warnings; any usable
// reading wins over them.
func (psHost) Temperature(ctx context.Context) (float64, error) {
	temps, err := sensors.TemperaturesWithContext(ctx)
	if len(temps) == 0 {
		if err != nil {
			return 0, fmt.Errorf("reading temperature: %w", err)
		}
		return 0, ErrNoTemperature
	}
	for _, pref := range []string{"package", "soc", "cpu", "core"} {
		for _, t := range temps {
			if strings.Contains(strings.ToLower(t.SensorKey), pref) && t.Temperature > 0 {
				return t.Temperature, nil
			}
		}
	}
	for _, t := range temps {
		if t.Temperature > 0 {
			return t.Temperature, nil
		}
	}
	return 0, ErrNoTemperature
}

// HostStats is the host half of the dashboard attributes.
type HostStats struct {
	CPUUsage        float64   `json:"cpu_usage" yaml:"cpu_usage"`
	CPUUsageHistory []float64 `json:"cpu_usage_history" yaml:"cpu_usage_history"`
	CPUTemp         float64   `json:"cpu_temp" yaml:"cpu_temp"`
	RAMUsage        float64   `json:"ram_usage" yaml:"ram_usage"`
	RAMUsageHistory []float64 `json:"ram_usage_history" yaml:"ram_usage_history"`
	RAMTotal        float64   `json:"ram_total" yaml:"ram_total"`
	DriveTotal      float64   `json:"drive_total" yaml:"drive_total"`
	DriveUsed       float64   `json:"drive_used" yaml:"drive_used"`
	DriveFree       float64   `json:"drive_free" yaml:"drive_free"`
	BoardDate       string    `json:"board_date" yaml:"board_date"`
	BoardTime       string    `json:"board_time" yaml:"board_time"`
}

// Host reads current host statistics and records the CPU and RAM readings
// in the usage histories. An unreadable temperature is reported as -1.
func (p *Prober) Host(ctx context.Context) (HostStats, error) {
	cpuPct, err := p.host.CPUPercent(ctx)
	if err != nil {
		return HostStats{}, err
	}
	memory, err := p.host.Memory(ctx)
	if err != nil {
		return HostStats{}, err
	}
	du, err := p.host.Disk(ctx, p.opts.DiskPath)
	if err != nil {
		return HostStats{}, err
	}
	temp, err := p.host.Temperature(ctx)
	if err != nil {
		p.logger.Debug("temperature unavailable", "error", err)
		temp = -1
	}

	cpuPct = round(cpuPct, 1)
	ramPct := round(memory.UsedPercent, 1)
	p.cpu.Add(cpuPct)
	p.ram.Add(ramPct)

	now := p.now()
	return HostStats{
		CPUUsage:        cpuPct,
		CPUUsageHistory: p.cpu.Values(),
		CPUTemp:         round(temp, 1),
		RAMUsage:        ramPct,
		RAMUsageHistory: p.ram.Values(),
		RAMTotal:        round(float64(memory.Total)/gib, 1),
		DriveTotal:      round(float64(du.Total)/gib, 2),
		DriveUsed:       round(float64(du.Used)/gib, 2),
		DriveFree:       round(float64(du.Free)/gib, 2),
		BoardDate:       now.Format("02 January 2006"),
		BoardTime:       now.Format("15:04:05"),
	}, nil
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
