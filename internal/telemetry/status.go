package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// NodeState is the overall gNB state shown on the dashboard.
type NodeState string

const (
	StateRunning      NodeState = "RUNNING"      // DU up and radio transmitting
	StateInitialising NodeState = "INITIALISING" // exactly one of the two is up
	StateOff          NodeState = "OFF"
)

// Connection is the reachability of the core network.
type Connection string

const (
	ConnectionUp   Connection = "UP"
	ConnectionDown Connection = "DOWN"
)

// rfDownMarker in the RF manager status output means the radio is not
// transmitting.
const rfDownMarker = "error response received"

// lastLineWindow bounds how much of the DU log is read to find its last line.
const lastLineWindow = 4096

// NodeStatus is the result of a node status probe.
type NodeStatus struct {
	State   NodeState `json:"node_status" yaml:"node_status"`
	DUReady bool      `json:"du_ready" yaml:"du_ready"`
	RFUp    bool      `json:"rf_up" yaml:"rf_up"`
}

// CombineState derives the node state from the DU and RF checks.
func CombineState(duReady, rfUp bool) NodeState {
	switch {
	case duReady && rfUp:
		return StateRunning
	case duReady != rfUp:
		return StateInitialising
	default:
		return StateOff
	}
}

// NodeStatus checks the DU log and the RF manager.
func (p *Prober) NodeStatus(ctx context.Context) NodeStatus {
	du, err := p.DUReady()
	if err != nil {
		p.logger.Debug("du log check failed", "path", p.opts.DULog, "error", err)
	}
	rf := p.RFUp(ctx)
	return NodeStatus{State: CombineState(du, rf), DUReady: du, RFUp: rf}
}

// DUReady reports whether the last line of the DU log is the ready line.
// A missing log means not ready.
func (p *Prober) DUReady() (bool, error) {
	line, err := LastLine(p.opts.DULog)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return line == p.opts.DUReadyLine, nil
}

// RFUp runs the RF manager status command. The radio is down when the
// command cannot run or reports an error response.
func (p *Prober) RFUp(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RFStatusTimeout)
	defer cancel()

	cmd := p.opts.RFStatusCommand
	out, err := p.runner.Run(ctx, cmd[0], cmd[1:]...)
	if err != nil && len(out) == 0 {
		p.logger.Debug("rf status command failed", "command", cmd[0], "error", err)
		return false
	}
	if strings.Contains(strings.ToLower(string(out)), rfDownMarker) {
		return false
	}
	return true
}

// Ping sends one ICMP echo to host and reports whether it was answered
// within PingTimeout.
func (p *Prober) Ping(ctx context.Context, host string) Connection {
	if host == "" {
		return ConnectionDown
	}
	wait := strconv.FormatFloat(p.opts.PingTimeout.Seconds(), 'f', -1, 64)
	ctx, cancel := context.WithTimeout(ctx, p.opts.PingTimeout+2*time.Second)
	defer cancel()
	if _, err := p.runner.Run(ctx, "ping", "-c", "1", "-W", wait, host); err != nil {
		return ConnectionDown
	}
	return ConnectionUp
}

// LastLine returns the last non-empty line of the file, trimmed.
func LastLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	start := info.Size() - lastLineWindow
	if start < 0 {
		start = 0
	}
	buf := make([]byte, info.Size()-start)
	if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
		return "", err
	}

	buf = bytes.TrimRight(buf, " \t\r\n")
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		buf = buf[i+1:]
	}
	return strings.TrimSpace(string(buf)), nil
}
