package supervisor

import (
	"fmt"
	"net/http"
	"time"
)

// OutcomeKind classifies how a supervised run ended.
type OutcomeKind int

const (
	// Completed: a oneshot action exited. The exit code is always 0.
	Completed OutcomeKind = iota
	// Success: the marker was seen in the log.
	Success
	// Timeout: the deadline elapsed first.
	Timeout
	// TerminatedUnexpectedly: the process exited without writing the marker.
	TerminatedUnexpectedly
	// ExecutionError: the process or its log could not be set up or read.
	ExecutionError
)

// String returns the string representation of the kind
func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case TerminatedUnexpectedly:
		return "terminated_unexpectedly"
	case ExecutionError:
		return "execution_error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one supervised run.
type Outcome struct {
	RunID     string
	Action    string
	Class     Class
	Kind      OutcomeKind
	ExitCode  int
	Output    string
	Details   string
	LogFile   string
	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether the run counts as successful.
func (o Outcome) OK() bool {
	return o.Kind == Completed || o.Kind == Success
}

// HTTPStatus maps the outcome to a response status.
func (o Outcome) HTTPStatus() int {
	switch o.Kind {
	case Completed, Success:
		return http.StatusOK
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body reported for an outcome.
type Response struct {
	Action   string `json:"action" yaml:"action"`
	Status   string `json:"status,omitempty" yaml:"status,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Details  string `json:"details,omitempty" yaml:"details,omitempty"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`
	LogFile  string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	RunID    string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Response builds the reported body.
func (o Outcome) Response() Response {
	r := Response{
		Action:   o.Action,
		Details:  o.Details,
		Output:   o.Output,
		LogFile:  o.LogFile,
		ExitCode: o.ExitCode,
		RunID:    o.RunID,
		Duration: o.Duration.Round(time.Millisecond).String(),
	}
	switch o.Kind {
	case Completed:
		r.Status = "completed"
	case Success:
		r.Status = "ok"
	case Timeout:
		r.Error = "timeout"
	case TerminatedUnexpectedly:
		r.Error = "process_terminated_unexpectedly"
	case ExecutionError:
		r.Error = "execution_error"
	}
	return r
}

// Summary is a one-line description for logs and the CLI.
func (o Outcome) Summary() string {
	s := fmt.Sprintf("%s: %s (exit %d, %s)", o.Action, o.Kind, o.ExitCode, o.Duration.Round(time.Millisecond))
	if o.Details != "" {
		s += ": " + o.Details
	}
	return s
}
