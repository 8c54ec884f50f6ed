// Package events records commissioning and action runs as JSON lines in a
// diagnostics file that keeps a bounded number of days. A nil Logger
// accepts and drops everything.
package events

import (
	"time"
)

// EventType represents the type of event being logged.
type EventType string

const (
	// Config generation events
	EventCommissionStart   EventType = "commission_start"
	EventCommissionStep    EventType = "commission_step"
	EventCommissionSend    EventType = "commission_send"
	EventCommissionWarning EventType = "commission_warning"
	EventCommissionDone    EventType = "commission_done"
	EventFieldInjected     EventType = "field_injected"

	// Supervised action events
	EventActionStart   EventType = "action_start"
	EventActionOutcome EventType = "action_outcome"
	EventActionBusy    EventType = "action_busy"

	// Configuration events
	EventConfigReload EventType = "config_reload"

	// Error events
	EventError EventType = "error"
)

// Event is one line of the diagnostics file.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Run       string                 `json:"run,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(eventType EventType, run string, data map[string]interface{}) *Event {
	return &Event{Timestamp: time.Now().UTC(), Type: eventType, Run: run, Data: data}
}

// StepData contains data for commission_step events.
type StepData struct {
	Step    int    `json:"step"`
	State   string `json:"state"`
	Outcome string `json:"outcome"`
	Pattern string `json:"pattern,omitempty"`
}

// SendData contains data for commission_send events.
type SendData struct {
	Step  int    `json:"step"`
	State string `json:"state"`
	Text  string `json:"text"`
}

// ActionData contains data for action_start and action_outcome events.
type ActionData struct {
	Action   string `json:"action"`
	Class    string `json:"class,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	ExitCode int    `json:"exit_code"`
	LogFile  string `json:"log_file,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ErrorData contains data for error events.
type ErrorData struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// ToMap flattens one of the *Data payloads into event data. Empty optional
// strings are left out. Unknown types yield nil.
func ToMap(v interface{}) map[string]interface{} {
	switch d := v.(type) {
	case StepData:
		return withOptional(map[string]interface{}{
			"step": d.Step, "state": d.State, "outcome": d.Outcome,
		}, "pattern", d.Pattern)
	case SendData:
		return map[string]interface{}{"step": d.Step, "state": d.State, "text": d.Text}
	case ActionData:
		return withOptional(map[string]interface{}{
			"action": d.Action, "exit_code": d.ExitCode,
		}, "class", d.Class, "outcome", d.Outcome, "log_file", d.LogFile, "duration", d.Duration)
	case ErrorData:
		return map[string]interface{}{"error_type": d.ErrorType, "message": d.Message}
	case map[string]interface{}:
		return d
	}
	return nil
}

// withOptional sets each non-empty value of the key/value pairs kv on m.
func withOptional(m map[string]interface{}, kv ...string) map[string]interface{} {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			m[kv[i]] = kv[i+1]
		}
	}
	return m
}
