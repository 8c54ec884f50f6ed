package output

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// CLIError is an error a command reports to the operator. Only Message is
// required; Code is stable for scripts and Hint names the next step.
type CLIError struct {
	Message  string
	Cause    string
	Hint     string
	Code     string
	ExitCode int // 0 means 1
}

func (e *CLIError) Error() string {
	if e.Cause == "" {
		return e.Message
	}
	return e.Message + ": " + e.Cause
}

// NewCLIError starts a CLIError. The With methods fill it in and return it.
func NewCLIError(msg string) *CLIError { return &CLIError{Message: msg} }

func (e *CLIError) WithCause(cause string) *CLIError {
	e.Cause = cause
	return e
}

func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

func (e *CLIError) WithCode(code string) *CLIError {
	e.Code = code
	return e
}

// WithExitCode sets the process exit status.
func (e *CLIError) WithExitCode(code int) *CLIError {
	e.ExitCode = code
	return e
}

// Status returns the exit status for e.
func (e *CLIError) Status() int {
	if e.ExitCode == 0 {
		return 1
	}
	return e.ExitCode
}

// Response converts e to its structured form.
func (e *CLIError) Response() ErrorResponse {
	return ErrorResponse{Error: e.Message, Code: e.Code, Details: e.Cause, Hint: e.Hint}
}

// AsCLIError returns err as a CLIError, wrapping plain errors.
func AsCLIError(err error) *CLIError {
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}
	return NewCLIError(err.Error())
}

// FormatCLIError renders e as the multi-line text shown on stderr. Labels
// are colored when color is set.
func FormatCLIError(e *CLIError, color bool) string {
	paint := func(text string, c lipgloss.TerminalColor, bold bool) string {
		if !color {
			return text
		}
		return lipgloss.NewStyle().Foreground(c).Bold(bold).Render(text)
	}

	head := paint("Error: ", colorError, true) + e.Message
	if e.Code != "" {
		head += " " + paint("["+e.Code+"]", colorMuted, false)
	}
	lines := []string{head}
	for _, row := range []struct {
		label, text string
		c           lipgloss.TerminalColor
	}{
		{"  Cause: ", e.Cause, colorSubtle},
		{"  Hint: ", e.Hint, colorInfo},
	} {
		if row.text != "" {
			lines = append(lines, paint(row.label, row.c, false)+row.text)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// PrintError writes err for a human on stderr, or as a structured document
// on stdout when the formatter is structured.
func (f *Formatter) PrintError(stderr io.Writer, err error) {
	ce := AsCLIError(err)
	if f.IsStructured() {
		_ = f.OutputData(ce.Response(), nil)
		return
	}
	fmt.Fprint(stderr, FormatCLIError(ce, useColor(stderr)))
}

// Hints attached to the errors commands return most often.
const (
	HintConfigNotFound   = "Run 'gnbdash config init' to create a default configuration"
	HintConfigInvalid    = "Check the file with 'gnbdash config show'"
	HintUnknownAction    = "Run 'gnbdash run --list' to see configured actions"
	HintBusy             = "Wait for the running action to finish, or set supervisor.policy = \"queue\""
	HintPermissionDenied = "Run as a user that can write the target path, or pass --config"
	HintGenerator        = "Check commission.generator and that the script runs by hand"
)

// UnknownActionError reports an action missing from the catalog.
func UnknownActionError(name string, known []string) *CLIError {
	return NewCLIError(fmt.Sprintf("unknown action '%s'", name)).
		WithCause("configured actions: " + strings.Join(known, ", ")).
		WithCode("UNKNOWN_ACTION").
		WithHint(HintUnknownAction).
		WithExitCode(2)
}

// BusyError reports a rejected concurrent run.
func BusyError(action string) *CLIError {
	return NewCLIError(fmt.Sprintf("action '%s' rejected: another run of this kind is in progress", action)).
		WithCode("BUSY").
		WithHint(HintBusy).
		WithExitCode(3)
}

// ConfigError reports a config file that cannot be loaded.
func ConfigError(path string, err error) *CLIError {
	hint := HintConfigInvalid
	if errors.Is(err, fs.ErrNotExist) {
		hint = HintConfigNotFound
	}
	return NewCLIError(fmt.Sprintf("cannot load config %s", path)).
		WithCause(err.Error()).
		WithCode("CONFIG").
		WithHint(hint)
}
