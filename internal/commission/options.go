package commission

import (
	"fmt"
	"strings"
	"time"

	"github.com/gnb-webdashboard/gnbdash/internal/devconfig"
	"github.com/gnb-webdashboard/gnbdash/internal/expect"
)

// Default prompt anchors for the commissioning tool.
const (
	DefaultTriggerPrompt  = `(?i)select\s+profile[^\n]*:`
	DefaultFinalPrompt    = `(?i)save\s+configuration[^\n]*:`
	DefaultFilenamePrompt = `(?i)(select output filename|enter[^\n]*filename|filename)[^\n]*:`
	DefaultColonPrompt    = `(?m)[^\n]*:[ \t\r]*$`
)

// Options parameterizes a generation run.
type Options struct {
	// Interpreter runs the generator script, e.g. "python3". Empty means
	// the generator is executed directly.
	Interpreter string
	// Dir is the working directory; defaults to the generator's directory.
	Dir string
	// ConfigPath is the file the generator is expected to produce.
	ConfigPath string

	TriggerPrompt  string
	FinalPrompt    string
	FilenamePrompt string
	ColonPrompt    string

	// Filename is typed at the filename prompt.
	Filename string
	// ClearBackspaces > 0 clears the pre-filled filename with that many
	// backspaces instead of Ctrl-U.
	ClearBackspaces int

	// DefaultField is injected with DefaultValue when the generated file
	// lacks it. Empty disables injection.
	DefaultField string
	DefaultValue string

	StepTimeout     time.Duration
	FilenameTimeout time.Duration
	Timeout         time.Duration
	StepBudget      int
	GracePeriod     time.Duration

	// TranscriptPath receives the raw generator output for each run.
	// Empty disables the transcript.
	TranscriptPath string
}

// DefaultOptions returns options matching the stock commissioning tool.
func DefaultOptions() Options {
	return Options{
		Interpreter:     "python3",
		ConfigPath:      devconfig.DefaultPath,
		TriggerPrompt:   DefaultTriggerPrompt,
		FinalPrompt:     DefaultFinalPrompt,
		FilenamePrompt:  DefaultFilenamePrompt,
		ColonPrompt:     DefaultColonPrompt,
		Filename:        "gnb_webdashboard",
		DefaultField:    "profile",
		DefaultValue:    "40MHz_MET_2x2",
		StepTimeout:     10 * time.Second,
		FilenameTimeout: 15 * time.Second,
		Timeout:         120 * time.Second,
		StepBudget:      50,
		GracePeriod:     5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConfigPath == "" {
		o.ConfigPath = d.ConfigPath
	}
	if o.TriggerPrompt == "" {
		o.TriggerPrompt = d.TriggerPrompt
	}
	if o.FinalPrompt == "" {
		o.FinalPrompt = d.FinalPrompt
	}
	if o.FilenamePrompt == "" {
		o.FilenamePrompt = d.FilenamePrompt
	}
	if o.ColonPrompt == "" {
		o.ColonPrompt = d.ColonPrompt
	}
	if o.Filename == "" {
		o.Filename = d.Filename
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = d.StepTimeout
	}
	if o.FilenameTimeout <= 0 {
		o.FilenameTimeout = d.FilenameTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.StepBudget <= 0 {
		o.StepBudget = d.StepBudget
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = d.GracePeriod
	}
	return o
}

// clearSequence returns the keystrokes that empty a pre-filled input line.
func (o Options) clearSequence() string {
	if o.ClearBackspaces > 0 {
		return strings.Repeat("\b", o.ClearBackspaces)
	}
	return "\x15" // Ctrl-U
}

type prompts struct {
	trigger  expect.Pattern
	final    expect.Pattern
	filename expect.Pattern
	colon    expect.Pattern
}

func compilePrompts(o Options) (prompts, error) {
	var p prompts
	for _, c := range []struct {
		dst  *expect.Pattern
		expr string
		name string
	}{
		{&p.trigger, o.TriggerPrompt, "trigger prompt"},
		{&p.final, o.FinalPrompt, "final prompt"},
		{&p.filename, o.FilenamePrompt, "filename prompt"},
		{&p.colon, o.ColonPrompt, "colon prompt"},
	} {
		pat, err := expect.Compile(c.expr)
		if err != nil {
			return prompts{}, fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = pat.Named(c.name)
	}
	return p, nil
}
