// Package output renders command results as styled text, JSON or YAML and
// reports CLI errors in the same three forms.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// FormatEnv selects the output format when no flag does.
const FormatEnv = "GNBDASH_OUTPUT_FORMAT"

// Format names an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func (f Format) String() string { return string(f) }

var formatNames = map[string]Format{
	"":     FormatText,
	"text": FormatText,
	"json": FormatJSON,
	"yaml": FormatYAML,
	"yml":  FormatYAML,
}

// ParseFormat maps a flag value to a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	if f, ok := formatNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return FormatText, fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

// DetectFormat picks the format from --json, then --format, then FormatEnv.
// An unparseable environment value falls back to text.
func DetectFormat(jsonFlag bool, formatFlag string) (Format, error) {
	switch {
	case jsonFlag:
		return FormatJSON, nil
	case formatFlag != "":
		return ParseFormat(formatFlag)
	}
	f, err := ParseFormat(os.Getenv(FormatEnv))
	if err != nil {
		return FormatText, nil
	}
	return f, nil
}

// Formatter writes command results in one Format.
type Formatter struct {
	format Format
	writer io.Writer
	pretty bool
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithFormat sets the format. The default is text.
func WithFormat(format Format) Option { return func(f *Formatter) { f.format = format } }

// WithWriter sets the destination. The default is stdout.
func WithWriter(w io.Writer) Option { return func(f *Formatter) { f.writer = w } }

// WithPretty controls JSON indentation. The default is indented.
func WithPretty(pretty bool) Option { return func(f *Formatter) { f.pretty = pretty } }

// New returns a Formatter.
func New(opts ...Option) *Formatter {
	f := &Formatter{format: FormatText, writer: os.Stdout, pretty: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsStructured reports whether output is JSON or YAML.
func (f *Formatter) IsStructured() bool { return f.format != FormatText }

// useColor reports whether w is a terminal that should get ANSI colors.
// NO_COLOR turns color off everywhere.
func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
