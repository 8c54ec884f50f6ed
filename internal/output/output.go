package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// Result represents a command result that can be output in multiple formats
type Result interface {
	// Text writes the human-readable representation
	Text(w io.Writer) error
	// Data returns the value serialised for JSON and YAML
	Data() any
}

// Output writes a Result in the appropriate format
func (f *Formatter) Output(r Result) error {
	return f.OutputData(r.Data(), r.Text)
}

// OutputData encodes data for structured formats, or calls textFn
func (f *Formatter) OutputData(data any, textFn func(w io.Writer) error) error {
	switch f.format {
	case FormatJSON:
		return WriteJSON(f.writer, data, f.pretty)
	case FormatYAML:
		return WriteYAML(f.writer, data)
	default:
		return textFn(f.writer)
	}
}

// WriteJSON writes data as JSON to the given writer
func WriteJSON(w io.Writer, v any, pretty bool) error {
	encoder := json.NewEncoder(w)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

// WriteYAML writes data as YAML to the given writer
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
